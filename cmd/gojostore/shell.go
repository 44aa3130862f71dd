package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"github.com/sushant-115/gojostore/pkg/client"
	"github.com/sushant-115/gojostore/pkg/connection"
	"github.com/sushant-115/gojostore/pkg/transport"
)

func newShellCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive client for a running server",
		Args:  cobra.NoArgs,
		RunE:  runShellCommand,
	}
	cmd.Flags().String("addr", "", "Server address (overrides server.addr)")
	cmd.Flags().Duration("timeout", 5*time.Second, "Dial timeout")
	return cmd
}

func runShellCommand(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()
	addr := cfg.Server.Addr
	if cmd.Flags().Changed("addr") {
		addr, _ = cmd.Flags().GetString("addr")
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")

	pool := connection.NewConnectionPoolManager(1, timeout)
	defer pool.Close()
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	c, err := client.Dial(ctx, pool, addr)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer c.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "gojostore> ",
		HistoryFile:       historyFile(),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	return shellLoop(rl, c, rl.Stdout())
}

// shellLoop sends every line to the server until exit, EOF or ^C.
func shellLoop(rl *readline.Instance, c *client.Client, out io.Writer) error {
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "help":
			fmt.Fprintln(out, "Commands:")
			fmt.Fprintln(out, "  begin [rc|rr]")
			fmt.Fprintln(out, "  commit")
			fmt.Fprintln(out, "  abort")
			fmt.Fprintln(out, "  insert <value>")
			fmt.Fprintln(out, "  read <uid>")
			fmt.Fprintln(out, "  delete <uid>")
			fmt.Fprintln(out, "  exit / quit")
			continue
		}

		res, err := c.Execute([]byte(line))
		if err != nil {
			var remote *transport.RemoteError
			if !errors.As(err, &remote) {
				return fmt.Errorf("connection lost: %w", err)
			}
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, string(res))
	}
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".gojostore_history")
}
