// Package logger builds the zap logger shared by every gojostore component.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every log line.
const ServiceName = "gojostore"

// Config holds all the configuration for the logger.
type Config struct {
	// Level sets the minimum log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`
	// Format is "json" or "console".
	Format string `yaml:"format"`
	// OutputFile is a file path, or "stdout" / "stderr".
	OutputFile string `yaml:"output_file"`
}

// New creates a zap.Logger from config. Components derive their own
// loggers from it with Named.
func New(config Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(config.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	writeSyncer, err := getWriteSyncer(config.OutputFile)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(getEncoder(config.Format), writeSyncer, level)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)).
		With(zap.String("service", ServiceName))
	return logger, nil
}

func getEncoder(format string) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	if strings.ToLower(format) == "console" {
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
	return zapcore.NewJSONEncoder(encoderConfig)
}

func getWriteSyncer(outputFile string) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(outputFile) {
	case "stdout", "":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	default:
		file, err := os.OpenFile(outputFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", outputFile, err)
		}
		return zapcore.AddSync(file), nil
	}
}
