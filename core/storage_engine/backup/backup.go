// Package backup copies the files of a closed store, throttled and
// checksummed.
package backup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sushant-115/gojostore/core/transaction"
	bufferpool "github.com/sushant-115/gojostore/core/write_engine/buffer_pool"
	"github.com/sushant-115/gojostore/core/write_engine/wal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// chunkSize: size of each read/write chunk
const chunkSize = 4 * 1024 * 1024 // 4 MiB

// ManifestSuffix names the file describing a backup.
const ManifestSuffix = ".manifest.yaml"

var ErrChecksumMismatch = errors.New("backup checksum mismatch")

var bufPool = sync.Pool{
	New: func() interface{} { return make([]byte, chunkSize) },
}

// Manifest records what a backup contains.
type Manifest struct {
	Source    string            `yaml:"source"`
	CreatedAt time.Time         `yaml:"created_at"`
	Files     map[string]string `yaml:"files"` // suffix -> sha256
}

// Store copies the xid file, the log and the page file of the store at
// srcPrefix to dstPrefix and writes dstPrefix.manifest.yaml. The store must
// not be open. bytesPerSec <= 0 copies without a limit.
func Store(ctx context.Context, srcPrefix, dstPrefix string, bytesPerSec int64, logger *zap.Logger) (*Manifest, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("backup")

	m := &Manifest{
		Source:    srcPrefix,
		CreatedAt: time.Now().UTC(),
		Files:     make(map[string]string),
	}
	for _, suffix := range []string{transaction.XIDSuffix, wal.LogSuffix, bufferpool.DBSuffix} {
		start := time.Now()
		sum, n, err := CopyThrottled(ctx, srcPrefix+suffix, dstPrefix+suffix, bytesPerSec)
		if err != nil {
			return nil, fmt.Errorf("backup %s: %w", srcPrefix+suffix, err)
		}
		m.Files[suffix] = hex.EncodeToString(sum)
		logger.Info("file copied",
			zap.String("src", srcPrefix+suffix),
			zap.String("dst", dstPrefix+suffix),
			zap.Int64("bytes", n),
			zap.Duration("took", time.Since(start)))
	}

	raw, err := yaml.Marshal(m)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(dstPrefix+ManifestSuffix, raw, 0644); err != nil {
		return nil, err
	}
	return m, nil
}

// Verify recomputes the checksums of the backup at prefix against its
// manifest.
func Verify(prefix string) (*Manifest, error) {
	raw, err := os.ReadFile(prefix + ManifestSuffix)
	if err != nil {
		return nil, err
	}
	m := &Manifest{}
	if err := yaml.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("bad manifest %s: %w", prefix+ManifestSuffix, err)
	}
	for suffix, want := range m.Files {
		got, err := fileChecksum(prefix + suffix)
		if err != nil {
			return nil, err
		}
		if hex.EncodeToString(got) != want {
			return nil, fmt.Errorf("%w: %s", ErrChecksumMismatch, prefix+suffix)
		}
	}
	return m, nil
}

// CopyThrottled copies srcPath to a new file dstPath at no more than
// bytesPerSec and returns the sha256 of the data and its length. The copy
// is synced and read back before returning.
func CopyThrottled(ctx context.Context, srcPath, dstPath string, bytesPerSec int64) ([]byte, int64, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return nil, 0, fmt.Errorf("open src: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, 0, fmt.Errorf("open dst: %w", err)
	}
	defer dst.Close()

	var limiter *rate.Limiter
	if bytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(bytesPerSec), chunkSize) // burst = chunkSize
	}

	buf := bufPool.Get().([]byte)
	defer bufPool.Put(buf)

	sum := sha256.New()
	var off int64
	for {
		n, rerr := src.ReadAt(buf[:chunkSize], off)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					return nil, off, fmt.Errorf("rate limiter error: %w", err)
				}
			} else if err := ctx.Err(); err != nil {
				return nil, off, err
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return nil, off, fmt.Errorf("write error: %w", err)
			}
			sum.Write(buf[:n])
			off += int64(n)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return nil, off, fmt.Errorf("read error: %w", rerr)
		}
	}

	if err := dst.Sync(); err != nil {
		return nil, off, fmt.Errorf("sync error: %w", err)
	}

	want := sum.Sum(nil)
	got, err := fileChecksum(dstPath)
	if err != nil {
		return nil, off, err
	}
	if !bytes.Equal(want, got) {
		return nil, off, fmt.Errorf("%w: %s", ErrChecksumMismatch, dstPath)
	}
	return want, off, nil
}

func fileChecksum(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sum := sha256.New()
	if _, err := io.Copy(sum, f); err != nil {
		return nil, err
	}
	return sum.Sum(nil), nil
}
