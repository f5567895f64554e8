package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Storage persists accepted uploads. Save returns the location it wrote to
// even on failure so the gate can remove partial files.
type Storage interface {
	Save(ctx context.Context, channelID, filename string, r io.Reader) (location string, written int64, err error)
	Remove(location string) error
	URL(channelID, filename string) string
}

// DiskStorage writes uploads below Dir/channels/<channelId>/.
type DiskStorage struct {
	Dir          string
	PublicPrefix string
}

func (d DiskStorage) Save(ctx context.Context, channelID, filename string, r io.Reader) (string, int64, error) {
	dir := filepath.Join(d.Dir, "channels", channelID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create upload dir: %w", err)
	}
	loc := filepath.Join(dir, filename)
	f, err := os.OpenFile(loc, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("create upload file: %w", err)
	}
	n, err := io.Copy(f, ctxReader{ctx: ctx, r: r})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return loc, n, fmt.Errorf("write upload file: %w", err)
	}
	return loc, n, nil
}

func (d DiskStorage) Remove(location string) error {
	if location == "" {
		return nil
	}
	err := os.Remove(location)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (d DiskStorage) URL(channelID, filename string) string {
	prefix := d.PublicPrefix
	if prefix == "" {
		prefix = "/media/uploads"
	}
	return path.Join(prefix, "channels", channelID, filename)
}

// storedName is the on-disk name: upload time plus a random suffix, keeping
// the original extension.
func storedName(original string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(original))
	return fmt.Sprintf("%d-%s%s", now.UnixMilli(), uuid.NewString()[:8], ext)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
