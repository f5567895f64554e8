// Package upload gates media attached to a channel: rate limits, channel
// existence, type, name and size checks before anything touches disk.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"agentrelay/pkg/apperr"
	"agentrelay/pkg/ids"
	"agentrelay/pkg/logger"
	"agentrelay/pkg/models"
	"agentrelay/pkg/store"
	"agentrelay/pkg/telemetry"
)

// File is one multipart file as received.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

type Options struct {
	MaxFileSize      int64
	AllowedMimeTypes []string
	Upload           *LimiterPool
	Filesystem       *LimiterPool
	Logger           *slog.Logger
}

type Gate struct {
	store   store.ChannelStore
	storage Storage
	upload  *LimiterPool
	fs      *LimiterPool
	allowed map[string]struct{}
	maxSize int64
	log     *slog.Logger
	now     func() time.Time
}

func NewGate(s store.ChannelStore, storage Storage, opts Options) *Gate {
	g := &Gate{
		store:   s,
		storage: storage,
		upload:  opts.Upload,
		fs:      opts.Filesystem,
		allowed: make(map[string]struct{}, len(opts.AllowedMimeTypes)),
		maxSize: opts.MaxFileSize,
		log:     logger.Or(opts.Logger),
		now:     time.Now,
	}
	for _, m := range opts.AllowedMimeTypes {
		g.allowed[strings.ToLower(strings.TrimSpace(m))] = struct{}{}
	}
	return g
}

func (g *Gate) reject(reason string, err error) error {
	telemetry.UploadRejections.WithLabelValues(reason).Inc()
	g.log.Warn("upload_rejected", "reason", reason, "error", err)
	return err
}

// Accept checks f against the limits for caller and stores it.
func (g *Gate) Accept(ctx context.Context, channelID, caller string, f File) (*models.UploadResult, error) {
	if g.upload != nil && !g.upload.Allow(caller) {
		return nil, g.reject("rate_limit_upload", apperr.RateLimit("Too many upload requests, please try again later"))
	}
	if g.fs != nil && !g.fs.Allow(caller) {
		return nil, g.reject("rate_limit_filesystem", apperr.RateLimit("Too many file operations, please try again later"))
	}

	if !ids.Valid(channelID) {
		return nil, g.reject("channel_id", apperr.Validation("Invalid channel ID format"))
	}
	if _, err := g.store.GetChannel(ctx, channelID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, g.reject("channel_missing", apperr.NotFound("Channel not found"))
		}
		return nil, apperr.Store("get channel", err)
	}

	if f.Body == nil {
		return nil, g.reject("no_file", apperr.Validation("No media file provided"))
	}
	mediaType := baseMediaType(f.ContentType)
	if _, ok := g.allowed[mediaType]; !ok {
		return nil, g.reject("mime_type", apperr.Validation("Invalid file type: %s", f.ContentType))
	}
	if !SafeFilename(f.Name) {
		return nil, g.reject("filename", apperr.Validation("Invalid filename"))
	}
	if g.maxSize > 0 && f.Size > g.maxSize {
		return nil, g.reject("size", apperr.Validation("File too large, max size is %s", humanize.IBytes(uint64(g.maxSize))))
	}

	name := storedName(f.Name, g.now())
	body := f.Body
	if g.maxSize > 0 {
		// one byte past the limit tells an oversize stream from an exact fit
		body = io.LimitReader(f.Body, g.maxSize+1)
	}
	loc, written, err := g.storage.Save(ctx, channelID, name, body)
	if err == nil && g.maxSize > 0 && written > g.maxSize {
		err = apperr.Validation("File too large, max size is %s", humanize.IBytes(uint64(g.maxSize)))
	}
	if err != nil {
		if rerr := g.storage.Remove(loc); rerr != nil {
			g.log.Error("upload_cleanup_failed", "location", loc, "error", rerr)
		}
		if apperr.Is(err, apperr.KindValidation) {
			return nil, g.reject("size", err)
		}
		g.log.Error("upload_store_failed", "channel_id", channelID, "error", err)
		return nil, apperr.Wrap(apperr.KindInternal, err, fmt.Sprintf("store upload %s", f.Name))
	}

	g.log.Info("upload_accepted", "channel_id", channelID, "filename", name, "size", humanize.IBytes(uint64(written)))
	return &models.UploadResult{
		URL:          g.storage.URL(channelID, name),
		Type:         mediaType,
		Filename:     name,
		OriginalName: f.Name,
		Size:         written,
	}, nil
}

// SafeFilename rejects names that could escape the upload directory.
func SafeFilename(name string) bool {
	if name == "" {
		return false
	}
	return !strings.Contains(name, "..") && !strings.ContainsAny(name, "/\\") && !strings.ContainsRune(name, 0)
}

func baseMediaType(ct string) string {
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return strings.ToLower(mt)
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
