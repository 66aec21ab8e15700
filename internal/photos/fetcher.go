// Package photos fetches and stores artwork photos referenced by import
// records. The rest of the system treats it as an opaque pipeline: URL in,
// stored reference or error out.
package photos

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	// Decoders for the allow-listed formats, consumed by image.DecodeConfig.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// DefaultMaxBytes caps the source payload at roughly 15 MB.
const DefaultMaxBytes = 15 << 20

// StoredPhoto is the result of a successful fetch.
type StoredPhoto struct {
	Ref    string `json:"storedRef"`
	Format string `json:"format"`
	Bytes  int64  `json:"bytes"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Config tunes the fetcher.
type Config struct {
	Dir          string
	MaxBytes     int64
	RatePerSec   float64
	FetchTimeout time.Duration
}

// Fetcher downloads photos over HTTP into a local directory.
type Fetcher struct {
	client   *http.Client
	limiter  *rate.Limiter
	dir      string
	maxBytes int64
	logger   *slog.Logger
}

// NewFetcher creates a photo fetcher writing into cfg.Dir.
func NewFetcher(cfg Config, logger *slog.Logger) (*Fetcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("photos directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating photos directory: %w", err)
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	return &Fetcher{
		client:   &http.Client{Timeout: cfg.FetchTimeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		dir:      cfg.Dir,
		maxBytes: cfg.MaxBytes,
		logger:   logger.With(slog.String("component", "photos")),
	}, nil
}

// FetchAndStore downloads the photo at rawURL and writes it under the photos
// directory. Transient HTTP failures are retried with exponential backoff;
// oversized payloads and disallowed formats are permanent failures.
func (f *Fetcher) FetchAndStore(ctx context.Context, rawURL string) (StoredPhoto, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return StoredPhoto{}, fmt.Errorf("unsupported photo URL: %q", rawURL)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return StoredPhoto{}, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	var data []byte
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var fetchErr error
		data, fetchErr = f.fetch(ctx, rawURL)
		return fetchErr
	})
	if err != nil {
		return StoredPhoto{}, err
	}

	format, err := DetectFormat(data)
	if err != nil {
		return StoredPhoto{}, err
	}

	// The magic bytes only prove the header; make sure the payload actually
	// decodes before keeping it.
	dims, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return StoredPhoto{}, fmt.Errorf("decoding %s photo: %w", format, err)
	}

	name := uuid.New().String() + "." + extensionFor(format)
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return StoredPhoto{}, fmt.Errorf("writing photo file: %w", err)
	}

	f.logger.Debug("stored photo",
		slog.String("ref", name),
		slog.String("format", format),
		slog.Int("bytes", len(data)),
		slog.Int("width", dims.Width),
		slog.Int("height", dims.Height))

	return StoredPhoto{
		Ref:    name,
		Format: format,
		Bytes:  int64(len(data)),
		Width:  dims.Width,
		Height: dims.Height,
	}, nil
}

// fetch performs one download attempt. 5xx responses are retryable; client
// errors and size violations are not.
func (f *Fetcher) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, retry.RetryableError(fmt.Errorf("fetching photo: %w", err))
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 500 {
		return nil, retry.RetryableError(fmt.Errorf("fetching photo: HTTP %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching photo: HTTP %d", resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("photo exceeds %d byte limit", f.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, retry.RetryableError(fmt.Errorf("reading photo body: %w", err))
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("photo exceeds %d byte limit", f.maxBytes)
	}
	return data, nil
}

// Allow-listed photo formats.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatWebP = "webp"
	FormatGIF  = "gif"
)

// DetectFormat identifies the image format from magic bytes. Formats outside
// the allow-list are rejected.
func DetectFormat(data []byte) (string, error) {
	if len(data) < 12 {
		return "", fmt.Errorf("payload too small to be an image")
	}
	switch {
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return FormatJPEG, nil
	case bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}):
		return FormatPNG, nil
	case bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")):
		return FormatGIF, nil
	case bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatWebP, nil
	default:
		return "", fmt.Errorf("unsupported image format")
	}
}

func extensionFor(format string) string {
	switch format {
	case FormatJPEG:
		return "jpg"
	default:
		return format
	}
}
