package httpmedia

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/clipmirror/clipmirror/internal/media"
)

// progressInterval throttles how often a running transfer reports.
const progressInterval = 200 * time.Millisecond

// DownloaderConfig holds the downloader's working directory.
type DownloaderConfig struct {
	// Dir is where fetched artifacts are written. Created if missing.
	Dir string
}

// Downloader fetches source URLs into the working directory. It implements
// media.Downloader. HTTP and HTTPS URLs are streamed from the source; file
// URLs, which the drop-folder watcher emits, are copied locally.
type Downloader struct {
	cfg    DownloaderConfig
	client *resty.Client
	logger *slog.Logger
}

// NewDownloader creates a Downloader writing into cfg.Dir.
func NewDownloader(cfg DownloaderConfig, logger *slog.Logger) (*Downloader, error) {
	if cfg.Dir == "" {
		return nil, errors.New("downloader requires a working directory")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating download directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Downloader{
		cfg:    cfg,
		client: resty.New(),
		logger: logger.With("component", "http_downloader"),
	}, nil
}

// Close releases the underlying HTTP client.
func (d *Downloader) Close() error {
	return d.client.Close()
}

// Download fetches the item's source URL and returns the artifact path.
// A transfer that produces zero bytes is a failure.
func (d *Downloader) Download(ctx context.Context, item media.Item, progress media.ProgressFunc) (*media.DownloadResult, error) {
	if item.SourceURL == "" {
		return nil, fmt.Errorf("%w: item %s has no source URL", media.ErrDownloadFailed, item.ID)
	}
	if progress == nil {
		progress = func(float64, string, string) {}
	}

	u, err := url.Parse(item.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing source URL: %v", media.ErrDownloadFailed, err)
	}

	switch u.Scheme {
	case "http", "https":
		return d.fetch(ctx, item, u, progress)
	case "file":
		return d.copyLocal(ctx, item, u.Path, progress)
	case "":
		return d.copyLocal(ctx, item, item.SourceURL, progress)
	default:
		return nil, fmt.Errorf("%w: unsupported source scheme %q", media.ErrDownloadFailed, u.Scheme)
	}
}

// fetch streams an HTTP source to disk, reporting progress from the
// declared content length.
func (d *Downloader) fetch(ctx context.Context, item media.Item, u *url.URL, progress media.ProgressFunc) (*media.DownloadResult, error) {
	resp, err := d.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(item.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: source returned %d for %s", media.ErrSourceUnavailable, resp.StatusCode(), item.ID)
	}

	total, _ := strconv.ParseInt(resp.Header().Get("Content-Length"), 10, 64)
	dest := filepath.Join(d.cfg.Dir, artifactName(item, path.Ext(u.Path)))

	written, err := d.writeArtifact(ctx, dest, resp.Body, total, progress)
	if err != nil {
		return nil, err
	}

	d.logger.Info("artifact fetched", "item_id", item.ID, "path", dest, "bytes", written)
	return &media.DownloadResult{ArtifactRef: dest, Size: written}, nil
}

// copyLocal copies a local file into the working directory. A file already
// inside the working directory is used in place.
func (d *Downloader) copyLocal(ctx context.Context, item media.Item, src string, progress media.ProgressFunc) (*media.DownloadResult, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrSourceUnavailable, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s", media.ErrEmptyArtifact, src)
	}

	dest := filepath.Join(d.cfg.Dir, filepath.Base(src))
	if dest == src {
		progress(100, "", "")
		return &media.DownloadResult{ArtifactRef: src, Size: info.Size()}, nil
	}

	in, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrDownloadFailed, err)
	}
	defer in.Close()

	written, err := d.writeArtifact(ctx, dest, in, info.Size(), progress)
	if err != nil {
		return nil, err
	}

	d.logger.Info("artifact copied", "item_id", item.ID, "path", dest, "bytes", written)
	return &media.DownloadResult{ArtifactRef: dest, Size: written}, nil
}

// writeArtifact streams src to dest through a progress reader. The partial
// file is removed on failure, and an empty transfer is a failure.
func (d *Downloader) writeArtifact(ctx context.Context, dest string, src io.Reader, total int64, progress media.ProgressFunc) (int64, error) {
	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("%w: creating artifact: %v", media.ErrDownloadFailed, err)
	}

	written, err := io.Copy(out, &progressReader{
		ctx:      ctx,
		r:        src,
		total:    total,
		start:    time.Now(),
		progress: progress,
	})
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest)
		return 0, fmt.Errorf("%w: %v", media.ErrDownloadFailed, err)
	}
	if written == 0 {
		os.Remove(dest)
		return 0, fmt.Errorf("%w: %s", media.ErrEmptyArtifact, dest)
	}

	progress(100, "", "")
	return written, nil
}

// artifactName builds a collision-free file name from the item ID.
func artifactName(item media.Item, ext string) string {
	id := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		default:
			return r
		}
	}, item.ID)
	return id + ext
}

// progressReader counts bytes as they stream through and reports percent,
// rate, and ETA at most every progressInterval. It also aborts the copy
// when the context is cancelled.
type progressReader struct {
	ctx      context.Context
	r        io.Reader
	total    int64
	read     int64
	start    time.Time
	last     time.Time
	progress media.ProgressFunc
}

func (p *progressReader) Read(buf []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(buf)
	if n > 0 {
		p.read += int64(n)
		p.report()
	}
	return n, err
}

func (p *progressReader) report() {
	now := time.Now()
	if now.Sub(p.last) < progressInterval {
		return
	}
	p.last = now

	elapsed := now.Sub(p.start).Seconds()
	var rate string
	var bps float64
	if elapsed > 0 {
		bps = float64(p.read) / elapsed
		rate = humanBytes(bps) + "/s"
	}

	var percent float64
	var eta string
	if p.total > 0 {
		percent = float64(p.read) / float64(p.total) * 100
		if bps > 0 {
			remaining := time.Duration(float64(p.total-p.read)/bps) * time.Second
			eta = remaining.Round(time.Second).String()
		}
	}

	p.progress(percent, rate, eta)
}

// humanBytes renders a byte count with a binary unit suffix.
func humanBytes(n float64) string {
	const (
		kib = 1024
		mib = 1024 * kib
		gib = 1024 * mib
	)
	switch {
	case n >= gib:
		return fmt.Sprintf("%.1f GiB", n/gib)
	case n >= mib:
		return fmt.Sprintf("%.1f MiB", n/mib)
	case n >= kib:
		return fmt.Sprintf("%.1f KiB", n/kib)
	default:
		return fmt.Sprintf("%.0f B", n)
	}
}
