package httpmedia

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"resty.dev/v3"

	"github.com/clipmirror/clipmirror/internal/media"
)

// UploaderConfig holds the destination endpoint and its credentials.
type UploaderConfig struct {
	// URL is the destination's upload endpoint.
	URL string

	// Token is sent as a bearer token when non-empty.
	Token string
}

// Uploader publishes artifacts to the destination with a multipart POST.
// It implements media.Uploader. The destination is expected to answer with
// a JSON body carrying the published identifier.
type Uploader struct {
	cfg    UploaderConfig
	client *resty.Client
	logger *slog.Logger
}

// uploadResponse is the destination's answer to a publish request.
type uploadResponse struct {
	ID       string `json:"id"`
	Location string `json:"location"`
}

// NewUploader creates an Uploader for the configured destination.
func NewUploader(cfg UploaderConfig, logger *slog.Logger) (*Uploader, error) {
	if cfg.URL == "" {
		return nil, errors.New("uploader requires a destination URL")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := resty.New()
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &Uploader{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "http_uploader"),
	}, nil
}

// Close releases the underlying HTTP client.
func (u *Uploader) Close() error {
	return u.client.Close()
}

// Upload publishes the artifact and returns the destination's identifier
// for it. An accepted upload whose response carries no identifier is a
// failure.
func (u *Uploader) Upload(ctx context.Context, item media.Item, artifactRef string, progress media.ProgressFunc) (*media.UploadResult, error) {
	if progress == nil {
		progress = func(float64, string, string) {}
	}

	info, err := os.Stat(artifactRef)
	if err != nil {
		return nil, fmt.Errorf("%w: artifact missing: %v", media.ErrUploadFailed, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: refusing to publish %s", media.ErrEmptyArtifact, artifactRef)
	}

	progress(0, "", "")

	var result uploadResponse
	resp, err := u.client.R().
		SetContext(ctx).
		SetFile("media", artifactRef).
		SetFormData(map[string]string{
			"source_id": item.ID,
			"title":     item.Title,
		}).
		SetResult(&result).
		Post(u.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrUploadFailed, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: destination returned %d: %s", media.ErrUploadFailed, resp.StatusCode(), resp.String())
	}
	if result.ID == "" {
		return nil, fmt.Errorf("%w: item %s", media.ErrNoPublishedRef, item.ID)
	}

	progress(100, "", "")
	u.logger.Info("artifact published",
		"item_id", item.ID,
		"published_ref", result.ID,
		"bytes", info.Size())

	return &media.UploadResult{PublishedRef: result.ID, Location: result.Location}, nil
}
