package httpmedia

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"resty.dev/v3"

	"github.com/clipmirror/clipmirror/internal/media"
)

// DefaultCatalogPageSize bounds one listing request.
const DefaultCatalogPageSize = 25

// CatalogConfig holds the source catalog endpoint and its credentials.
type CatalogConfig struct {
	// URL is the catalog listing endpoint.
	URL string

	// Token is sent as a bearer token when non-empty.
	Token string

	// Timeout bounds one listing request. Zero means no timeout.
	Timeout time.Duration

	// PageSize is the maximum number of entries per listing. Defaults to
	// DefaultCatalogPageSize.
	PageSize int
}

// CatalogClient lists the source's recently published items. The poller
// uses it as its lister.
type CatalogClient struct {
	cfg    CatalogConfig
	client *resty.Client
	logger *slog.Logger
}

// catalogEntry is one item in the catalog listing response.
type catalogEntry struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at"`
}

// NewCatalogClient creates a CatalogClient for the configured source.
func NewCatalogClient(cfg CatalogConfig, logger *slog.Logger) (*CatalogClient, error) {
	if cfg.URL == "" {
		return nil, errors.New("catalog client requires a listing URL")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultCatalogPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := resty.New()
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	return &CatalogClient{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "catalog_client"),
	}, nil
}

// Close releases the underlying HTTP client.
func (c *CatalogClient) Close() error {
	return c.client.Close()
}

// ListRecent queries the catalog for its most recent items. Entries
// without an ID or URL are dropped.
func (c *CatalogClient) ListRecent(ctx context.Context) ([]media.Item, error) {
	var entries []catalogEntry
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(c.cfg.PageSize)).
		SetResult(&entries).
		Get(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrSourceUnavailable, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: catalog returned %d", media.ErrSourceUnavailable, resp.StatusCode())
	}

	items := make([]media.Item, 0, len(entries))
	for _, entry := range entries {
		if entry.ID == "" || entry.URL == "" {
			c.logger.Debug("dropping incomplete catalog entry", "entry", entry)
			continue
		}
		item := media.Item{
			ID:        entry.ID,
			Title:     entry.Title,
			SourceURL: entry.URL,
		}
		if entry.PublishedAt != "" {
			item.Meta = map[string]any{"published_at": entry.PublishedAt}
		}
		items = append(items, item)
	}

	c.logger.Debug("catalog listed", "entries", len(entries), "usable", len(items))
	return items, nil
}
