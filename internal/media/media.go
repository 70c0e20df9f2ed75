package media

import "context"

// Item identifies one piece of media moving through the pipeline. ID is the
// stable unique identifier the source assigns; everything keyed in the
// queue and the store uses it.
type Item struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	SourceURL string         `json:"source_url"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Payload renders the item as a task payload map.
func (i Item) Payload() map[string]any {
	p := map[string]any{
		"title":      i.Title,
		"source_url": i.SourceURL,
	}
	if len(i.Meta) > 0 {
		p["meta"] = i.Meta
	}
	return p
}

// ItemFromPayload reconstructs an Item from a task payload map.
func ItemFromPayload(id string, payload map[string]any) Item {
	item := Item{ID: id}
	item.Title, _ = payload["title"].(string)
	item.SourceURL, _ = payload["source_url"].(string)
	if meta, ok := payload["meta"].(map[string]any); ok {
		item.Meta = meta
	}
	return item
}

// ProgressFunc receives progress reports from a running transfer.
type ProgressFunc func(percent float64, rate, eta string)

// DetectSink receives newly detected items. The pipeline controller
// provides one; detector implementations call it once per new item.
type DetectSink func(item Item)

// Detector watches a source for new items and pushes each one to its sink.
// Version: 1.0
type Detector interface {
	// Start begins detection. It returns once detection is running;
	// items are delivered asynchronously until Stop is called.
	Start(ctx context.Context) error

	// Stop halts detection and releases resources. Safe to call more
	// than once.
	Stop() error
}

// DownloadResult describes a finished download.
type DownloadResult struct {
	// ArtifactRef locates the fetched artifact (a local file path for the
	// HTTP reference implementation). Non-empty on every success; an
	// implementation must return an error rather than an empty reference.
	ArtifactRef string

	// Size is the artifact size in bytes, when known.
	Size int64
}

// Downloader fetches one item's content from the source.
// Version: 1.0
type Downloader interface {
	// Download fetches the item, reporting progress as it goes. The
	// operation observes ctx for cooperative cancellation at its
	// checkpoints.
	Download(ctx context.Context, item Item, progress ProgressFunc) (*DownloadResult, error)
}

// UploadResult describes a finished upload.
type UploadResult struct {
	// PublishedRef is the identifier the destination assigned. Non-empty
	// on every success.
	PublishedRef string

	// Location is the destination URL of the published item, when the
	// destination reports one.
	Location string
}

// Uploader publishes a downloaded artifact to the destination.
// Version: 1.0
type Uploader interface {
	// Upload publishes the artifact, reporting progress as it goes. The
	// operation observes ctx for cooperative cancellation at its
	// checkpoints.
	Upload(ctx context.Context, item Item, artifactRef string, progress ProgressFunc) (*UploadResult, error)
}
