package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies one kind of pipeline event. The set is closed:
// subscribers match on these constants and the bus never dispatches a type
// outside this list.
type EventType string

const (
	// Monitoring lifecycle
	MonitoringStarted EventType = "monitoring_started"
	MonitoringStopped EventType = "monitoring_stopped"
	MonitoringPaused  EventType = "monitoring_paused"
	MonitoringResumed EventType = "monitoring_resumed"

	// Item lifecycle
	ItemDetected EventType = "item_detected"
	ItemQueued   EventType = "item_queued"

	// Download lifecycle
	DownloadStarted   EventType = "download_started"
	DownloadProgress  EventType = "download_progress"
	DownloadCompleted EventType = "download_completed"
	DownloadFailed    EventType = "download_failed"
	DownloadCancelled EventType = "download_cancelled"

	// Upload lifecycle
	UploadStarted   EventType = "upload_started"
	UploadProgress  EventType = "upload_progress"
	UploadCompleted EventType = "upload_completed"
	UploadFailed    EventType = "upload_failed"
	UploadCancelled EventType = "upload_cancelled"

	// Status and statistics
	StatusChanged     EventType = "status_changed"
	StatisticsUpdated EventType = "statistics_updated"

	// Errors and warnings
	ErrorOccurred   EventType = "error_occurred"
	WarningOccurred EventType = "warning_occurred"

	// Configuration
	ConfigChanged EventType = "config_changed"
	SettingsSaved EventType = "settings_saved"

	// Application lifecycle
	AppStarted  EventType = "app_started"
	AppShutdown EventType = "app_shutdown"
)

// AllTypes returns every event type in the closed set, for callers that
// subscribe to the whole stream.
func AllTypes() []EventType {
	return []EventType{
		MonitoringStarted, MonitoringStopped, MonitoringPaused, MonitoringResumed,
		ItemDetected, ItemQueued,
		DownloadStarted, DownloadProgress, DownloadCompleted, DownloadFailed, DownloadCancelled,
		UploadStarted, UploadProgress, UploadCompleted, UploadFailed, UploadCancelled,
		StatusChanged, StatisticsUpdated,
		ErrorOccurred, WarningOccurred,
		ConfigChanged, SettingsSaved,
		AppStarted, AppShutdown,
	}
}

// Event is a single published occurrence. Events are immutable once
// published: the bus hands the same value to every subscriber and keeps a
// copy in its history ring, but never modifies one after construction.
type Event struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is the event type constant the event was published under
	Type EventType `json:"type"`

	// Timestamp records when the event was published
	Timestamp time.Time `json:"timestamp"`

	// Data carries the event payload. Well-known payloads have typed
	// constructors below; ad-hoc payloads use the map directly.
	Data map[string]any `json:"data"`

	// Source names the component that published the event
	Source string `json:"source"`
}

// newEvent constructs an Event stamped with a fresh ID and the current time.
func newEvent(eventType EventType, data map[string]any, source string) Event {
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Source:    source,
	}
}

// ProgressPayload is the typed payload for *_progress events.
type ProgressPayload struct {
	ItemID  string
	Percent float64
	Rate    string
	ETA     string
}

// AsMap renders the payload in the generic event data representation.
func (p ProgressPayload) AsMap() map[string]any {
	return map[string]any{
		"item_id": p.ItemID,
		"percent": p.Percent,
		"rate":    p.Rate,
		"eta":     p.ETA,
	}
}

// ParseProgress extracts a ProgressPayload from event data. The second
// return value is false when the map does not carry a progress payload.
func ParseProgress(data map[string]any) (ProgressPayload, bool) {
	id, ok := data["item_id"].(string)
	if !ok {
		return ProgressPayload{}, false
	}
	p := ProgressPayload{ItemID: id}
	p.Percent, _ = asFloat(data["percent"])
	p.Rate, _ = data["rate"].(string)
	p.ETA, _ = data["eta"].(string)
	return p, true
}

// ResultPayload is the typed payload for *_completed events. Ref is the
// artifact reference for downloads and the published reference for uploads.
type ResultPayload struct {
	ItemID string
	Ref    string
}

// AsMap renders the payload in the generic event data representation.
func (p ResultPayload) AsMap() map[string]any {
	return map[string]any{
		"item_id": p.ItemID,
		"ref":     p.Ref,
	}
}

// ParseResult extracts a ResultPayload from event data.
func ParseResult(data map[string]any) (ResultPayload, bool) {
	id, ok := data["item_id"].(string)
	if !ok {
		return ResultPayload{}, false
	}
	ref, _ := data["ref"].(string)
	return ResultPayload{ItemID: id, Ref: ref}, true
}

// FailurePayload is the typed payload for *_failed and error_occurred
// events. Terminal reports whether the retry budget is exhausted.
type FailurePayload struct {
	ItemID     string
	Err        string
	RetryCount int
	Terminal   bool
}

// AsMap renders the payload in the generic event data representation.
func (p FailurePayload) AsMap() map[string]any {
	return map[string]any{
		"item_id":     p.ItemID,
		"error":       p.Err,
		"retry_count": p.RetryCount,
		"terminal":    p.Terminal,
	}
}

// ParseFailure extracts a FailurePayload from event data.
func ParseFailure(data map[string]any) (FailurePayload, bool) {
	id, ok := data["item_id"].(string)
	if !ok {
		return FailurePayload{}, false
	}
	p := FailurePayload{ItemID: id}
	p.Err, _ = data["error"].(string)
	if n, ok := asInt(data["retry_count"]); ok {
		p.RetryCount = n
	}
	p.Terminal, _ = data["terminal"].(bool)
	return p, true
}

// asFloat widens the numeric types a payload value may hold after an
// in-process publish or a JSON round trip.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
