package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clipmirror/clipmirror/internal/domain"
	"github.com/clipmirror/clipmirror/internal/events"
	"github.com/clipmirror/clipmirror/internal/media"
	"github.com/clipmirror/clipmirror/internal/store"
	"github.com/clipmirror/clipmirror/internal/task"
)

// Default controller timings.
const (
	// DefaultTickInterval is how often the controller polls the stage
	// queues for admitted work.
	DefaultTickInterval = 2 * time.Second

	// DefaultShutdownGrace bounds how long Shutdown waits for live
	// workers after cancelling them.
	DefaultShutdownGrace = 10 * time.Second
)

// sourceController identifies the controller as an event source.
const sourceController = "controller"

// errMissingArtifact is returned by the upload operation when a task
// reaches the upload stage without an artifact reference in its payload.
var errMissingArtifact = errors.New("upload task is missing an artifact reference")

// ControllerConfig holds tunable timings for the controller.
type ControllerConfig struct {
	// TickInterval is the period of the dispatch loop. Defaults to
	// DefaultTickInterval when zero or negative.
	TickInterval time.Duration

	// ShutdownGrace is the longest Shutdown waits for cancelled workers
	// to finish. Defaults to DefaultShutdownGrace when zero or negative.
	ShutdownGrace time.Duration
}

// DefaultControllerConfig returns a ControllerConfig with reasonable defaults.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		TickInterval:  DefaultTickInterval,
		ShutdownGrace: DefaultShutdownGrace,
	}
}

// Components bundles the collaborators a Controller coordinates. All fields
// are required.
type Components struct {
	Bus *events.Bus

	// Downloads and Uploads are the two stage queues. Their concurrency
	// limits bound how many workers each stage runs at once.
	Downloads *task.Queue
	Uploads   *task.Queue

	// DownloadPool and UploadPool execute claimed tasks.
	DownloadPool *task.Pool
	UploadPool   *task.Pool

	// Downloader and Uploader perform the actual transfers.
	Downloader media.Downloader
	Uploader   media.Uploader

	// Items and Stats receive every state transition. Store failures are
	// logged and otherwise ignored.
	Items store.MediaItemStore
	Stats store.StatsStore
}

// Controller wires detection, the stage queues, the worker pools, and the
// persistence stores into one pipeline. Detected items enter the download
// queue at high priority, a periodic tick dispatches whatever the queues
// admit, and each finished download is chained into the upload queue at
// normal priority.
type Controller struct {
	cfg        ControllerConfig
	bus        *events.Bus
	downloads  *task.Queue
	uploads    *task.Queue
	dlPool     *task.Pool
	upPool     *task.Pool
	downloader media.Downloader
	uploader   media.Uploader
	items      store.MediaItemStore
	stats      store.StatsStore
	logger     *slog.Logger

	mu         sync.Mutex
	running    bool
	subIntake  events.Subscription
	subs       []events.Subscription
	cancelLoop context.CancelFunc
	loopWG     sync.WaitGroup

	paused atomic.Bool

	// chains carries each download task's payload and result from dispatch
	// to the completion handler, so the upload task can be derived without
	// a round trip through the store.
	chainMu sync.Mutex
	chains  map[string]*chainEntry
}

// chainEntry holds what the download stage learned about an item so the
// completion handler can build the upload task.
type chainEntry struct {
	payload map[string]any

	mu     sync.Mutex
	result *media.DownloadResult
}

func (e *chainEntry) setResult(res *media.DownloadResult) {
	e.mu.Lock()
	e.result = res
	e.mu.Unlock()
}

func (e *chainEntry) downloadResult() *media.DownloadResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// NewController creates a Controller from its collaborators. It returns an
// error if any component is missing.
func NewController(cfg ControllerConfig, comps Components, logger *slog.Logger) (*Controller, error) {
	switch {
	case comps.Bus == nil:
		return nil, errors.New("pipeline controller requires an event bus")
	case comps.Downloads == nil || comps.Uploads == nil:
		return nil, errors.New("pipeline controller requires both stage queues")
	case comps.DownloadPool == nil || comps.UploadPool == nil:
		return nil, errors.New("pipeline controller requires both worker pools")
	case comps.Downloader == nil:
		return nil, errors.New("pipeline controller requires a downloader")
	case comps.Uploader == nil:
		return nil, errors.New("pipeline controller requires an uploader")
	case comps.Items == nil:
		return nil, errors.New("pipeline controller requires a media item store")
	case comps.Stats == nil:
		return nil, errors.New("pipeline controller requires a stats store")
	}

	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		cfg:        cfg,
		bus:        comps.Bus,
		downloads:  comps.Downloads,
		uploads:    comps.Uploads,
		dlPool:     comps.DownloadPool,
		upPool:     comps.UploadPool,
		downloader: comps.Downloader,
		uploader:   comps.Uploader,
		items:      comps.Items,
		stats:      comps.Stats,
		logger:     logger.With("component", "pipeline_controller"),
		chains:     make(map[string]*chainEntry),
	}, nil
}

// Sink returns the detection sink detectors deliver into. Each delivered
// item is published as an item detected event; the controller's own
// subscription turns it into a queued download task.
func (c *Controller) Sink() media.DetectSink {
	return func(item media.Item) {
		data := item.Payload()
		data["item_id"] = item.ID
		c.bus.Publish(events.ItemDetected, data, "detector")
	}
}

// Start subscribes the controller to pipeline events and begins the
// dispatch loop. It returns an error if the controller is already running.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return errors.New("pipeline controller already running")
	}
	c.running = true

	c.subIntake = c.bus.Subscribe(events.ItemDetected, c.onItemDetected)
	c.subs = []events.Subscription{
		c.bus.Subscribe(events.DownloadCompleted, c.onDownloadCompleted),
		c.bus.Subscribe(events.DownloadFailed, c.onStageFailed(task.StageDownload)),
		c.bus.Subscribe(events.DownloadCancelled, c.onCancelled),
		c.bus.Subscribe(events.UploadCompleted, c.onUploadCompleted),
		c.bus.Subscribe(events.UploadFailed, c.onStageFailed(task.StageUpload)),
		c.bus.Subscribe(events.UploadCancelled, c.onCancelled),
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancelLoop = cancel
	c.loopWG.Add(1)
	go c.loop(loopCtx)

	c.bus.Publish(events.MonitoringStarted, map[string]any{
		"tick_interval": c.cfg.TickInterval.String(),
	}, sourceController)
	c.logger.Info("pipeline controller started", "tick_interval", c.cfg.TickInterval)
	return nil
}

// Pause stops the dispatch loop from claiming new work. Detections keep
// accumulating in the download queue and running workers are unaffected.
// Pausing an already paused controller is a no-op.
func (c *Controller) Pause() {
	if !c.paused.CompareAndSwap(false, true) {
		return
	}
	c.bus.Publish(events.MonitoringPaused, nil, sourceController)
	c.logger.Info("pipeline paused")
}

// Resume restarts dispatching after Pause.
func (c *Controller) Resume() {
	if !c.paused.CompareAndSwap(true, false) {
		return
	}
	c.bus.Publish(events.MonitoringResumed, nil, sourceController)
	c.logger.Info("pipeline resumed")
}

// Paused reports whether dispatching is currently paused.
func (c *Controller) Paused() bool {
	return c.paused.Load()
}

// Running reports whether the controller has been started and not yet shut
// down.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Cancel cancels an item wherever it currently is: a live worker in either
// stage pool, or a pending entry in either stage queue. Returns false if no
// stage is tracking the item.
func (c *Controller) Cancel(itemID string) bool {
	if c.dlPool.CancelItem(itemID) || c.upPool.CancelItem(itemID) {
		return true
	}
	if _, ok := c.downloads.Cancel(itemID); ok {
		c.bus.Publish(events.DownloadCancelled, map[string]any{"item_id": itemID}, sourceController)
		return true
	}
	if _, ok := c.uploads.Cancel(itemID); ok {
		c.bus.Publish(events.UploadCancelled, map[string]any{"item_id": itemID}, sourceController)
		return true
	}
	return false
}

// Shutdown stops the pipeline in order: detection intake first, then the
// dispatch loop, then every live worker. Workers get a bounded grace period
// to notice cancellation before Shutdown gives up on them. The grace period
// shrinks to ctx's deadline when that is sooner. Shutting down a controller
// that is not running is a no-op.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	intake := c.subIntake
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	c.logger.Info("pipeline controller shutting down")

	// No new detections from here on.
	c.bus.Unsubscribe(intake)

	c.cancelLoop()
	c.loopWG.Wait()

	c.dlPool.CancelAll()
	c.upPool.CancelAll()

	grace := c.cfg.ShutdownGrace
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < grace {
			grace = remaining
		}
	}
	waitUntil := time.Now().Add(grace)
	clean := c.dlPool.Wait(time.Until(waitUntil))
	if !c.upPool.Wait(time.Until(waitUntil)) {
		clean = false
	}

	// Outcome events from the cancelled workers have been handled by now;
	// the reaction subscriptions can go.
	for _, sub := range subs {
		c.bus.Unsubscribe(sub)
	}

	c.bus.Publish(events.MonitoringStopped, nil, sourceController)

	if !clean {
		c.logger.Warn("workers still live at shutdown deadline", "grace", grace)
		return fmt.Errorf("pipeline shutdown: workers still running after %s", grace)
	}
	c.logger.Info("pipeline controller stopped")
	return nil
}

// loop is the dispatch loop. Each tick claims every task the stage queues
// currently admit and hands them to the pools.
func (c *Controller) loop(ctx context.Context) {
	defer c.loopWG.Done()

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.paused.Load() {
				continue
			}
			c.pump(ctx)
		}
	}
}

// pump drains whatever the queues admit right now. Claims use a zero
// timeout so a tick never blocks behind an empty queue.
func (c *Controller) pump(ctx context.Context) {
	for {
		t := c.downloads.Next(0)
		if t == nil {
			break
		}
		c.dispatchDownload(ctx, *t)
	}
	for {
		t := c.uploads.Next(0)
		if t == nil {
			break
		}
		c.dispatchUpload(ctx, *t)
	}
}

func (c *Controller) dispatchDownload(ctx context.Context, t task.Task) {
	entry := c.trackChain(t.ItemID, t.Payload)
	c.persistStatus(t.ItemID, domain.MediaItemStatusDownloading)

	c.dlPool.Dispatch(ctx, t, func(ctx context.Context, t task.Task, progress task.ProgressFunc) (string, error) {
		item := media.ItemFromPayload(t.ItemID, t.Payload)
		res, err := c.downloader.Download(ctx, item, media.ProgressFunc(progress))
		if err != nil {
			return "", err
		}
		if res == nil {
			return "", nil
		}
		entry.setResult(res)
		return res.ArtifactRef, nil
	})
}

func (c *Controller) dispatchUpload(ctx context.Context, t task.Task) {
	c.persistStatus(t.ItemID, domain.MediaItemStatusUploading)

	c.upPool.Dispatch(ctx, t, func(ctx context.Context, t task.Task, progress task.ProgressFunc) (string, error) {
		artifact, _ := t.Payload["artifact_ref"].(string)
		if artifact == "" {
			return "", errMissingArtifact
		}
		item := media.ItemFromPayload(t.ItemID, t.Payload)
		res, err := c.uploader.Upload(ctx, item, artifact, media.ProgressFunc(progress))
		if err != nil {
			return "", err
		}
		if res == nil {
			return "", nil
		}
		return res.PublishedRef, nil
	})
}

// onItemDetected admits a detected item into the download stage. Items the
// queue already tracks are dropped; re-detections of items cleared from the
// queue re-enter it while keeping their store record.
func (c *Controller) onItemDetected(ev events.Event) {
	itemID, _ := ev.Data["item_id"].(string)
	if itemID == "" {
		c.logger.Warn("detection event without item id", "source", ev.Source)
		return
	}
	item := media.ItemFromPayload(itemID, ev.Data)

	rec, err := domain.NewMediaItem(item.ID, item.Title, item.SourceURL)
	if err != nil {
		c.logger.Warn("rejecting invalid detection",
			"item_id", itemID,
			"error", err)
		return
	}
	if err := c.items.Create(context.Background(), rec); err != nil {
		if errors.Is(err, store.ErrSourceIDExists) {
			c.logger.Debug("item already recorded", "item_id", itemID)
		} else {
			c.logger.Warn("item persist failed", "item_id", itemID, "error", err)
		}
	}

	if !c.downloads.Add(item.ID, item.Payload(), task.PriorityHigh) {
		c.logger.Debug("download queue already tracks item", "item_id", itemID)
		return
	}

	c.persistStatus(item.ID, domain.MediaItemStatusQueued)
	c.bumpStat(store.StatItemsDetected, 1)
	c.bus.Publish(events.ItemQueued, map[string]any{
		"item_id":  item.ID,
		"title":    item.Title,
		"stage":    string(task.StageDownload),
		"priority": task.PriorityHigh.String(),
	}, sourceController)

	c.logger.Info("item queued for download", "item_id", item.ID, "title", item.Title)
}

// onDownloadCompleted records the artifact and chains the item into the
// upload stage at normal priority.
func (c *Controller) onDownloadCompleted(ev events.Event) {
	res, ok := events.ParseResult(ev.Data)
	if !ok {
		c.logger.Warn("malformed download completion", "data", ev.Data)
		return
	}

	entry := c.takeChain(res.ItemID)
	payload := make(map[string]any)
	var size int64
	if entry != nil {
		for k, v := range entry.payload {
			payload[k] = v
		}
		if dl := entry.downloadResult(); dl != nil {
			size = dl.Size
		}
	}
	payload["artifact_ref"] = res.Ref

	c.persistRecord(res.ItemID, domain.MediaItemStatusDownloaded, func(m *domain.MediaItem) {
		m.ArtifactRef = res.Ref
		m.SizeBytes = size
	})
	c.bumpStat(store.StatDownloadsDone, 1)
	if size > 0 {
		c.bumpStat(store.StatBytesDownloaded, size)
	}

	if !c.uploads.Add(res.ItemID, payload, task.PriorityNormal) {
		c.logger.Warn("upload queue already tracks item", "item_id", res.ItemID)
		return
	}
	c.bus.Publish(events.ItemQueued, map[string]any{
		"item_id":  res.ItemID,
		"stage":    string(task.StageUpload),
		"priority": task.PriorityNormal.String(),
	}, sourceController)
}

// onUploadCompleted records the published reference and closes out the item.
func (c *Controller) onUploadCompleted(ev events.Event) {
	res, ok := events.ParseResult(ev.Data)
	if !ok {
		c.logger.Warn("malformed upload completion", "data", ev.Data)
		return
	}

	c.persistRecord(res.ItemID, domain.MediaItemStatusCompleted, func(m *domain.MediaItem) {
		m.PublishedRef = res.Ref
		m.LastError = ""
	})
	c.bumpStat(store.StatUploadsDone, 1)
	c.publishStats()

	c.logger.Info("item mirrored", "item_id", res.ItemID, "published_ref", res.Ref)
}

// onStageFailed handles a failed event from either stage. Retryable
// failures surface as warnings; terminal ones mark the item failed and are
// escalated as error events.
func (c *Controller) onStageFailed(stage task.Stage) events.Callback {
	return func(ev events.Event) {
		fail, ok := events.ParseFailure(ev.Data)
		if !ok {
			c.logger.Warn("malformed failure event", "stage", stage, "data", ev.Data)
			return
		}
		c.takeChain(fail.ItemID)

		if !fail.Terminal {
			c.persistRecord(fail.ItemID, domain.MediaItemStatusQueued, func(m *domain.MediaItem) {
				m.RecordFailure(fail.Err)
				m.RetryCount = fail.RetryCount
			})
			c.bumpStat(store.StatRetriesScheduled, 1)
			c.bus.Publish(events.WarningOccurred, map[string]any{
				"item_id":     fail.ItemID,
				"stage":       string(stage),
				"error":       fail.Err,
				"retry_count": fail.RetryCount,
			}, sourceController)
			return
		}

		c.persistRecord(fail.ItemID, domain.MediaItemStatusFailed, func(m *domain.MediaItem) {
			m.RecordFailure(fail.Err)
			m.RetryCount = fail.RetryCount
		})
		if stage == task.StageUpload {
			c.bumpStat(store.StatUploadsFailed, 1)
		} else {
			c.bumpStat(store.StatDownloadsFailed, 1)
		}
		c.bumpStat(store.StatPermanentFailures, 1)
		c.bus.Publish(events.ErrorOccurred, map[string]any{
			"item_id":     fail.ItemID,
			"stage":       string(stage),
			"error":       fail.Err,
			"retry_count": fail.RetryCount,
		}, sourceController)
		c.publishStats()

		c.logger.Error("item failed permanently",
			"item_id", fail.ItemID,
			"stage", stage,
			"retries", fail.RetryCount,
			"error", fail.Err)
	}
}

// onCancelled records a cancellation from either stage.
func (c *Controller) onCancelled(ev events.Event) {
	itemID, _ := ev.Data["item_id"].(string)
	if itemID == "" {
		return
	}
	c.takeChain(itemID)
	c.persistStatus(itemID, domain.MediaItemStatusCancelled)
	c.bumpStat(store.StatTasksCancelled, 1)
	c.publishStats()
}

// trackChain registers a download dispatch so its payload and result are
// available when the completion event arrives.
func (c *Controller) trackChain(itemID string, payload map[string]any) *chainEntry {
	entry := &chainEntry{payload: payload}
	c.chainMu.Lock()
	c.chains[itemID] = entry
	c.chainMu.Unlock()
	return entry
}

// takeChain removes and returns the chain entry for an item, or nil.
func (c *Controller) takeChain(itemID string) *chainEntry {
	c.chainMu.Lock()
	defer c.chainMu.Unlock()
	entry := c.chains[itemID]
	delete(c.chains, itemID)
	return entry
}

// persistStatus forwards a status transition to the item store and
// publishes the matching status changed event. Store failures are logged
// and do not interrupt the pipeline.
func (c *Controller) persistStatus(itemID string, status domain.MediaItemStatus) {
	if err := c.items.UpdateStatus(context.Background(), itemID, status); err != nil {
		c.logger.Warn("status persist failed",
			"item_id", itemID,
			"status", status,
			"error", err)
	}
	c.bus.Publish(events.StatusChanged, map[string]any{
		"item_id": itemID,
		"status":  string(status),
	}, sourceController)
}

// persistRecord loads an item's record, applies mutate, moves it to the
// given status, and saves it. The matching status changed event is always
// published; store failures are logged and do not interrupt the pipeline.
func (c *Controller) persistRecord(itemID string, status domain.MediaItemStatus, mutate func(*domain.MediaItem)) {
	defer c.bus.Publish(events.StatusChanged, map[string]any{
		"item_id": itemID,
		"status":  string(status),
	}, sourceController)

	ctx := context.Background()
	rec, err := c.items.GetBySourceID(ctx, itemID)
	if err != nil {
		c.logger.Warn("record lookup failed", "item_id", itemID, "error", err)
		return
	}
	mutate(rec)
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	if err := c.items.Update(ctx, rec); err != nil {
		c.logger.Warn("record persist failed", "item_id", itemID, "error", err)
	}
}

// bumpStat increments a named counter, logging failures.
func (c *Controller) bumpStat(name string, delta int64) {
	if _, err := c.stats.Increment(context.Background(), name, delta); err != nil {
		c.logger.Warn("statistic update failed", "stat", name, "error", err)
	}
}

// publishStats broadcasts a statistics snapshot of both stage queues.
func (c *Controller) publishStats() {
	c.bus.Publish(events.StatisticsUpdated, map[string]any{
		"download": c.downloads.Stats(),
		"upload":   c.uploads.Stats(),
	}, sourceController)
}
