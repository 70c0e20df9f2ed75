package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/robfig/cron/v3"

	"github.com/clipmirror/clipmirror/internal/media"
)

// Default poller settings.
const (
	// DefaultPollSchedule queries the source every five minutes.
	DefaultPollSchedule = "@every 5m"

	// DefaultDedupTTL is how long a detected item ID is remembered. The
	// source keeps returning recent items for a while; the cache stops
	// them from re-entering the pipeline on every sweep.
	DefaultDedupTTL = 6 * time.Hour
)

// Lister queries the source for its recently published items. Order does
// not matter; the poller deduplicates.
type Lister interface {
	ListRecent(ctx context.Context) ([]media.Item, error)
}

// PollerConfig holds the poller's schedule and filtering settings.
type PollerConfig struct {
	// Schedule is a cron expression or @every duration accepted by
	// robfig/cron. Defaults to DefaultPollSchedule when empty.
	Schedule string

	// ActiveStart and ActiveEnd bound polling to a daily window in
	// "HH:MM" form. Leave both empty to poll around the clock. A start
	// later than the end crosses midnight.
	ActiveStart string
	ActiveEnd   string

	// DedupTTL is how long item IDs stay in the seen cache. Defaults to
	// DefaultDedupTTL when zero or negative.
	DedupTTL time.Duration
}

// Poller queries a source catalog on a schedule and pushes unseen items to
// its sink. It implements media.Detector.
type Poller struct {
	cfg    PollerConfig
	lister Lister
	sink   media.DetectSink
	window Window
	seen   *cache.Cache
	logger *slog.Logger

	// now is swapped out in tests.
	now func() time.Time

	mu      sync.Mutex
	running bool
	cron    *cron.Cron
	cancel  context.CancelFunc

	polling atomic.Bool
}

// NewPoller creates a Poller. The sink receives every item the lister
// returns that has not been seen within the dedup TTL.
func NewPoller(cfg PollerConfig, lister Lister, sink media.DetectSink, logger *slog.Logger) (*Poller, error) {
	if lister == nil {
		return nil, errors.New("poller requires a lister")
	}
	if sink == nil {
		return nil, errors.New("poller requires a sink")
	}
	if logger == nil {
		logger = slog.Default()
	}

	window, err := ParseWindow(cfg.ActiveStart, cfg.ActiveEnd)
	if err != nil {
		return nil, err
	}

	if cfg.Schedule == "" {
		cfg.Schedule = DefaultPollSchedule
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = DefaultDedupTTL
	}

	return &Poller{
		cfg:    cfg,
		lister: lister,
		sink:   sink,
		window: window,
		seen:   cache.New(cfg.DedupTTL, 10*time.Minute),
		logger: logger.With("component", "source_poller"),
		now:    time.Now,
	}, nil
}

// Start schedules polling and runs an immediate first sweep so a fresh
// start does not wait out a full period. Returns an error for an invalid
// schedule or if the poller is already running.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.New("poller already started")
	}

	pollCtx, cancel := context.WithCancel(ctx)

	c := cron.New()
	if _, err := c.AddFunc(p.cfg.Schedule, func() { p.poll(pollCtx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid poll schedule %q: %w", p.cfg.Schedule, err)
	}
	c.Start()

	p.cron = c
	p.cancel = cancel
	p.running = true

	go p.poll(pollCtx)

	p.logger.Info("source polling started",
		"schedule", p.cfg.Schedule,
		"active_hours", p.window.String(),
		"dedup_ttl", p.cfg.DedupTTL)
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish. Safe
// to call more than once.
func (p *Poller) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.running = false

	p.cancel()
	<-p.cron.Stop().Done()

	p.logger.Info("source polling stopped")
	return nil
}

// poll runs one sweep. Sweeps are skipped outside the active window and
// never overlap.
func (p *Poller) poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !p.window.Contains(p.now()) {
		p.logger.Debug("outside active hours, skipping sweep", "window", p.window.String())
		return
	}
	if !p.polling.CompareAndSwap(false, true) {
		p.logger.Debug("previous sweep still running")
		return
	}
	defer p.polling.Store(false)

	items, err := p.lister.ListRecent(ctx)
	if err != nil {
		p.logger.Warn("source sweep failed", "error", err)
		return
	}

	fresh := 0
	for _, item := range items {
		if item.ID == "" {
			continue
		}
		if _, dup := p.seen.Get(item.ID); dup {
			continue
		}
		p.seen.Set(item.ID, struct{}{}, cache.DefaultExpiration)
		p.sink(item)
		fresh++
	}

	if fresh > 0 {
		p.logger.Info("sweep found new items", "new", fresh, "listed", len(items))
	} else {
		p.logger.Debug("sweep found nothing new", "listed", len(items))
	}
}
