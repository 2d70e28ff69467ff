// Package monitor probes every registered site on a fixed interval and
// records the outcome.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/updown/internal/model"
	"github.com/dukerupert/updown/internal/probe"
)

// SiteLister returns every site that should be probed.
type SiteLister interface {
	List(ctx context.Context) ([]model.Site, error)
}

// ResponseRecorder persists one probe outcome.
type ResponseRecorder interface {
	Upsert(ctx context.Context, siteID int64, statusCode int) (*model.Response, error)
}

// Notifier is told about every stored response.
type Notifier interface {
	ResponseRecorded(site model.Site, resp *model.Response)
}

type Config struct {
	Interval time.Duration
	// Timeout bounds a single probe.
	Timeout time.Duration
	// Concurrency caps probes in flight within one tick.
	Concurrency int
	// SkipOverlap drops a tick while the previous one is still running.
	// Otherwise ticks overlap.
	SkipOverlap bool
}

// DefaultConfig probes every five minutes.
func DefaultConfig() Config {
	return Config{
		Interval:    300 * time.Second,
		Timeout:     10 * time.Second,
		Concurrency: 16,
	}
}

type Option func(*Scheduler)

// WithNotifier registers n to receive every stored response.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// Scheduler fires a tick every interval. A tick lists all sites and probes
// each one in its own goroutine; one site's failure never affects another.
type Scheduler struct {
	mu        sync.Mutex
	sites     SiteLister
	responses ResponseRecorder
	prober    probe.Prober
	notifier  Notifier
	cfg       Config
	logger    *zap.Logger

	inFlight atomic.Int32
	ticks    sync.WaitGroup
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewScheduler(sites SiteLister, responses ResponseRecorder, prober probe.Prober, cfg Config, logger *zap.Logger, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	s := &Scheduler{
		sites:     sites,
		responses: responses,
		prober:    prober,
		cfg:       cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the first tick immediately and then one per interval until ctx
// is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("timeout", s.cfg.Timeout),
		zap.Bool("skip_overlap", s.cfg.SkipOverlap),
	)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.fire(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.fire(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for in-flight ticks to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	s.ticks.Wait()
	s.logger.Info("scheduler stopped")
}

// fire dispatches a tick without waiting for it.
func (s *Scheduler) fire(ctx context.Context) {
	if s.cfg.SkipOverlap && s.inFlight.Load() > 0 {
		s.logger.Warn("tick skipped, previous tick still running")
		return
	}
	s.inFlight.Add(1)
	s.ticks.Add(1)
	go func() {
		defer s.ticks.Done()
		defer s.inFlight.Add(-1)
		// Failures are already logged per site.
		_ = s.Tick(ctx)
	}()
}

// Tick probes every site once and stores each result. It returns the
// per-site failures combined; none of them stop the other sites.
func (s *Scheduler) Tick(ctx context.Context) error {
	start := time.Now()
	log := s.logger.With(zap.String("run_id", uuid.NewString()))

	sites, err := s.sites.List(ctx)
	if err != nil {
		log.Error("list sites", zap.Error(err))
		return fmt.Errorf("list sites: %w", err)
	}
	if len(sites) == 0 {
		log.Debug("no sites to probe")
		return nil
	}

	var (
		mu   sync.Mutex
		errs error
	)
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	for _, site := range sites {
		g.Go(func() error {
			if err := s.check(ctx, site, log); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("tick complete",
		zap.Int("sites", len(sites)),
		zap.Int("failures", len(multierr.Errors(errs))),
		zap.Duration("duration", time.Since(start)),
	)
	return errs
}

func (s *Scheduler) check(ctx context.Context, site model.Site, log *zap.Logger) (err error) {
	log = log.With(zap.Int64("site_id", site.ID), zap.String("url", site.URL))
	defer func() {
		if r := recover(); r != nil {
			log.Error("probe panicked", zap.Any("panic", r))
			err = fmt.Errorf("site %d: panic: %v", site.ID, r)
		}
	}()

	pctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	status := s.prober.Probe(pctx, site.URL)
	cancel()

	// A probe cut short by shutdown says nothing about the site.
	if ctx.Err() != nil {
		return fmt.Errorf("site %d: %w", site.ID, ctx.Err())
	}

	resp, err := s.responses.Upsert(ctx, site.ID, status)
	if err != nil {
		log.Warn("store response", zap.Int("status", status), zap.Error(err))
		return fmt.Errorf("site %d: %w", site.ID, err)
	}

	if status == probe.StatusUnreachable {
		log.Info("site unreachable")
	} else {
		log.Debug("site probed", zap.Int("status", status))
	}
	if s.notifier != nil {
		s.notifier.ResponseRecorded(site, resp)
	}
	return nil
}
