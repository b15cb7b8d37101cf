// Package engine sequences an unmask run: one browser page, one order at a
// time, in the order supplied. Each order is navigated to, revealed,
// extracted and persisted as a single unit of work; failures are classified
// per order and never abort the run, except for a lost login session which
// makes continuing pointless.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/aqilrvsb/UNMASK-TIK/internal/events"
	"github.com/aqilrvsb/UNMASK-TIK/internal/extract"
)

var (
	ErrAlreadyRunning = errors.New("unmask run already in progress")
	ErrEmptyInput     = errors.New("no order IDs provided")

	// ErrNavigationTimeout is returned by OrderPage.WaitReady when the
	// detail view does not finish loading within the bound.
	ErrNavigationTimeout = errors.New("navigation timed out")
)

// PageCheck describes the page the browser landed on after navigation.
type PageCheck struct {
	IsOrderDetail bool
	IsLoggedIn    bool
	URL           string
}

// OrderPage is the single shared navigable surface. The engine owns it
// exclusively for the duration of a run.
type OrderPage interface {
	// Navigate requests navigation to the order's detail view.
	Navigate(ctx context.Context, orderID string) error
	// WaitReady blocks until the navigation completes or the timeout
	// elapses, returning ErrNavigationTimeout in the latter case.
	WaitReady(ctx context.Context, timeout time.Duration) error
	Check(ctx context.Context) (PageCheck, error)
	// Reveal triggers disclosure of masked fields and reports how many
	// interactions it performed. Zero is a valid outcome.
	Reveal(ctx context.Context) (int, error)
	Extract(ctx context.Context) (*extract.Record, error)
}

// ResultStore commits an extracted record for an order. The boolean is the
// store's verdict; the engine treats it as authoritative.
type ResultStore interface {
	CommitResult(ctx context.Context, orderID string, rec *extract.Record) (bool, error)
}

// Publisher receives lifecycle and progress events. Publish must not block.
type Publisher interface {
	Publish(events.Event)
}

// Config holds the run's timing knobs. The inter-order pacing is randomized
// within [PacingMin, PacingMax] to keep the interaction rate human-paced.
type Config struct {
	NavTimeout  time.Duration
	SettleDelay time.Duration
	PacingMin   time.Duration
	PacingMax   time.Duration
}

func (c *Config) applyDefaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 10 * time.Second
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.PacingMin <= 0 {
		c.PacingMin = 2 * time.Second
	}
	if c.PacingMax < c.PacingMin {
		c.PacingMax = c.PacingMin
	}
}

// Snapshot is the answer to a status query. Safe to request at any time.
type Snapshot struct {
	IsRunning bool `json:"isRunning"`
	Processed int  `json:"processed"`
	Total     int  `json:"total"`
	Success   int  `json:"success"`
	Failed    int  `json:"failed"`
}

type runState int

const (
	stateIdle runState = iota
	stateRunning
	stateStopping
)

// Engine drives runs. At most one run is active at a time and at most one
// order is ever in flight within it.
type Engine struct {
	page  OrderPage
	store ResultStore
	pub   Publisher
	cfg   Config

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state runState
	job   *Job
}

func New(page OrderPage, store ResultStore, pub Publisher, cfg Config) *Engine {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		page:   page,
		store:  store,
		pub:    pub,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins a run over orderIDs in the given order. It returns the total
// count, or ErrAlreadyRunning / ErrEmptyInput without touching any state.
func (e *Engine) Start(orderIDs []string) (int, error) {
	e.mu.Lock()
	if e.state != stateIdle {
		e.mu.Unlock()
		return 0, ErrAlreadyRunning
	}
	if len(orderIDs) == 0 {
		e.mu.Unlock()
		return 0, ErrEmptyInput
	}
	job := newJob(orderIDs)
	e.job = job
	e.state = stateRunning
	e.mu.Unlock()

	log.Printf("🚀 Run %s started: %d orders", job.RunID, len(job.Items))
	e.pub.Publish(events.Started(job.RunID, len(job.Items)))
	go e.run(job)
	return len(job.Items), nil
}

// Stop requests a cooperative stop. The in-flight order finishes first; the
// stop is honored at the next order boundary. Idempotent, no-op when idle.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == stateRunning {
		e.state = stateStopping
		log.Printf("🛑 Stop requested; finishing in-flight order")
	}
}

// Status returns the current snapshot without side effects.
func (e *Engine) Status() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{IsRunning: e.state != stateIdle}
	if e.job != nil {
		s.Processed = e.job.Processed
		s.Total = len(e.job.Items)
		s.Success = e.job.Success
		s.Failed = e.job.Failed
	}
	return s
}

// Close stops the engine for process shutdown: cancels in-flight page work
// and waits briefly for the run goroutine to exit.
func (e *Engine) Close() {
	e.Stop()
	e.cancel()

	e.mu.Lock()
	job := e.job
	running := e.state != stateIdle
	e.mu.Unlock()
	if !running || job == nil {
		return
	}
	select {
	case <-job.done:
	case <-time.After(15 * time.Second):
		log.Printf("⚠️ Run did not stop within 15s; abandoning")
	}
}

func (e *Engine) run(job *Job) {
	defer close(job.done)

	for {
		e.mu.Lock()
		if e.state == stateStopping || e.ctx.Err() != nil {
			e.state = stateIdle
			c := job.counters()
			e.mu.Unlock()
			log.Printf("🛑 Run %s stopped: %d/%d processed", job.RunID, c.Processed, c.Total)
			e.pub.Publish(events.Stopped(job.RunID, c))
			return
		}
		if job.Cursor >= len(job.Items) {
			e.state = stateIdle
			c := job.counters()
			e.mu.Unlock()
			log.Printf("✅ Run %s completed: %d ok, %d failed", job.RunID, c.Success, c.Failed)
			e.pub.Publish(events.Completed(job.RunID, c))
			return
		}
		item := job.Items[job.Cursor]
		index := job.Cursor + 1
		item.Status = ItemProcessing
		c := job.counters()
		e.mu.Unlock()

		log.Printf("📦 [%d/%d] Processing order …%s", index, c.Total, events.ShortOrderID(item.OrderID))
		e.pub.Publish(events.Processing(job.RunID, item.OrderID, index, c))

		rec, reason, fatal := e.processOrder(item.OrderID)
		if fatal != nil {
			// Run-level failure: the session is unusable, every further
			// order would fail the same way. The in-flight item stays
			// uncounted.
			e.mu.Lock()
			item.Status = ItemPending
			e.state = stateIdle
			e.mu.Unlock()
			log.Printf("❌ Run %s aborted: %v", job.RunID, fatal)
			e.pub.Publish(events.RunError(job.RunID, fatal.Error()))
			return
		}

		e.mu.Lock()
		if reason == "" {
			item.Status = ItemSucceeded
			job.Success++
		} else {
			item.Status = ItemFailed
			item.Reason = reason
			job.Failed++
		}
		job.Processed++
		job.Cursor++
		c = job.counters()
		e.mu.Unlock()

		if reason == "" {
			log.Printf("✅ Order …%s unmasked", events.ShortOrderID(item.OrderID))
			e.pub.Publish(events.OrderSuccess(job.RunID, item.OrderID, rec.Name, rec.Phone, rec.Address, c))
		} else {
			log.Printf("⚠️ Order …%s failed: %s", events.ShortOrderID(item.OrderID), reason)
			e.pub.Publish(events.OrderFailed(job.RunID, item.OrderID, string(reason), c))
		}

		// Stop and completion are honored at the order boundary, before the
		// pacing delay; the loop top re-checks and emits the terminal event.
		e.mu.Lock()
		boundary := e.state == stateStopping || e.ctx.Err() != nil || job.Cursor >= len(job.Items)
		e.mu.Unlock()
		if !boundary {
			e.pace()
		}
	}
}

// processOrder runs the per-order unit of work. It returns the extracted
// record and an empty reason on success, a FailReason for recoverable
// failures, or a non-nil fatal error when the whole run must abort.
func (e *Engine) processOrder(orderID string) (*extract.Record, FailReason, error) {
	ctx := e.ctx

	if err := e.page.Navigate(ctx, orderID); err != nil {
		log.Printf("⚠️ Navigation request failed: %v", err)
		return nil, ReasonNavigation, nil
	}
	if err := e.page.WaitReady(ctx, e.cfg.NavTimeout); err != nil {
		log.Printf("⚠️ Page not ready: %v", err)
		return nil, ReasonNavigation, nil
	}
	e.sleep(e.cfg.SettleDelay)

	check, err := e.page.Check(ctx)
	if err != nil {
		log.Printf("⚠️ Page check failed: %v", err)
		return nil, ReasonNavigation, nil
	}
	if !check.IsLoggedIn {
		return nil, "", fmt.Errorf("not logged in to seller center (at %s)", check.URL)
	}
	if !check.IsOrderDetail {
		return nil, ReasonNavigation, nil
	}

	clicks, err := e.page.Reveal(ctx)
	if err != nil {
		// Extraction still proceeds on whatever is already visible.
		log.Printf("⚠️ Reveal pass errored after %d clicks: %v", clicks, err)
	}

	rec, err := e.page.Extract(ctx)
	if err != nil {
		log.Printf("⚠️ Extraction failed: %v", err)
		return nil, ReasonNoData, nil
	}
	if !rec.HasData {
		return nil, ReasonNoData, nil
	}
	if rec.IsMasked {
		return nil, ReasonStillMasked, nil
	}

	ok, err := e.store.CommitResult(ctx, orderID, rec)
	if err != nil {
		log.Printf("⚠️ Commit failed: %v", err)
		return nil, ReasonPersistence, nil
	}
	if !ok {
		return nil, ReasonPersistence, nil
	}
	return rec, "", nil
}

// pace sleeps a randomized delay before the next order.
func (e *Engine) pace() {
	d := e.cfg.PacingMin
	if spread := e.cfg.PacingMax - e.cfg.PacingMin; spread > 0 {
		d += time.Duration(rand.Int63n(int64(spread)))
	}
	e.sleep(d)
}

func (e *Engine) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-e.ctx.Done():
	}
}
