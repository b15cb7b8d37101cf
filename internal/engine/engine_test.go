package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqilrvsb/UNMASK-TIK/internal/events"
	"github.com/aqilrvsb/UNMASK-TIK/internal/extract"
)

// orderScript controls how the fake page behaves for one order ID.
type orderScript struct {
	navErr     error
	waitErr    error
	check      PageCheck
	record     *extract.Record
	extractErr error
}

var detailPage = PageCheck{IsOrderDetail: true, IsLoggedIn: true, URL: "https://seller-my.tiktok.com/order/detail"}

func cleanRecord() *extract.Record {
	return &extract.Record{
		Name:    "John Tan",
		Phone:   "+60123456789",
		Address: "12, Jalan Besar, 50000 Kuala Lumpur",
		HasData: true,
	}
}

type fakePage struct {
	mu      sync.Mutex
	scripts map[string]orderScript
	visited []string
	current string
	// onNavigate runs outside the lock, letting tests inject a Stop()
	// while an order is mid-flight.
	onNavigate func(orderID string)
}

func newFakePage() *fakePage {
	return &fakePage{scripts: map[string]orderScript{}}
}

func (p *fakePage) script(orderID string) orderScript {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.scripts[orderID]; ok {
		return s
	}
	return orderScript{check: detailPage, record: cleanRecord()}
}

func (p *fakePage) Navigate(_ context.Context, orderID string) error {
	p.mu.Lock()
	p.visited = append(p.visited, orderID)
	p.current = orderID
	hook := p.onNavigate
	p.mu.Unlock()
	if hook != nil {
		hook(orderID)
	}
	return p.script(orderID).navErr
}

func (p *fakePage) WaitReady(_ context.Context, _ time.Duration) error {
	return p.script(p.currentOrder()).waitErr
}

func (p *fakePage) Check(_ context.Context) (PageCheck, error) {
	return p.script(p.currentOrder()).check, nil
}

func (p *fakePage) Reveal(_ context.Context) (int, error) { return 1, nil }

func (p *fakePage) Extract(_ context.Context) (*extract.Record, error) {
	s := p.script(p.currentOrder())
	return s.record, s.extractErr
}

func (p *fakePage) currentOrder() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *fakePage) visitedOrders() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.visited...)
}

type fakeStore struct {
	mu       sync.Mutex
	rejected map[string]bool
	failErr  error
	commits  []string
}

func (s *fakeStore) CommitResult(_ context.Context, orderID string, _ *extract.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return false, s.failErr
	}
	if s.rejected[orderID] {
		return false, nil
	}
	s.commits = append(s.commits, orderID)
	return true, nil
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func (r *recorder) types() []events.Type {
	var out []events.Type
	for _, e := range r.all() {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) last(t events.Type) (events.Event, bool) {
	all := r.all()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Type == t {
			return all[i], true
		}
	}
	return events.Event{}, false
}

func fastConfig() Config {
	return Config{
		NavTimeout:  time.Second,
		SettleDelay: time.Millisecond,
		PacingMin:   time.Millisecond,
		PacingMax:   2 * time.Millisecond,
	}
}

func newTestEngine(page OrderPage, store ResultStore) (*Engine, *recorder) {
	rec := &recorder{}
	return New(page, store, rec, fastConfig()), rec
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	require.Eventually(t, func() bool { return !e.Status().IsRunning },
		5*time.Second, 5*time.Millisecond, "run did not reach a terminal state")
}

func TestStatusBeforeStart(t *testing.T) {
	e, _ := newTestEngine(newFakePage(), &fakeStore{})
	s := e.Status()
	assert.False(t, s.IsRunning)
	assert.Zero(t, s.Processed)
	assert.Zero(t, s.Total)
}

func TestStartValidation(t *testing.T) {
	page := newFakePage()
	e, _ := newTestEngine(page, &fakeStore{})

	_, err := e.Start(nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	total, err := e.Start([]string{"A1"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	_, err = e.Start([]string{"B1"})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	waitIdle(t, e)
}

func TestRunAllSuccess(t *testing.T) {
	page := newFakePage()
	store := &fakeStore{}
	e, rec := newTestEngine(page, store)

	_, err := e.Start([]string{"A1", "A2"})
	require.NoError(t, err)
	waitIdle(t, e)

	assert.Equal(t, []events.Type{
		events.TypeStarted,
		events.TypeProcessing, events.TypeOrderSuccess,
		events.TypeProcessing, events.TypeOrderSuccess,
		events.TypeCompleted,
	}, rec.types())

	done, ok := rec.last(events.TypeCompleted)
	require.True(t, ok)
	assert.Equal(t, events.Counters{Processed: 2, Total: 2, Success: 2, Failed: 0}, done.Counters)
	assert.Equal(t, []string{"A1", "A2"}, store.commits)
}

func TestCountersConsistentInEveryEvent(t *testing.T) {
	page := newFakePage()
	page.scripts["A2"] = orderScript{check: detailPage, record: &extract.Record{}}
	e, rec := newTestEngine(page, &fakeStore{})

	_, err := e.Start([]string{"A1", "A2", "A3"})
	require.NoError(t, err)
	waitIdle(t, e)

	for _, evt := range rec.all() {
		assert.Equal(t, evt.Processed, evt.Success+evt.Failed,
			"event %s carries inconsistent counters", evt.Type)
		assert.LessOrEqual(t, evt.Processed, 3)
	}
}

func TestItemsVisitedInInputOrder(t *testing.T) {
	page := newFakePage()
	page.scripts["B2"] = orderScript{navErr: errors.New("boom"), check: detailPage}
	e, _ := newTestEngine(page, &fakeStore{})

	ids := []string{"B1", "B2", "B3", "B4"}
	_, err := e.Start(ids)
	require.NoError(t, err)
	waitIdle(t, e)

	assert.Equal(t, ids, page.visitedOrders())
}

func TestFailureReasons(t *testing.T) {
	cases := []struct {
		name   string
		script orderScript
		store  *fakeStore
		reason FailReason
	}{
		{"navigation request", orderScript{navErr: errors.New("net down"), check: detailPage}, &fakeStore{}, ReasonNavigation},
		{"navigation timeout", orderScript{waitErr: ErrNavigationTimeout, check: detailPage}, &fakeStore{}, ReasonNavigation},
		{"wrong page shape", orderScript{check: PageCheck{IsLoggedIn: true}}, &fakeStore{}, ReasonNavigation},
		{"no data", orderScript{check: detailPage, record: &extract.Record{}}, &fakeStore{}, ReasonNoData},
		{"still masked", orderScript{check: detailPage, record: &extract.Record{Name: "J***n", HasData: true, IsMasked: true}}, &fakeStore{}, ReasonStillMasked},
		{"store rejects", orderScript{check: detailPage, record: cleanRecord()}, &fakeStore{rejected: map[string]bool{"C1": true}}, ReasonPersistence},
		{"store errors", orderScript{check: detailPage, record: cleanRecord()}, &fakeStore{failErr: errors.New("db down")}, ReasonPersistence},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page := newFakePage()
			page.scripts["C1"] = tc.script
			e, rec := newTestEngine(page, tc.store)

			_, err := e.Start([]string{"C1"})
			require.NoError(t, err)
			waitIdle(t, e)

			failed, ok := rec.last(events.TypeOrderFailed)
			require.True(t, ok, "expected an order failure event")
			assert.Equal(t, string(tc.reason), failed.Reason)

			done, ok := rec.last(events.TypeCompleted)
			require.True(t, ok)
			assert.Equal(t, events.Counters{Processed: 1, Total: 1, Success: 0, Failed: 1}, done.Counters)
		})
	}
}

func TestAuthFailureAbortsRun(t *testing.T) {
	page := newFakePage()
	page.scripts["B1"] = orderScript{check: PageCheck{IsOrderDetail: true, IsLoggedIn: false, URL: "https://seller-my.tiktok.com/login"}}
	e, rec := newTestEngine(page, &fakeStore{})

	_, err := e.Start([]string{"B1", "B2"})
	require.NoError(t, err)
	waitIdle(t, e)

	types := rec.types()
	assert.Equal(t, []events.Type{events.TypeStarted, events.TypeProcessing, events.TypeError}, types,
		"no further processing after the auth failure")

	s := e.Status()
	assert.False(t, s.IsRunning)
	assert.Zero(t, s.Processed, "the aborted order is not counted")
	assert.Equal(t, []string{"B1"}, page.visitedOrders())
}

func TestStopFinishesInFlightOrder(t *testing.T) {
	page := newFakePage()
	store := &fakeStore{}
	e, rec := newTestEngine(page, store)

	var once sync.Once
	page.onNavigate = func(string) {
		once.Do(e.Stop)
	}

	_, err := e.Start([]string{"D1", "D2", "D3"})
	require.NoError(t, err)
	waitIdle(t, e)

	stopped, ok := rec.last(events.TypeStopped)
	require.True(t, ok)
	assert.Equal(t, events.Counters{Processed: 1, Total: 3, Success: 1, Failed: 0}, stopped.Counters)

	// Exactly one terminal event, and the in-flight order completed.
	count := 0
	for _, typ := range rec.types() {
		if typ == events.TypeStopped || typ == events.TypeCompleted {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"D1"}, page.visitedOrders())
	assert.Equal(t, []string{"D1"}, store.commits)
}

func TestStopIsIdempotentAndNoopWhenIdle(t *testing.T) {
	e, rec := newTestEngine(newFakePage(), &fakeStore{})
	e.Stop()
	e.Stop()
	assert.Empty(t, rec.all())
	assert.False(t, e.Status().IsRunning)
}

func TestRestartAfterCompletion(t *testing.T) {
	page := newFakePage()
	e, rec := newTestEngine(page, &fakeStore{})

	_, err := e.Start([]string{"E1"})
	require.NoError(t, err)
	waitIdle(t, e)

	_, err = e.Start([]string{"E2"})
	require.NoError(t, err)
	waitIdle(t, e)

	done, ok := rec.last(events.TypeCompleted)
	require.True(t, ok)
	assert.Equal(t, 1, done.Total, "counters reset between runs")
	assert.Equal(t, []string{"E1", "E2"}, page.visitedOrders())
}
