package pulse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ukpulse/pulseboard/internal/agent"
	"github.com/ukpulse/pulseboard/internal/events"
	"github.com/ukpulse/pulseboard/internal/metrics"
	"github.com/ukpulse/pulseboard/internal/storage"
)

// Querier is the slice of the agent client the coordinator needs.
type Querier interface {
	Query(ctx context.Context, query string) (agent.Answer, error)
}

// CoordinatorOptions tunes a Coordinator. Zero values use defaults.
type CoordinatorOptions struct {
	QueryTimeout    time.Duration
	RefreshInterval time.Duration
	Extractors      map[Category]Extractor
	Now             func() time.Time
}

// Coordinator owns the dashboard state and runs refresh cycles. One
// coordinator exists per process; a refresh requested while another is in
// flight is dropped, never queued.
type Coordinator struct {
	querier      Querier
	extractors   map[Category]Extractor
	store        storage.Store
	bus          *events.Bus
	metrics      *metrics.Metrics
	logger       *slog.Logger
	queryTimeout time.Duration
	interval     time.Duration
	now          func() time.Time

	mu          sync.RWMutex
	state       State
	panels      map[Category]Panel
	lastUpdated time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCoordinator wires a coordinator. Panels start as placeholders until the
// first cycle completes.
func NewCoordinator(querier Querier, store storage.Store, bus *events.Bus, m *metrics.Metrics, logger *slog.Logger, opts CoordinatorOptions) *Coordinator {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 90 * time.Second
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 5 * time.Minute
	}
	if opts.Extractors == nil {
		opts.Extractors = DefaultExtractors()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if store == nil {
		store = storage.NewNopStore()
	}
	if logger == nil {
		logger = slog.Default()
	}

	panels := make(map[Category]Panel, len(Categories()))
	for _, category := range Categories() {
		panels[category] = Panel{
			Category:     category,
			Placeholder:  true,
			PanelContent: PanelContent{Prose: Placeholder(category)},
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		querier:      querier,
		extractors:   opts.Extractors,
		store:        store,
		bus:          bus,
		metrics:      m,
		logger:       logger,
		queryTimeout: opts.QueryTimeout,
		interval:     opts.RefreshInterval,
		now:          opts.Now,
		state:        StateIdle,
		panels:       panels,
		ctx:          ctx,
		cancel:       cancel,
		stopCh:       make(chan struct{}),
	}
}

// Start runs the startup refresh and the periodic loop until Stop.
func (c *Coordinator) Start() {
	go c.run()
}

func (c *Coordinator) run() {
	c.Refresh("startup")
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Refresh("scheduled")
		case <-c.stopCh:
			return
		}
	}
}

// Stop halts the periodic loop and aborts in-flight queries.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.cancel()
	})
}

// Refresh starts a cycle and reports whether it was started. A cycle already
// in flight wins; the new request is dropped.
func (c *Coordinator) Refresh(trigger string) bool {
	c.mu.Lock()
	if c.state == StateRefreshing {
		c.mu.Unlock()
		c.logger.Debug("refresh already in flight, dropping", "trigger", trigger)
		return false
	}
	c.state = StateRefreshing
	c.mu.Unlock()

	go c.runCycle(trigger)
	return true
}

// Snapshot returns a copy of the dashboard state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	panels := make(map[Category]Panel, len(c.panels))
	for k, v := range c.panels {
		panels[k] = v
	}
	snap := Snapshot{
		State:       c.state,
		LastUpdated: c.lastUpdated,
		Panels:      panels,
	}
	if !c.lastUpdated.IsZero() {
		snap.LastUpdatedLabel = FormatUpdatedLabel(c.lastUpdated)
	}
	return snap
}

// runCycle fans out all category queries, waits for every one to resolve,
// then applies the results to the panels in a single step.
func (c *Coordinator) runCycle(trigger string) {
	defer func() {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		c.metrics.SetRefreshInFlight(false)
	}()

	cycleID := uuid.NewString()
	start := c.now()
	c.metrics.SetRefreshInFlight(true)
	c.publish(events.Event{
		Type:      events.EventRefreshStarted,
		Timestamp: start,
		CycleID:   cycleID,
		Trigger:   trigger,
	})
	c.logger.Info("refresh cycle started", "cycle_id", cycleID, "trigger", trigger)

	categories := Categories()
	reports := make([]Report, len(categories))
	var wg sync.WaitGroup
	for i, category := range categories {
		wg.Add(1)
		go func(i int, category Category) {
			defer wg.Done()
			reports[i] = c.fetch(cycleID, category)
		}(i, category)
	}
	wg.Wait()

	succeeded, failed := 0, 0
	for _, rep := range reports {
		if rep.Placeholder {
			failed++
		} else {
			succeeded++
		}
	}
	applyErr := c.apply(reports)
	end := c.now()

	outcome := storage.OutcomeSuccess
	if succeeded == 0 || applyErr != nil {
		outcome = storage.OutcomeFailure
	}
	if applyErr != nil {
		c.logger.Error("apply step failed", "cycle_id", cycleID, "err", applyErr)
	}

	if err := c.store.Insert(cycleRecord(cycleID, trigger, start, end, outcome, succeeded, failed, reports)); err != nil {
		c.logger.Error("store cycle failed", "cycle_id", cycleID, "err", err)
	}

	duration := end.Sub(start)
	c.metrics.RecordCycle(trigger, string(outcome), duration)
	c.publish(events.Event{
		Type:       events.EventRefreshCompleted,
		Timestamp:  end,
		CycleID:    cycleID,
		Trigger:    trigger,
		Outcome:    string(outcome),
		Succeeded:  succeeded,
		Failed:     failed,
		DurationMs: duration.Milliseconds(),
	})
	c.logger.Info("refresh cycle completed",
		"cycle_id", cycleID,
		"trigger", trigger,
		"outcome", outcome,
		"succeeded", succeeded,
		"failed", failed,
		"duration_ms", duration.Milliseconds())
}

// fetch resolves one category query to a Report. Any failure - transport
// error, non-2xx reply, empty text - resolves to the category placeholder.
func (c *Coordinator) fetch(cycleID string, category Category) Report {
	start := time.Now()
	ctx, cancel := context.WithTimeout(c.ctx, c.queryTimeout)
	defer cancel()

	rep := Report{Category: category}
	ans, err := c.querier.Query(ctx, Prompt(category))
	rep.Duration = time.Since(start)

	switch {
	case err != nil:
		rep.Placeholder = true
		rep.Err = err.Error()
	case !ans.OK():
		rep.Placeholder = true
		msg, _ := ans.ErrorMessage()
		rep.Err = fmt.Sprintf("status %d: %s", ans.StatusCode, msg)
	default:
		text := strings.TrimSpace(ans.Text())
		if text == "" {
			rep.Placeholder = true
			rep.Err = "empty response"
		} else {
			rep.Text = text
			rep.Bytes = int64(len(ans.Body))
		}
	}

	status := storage.QuerySuccess
	if rep.Placeholder {
		status = storage.QueryPlaceholder
		c.logger.Warn("category query failed", "cycle_id", cycleID, "category", category, "err", rep.Err)
	}
	c.metrics.RecordQuery(string(category), string(status), rep.Duration)
	c.publish(events.Event{
		Type:       events.EventCategoryResolved,
		Timestamp:  time.Now(),
		CycleID:    cycleID,
		Category:   string(category),
		Status:     string(status),
		DurationMs: rep.Duration.Milliseconds(),
	})
	return rep
}

// apply replaces all panels in one step after the join barrier. Panels are
// staged first, so a panicking extractor aborts the whole apply and leaves
// the previous panels intact; the cycle is then graded a failure.
func (c *Coordinator) apply(reports []Report) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("apply panic: %v", r)
		}
	}()

	now := c.now()
	next := make(map[Category]Panel, len(reports))
	for _, rep := range reports {
		if rep.Placeholder {
			next[rep.Category] = Panel{
				Category:     rep.Category,
				Updated:      now,
				Placeholder:  true,
				PanelContent: PanelContent{Prose: Placeholder(rep.Category)},
			}
			continue
		}
		content := PanelContent{Prose: rep.Text}
		if ex, ok := c.extractors[rep.Category]; ok {
			content = ex.Extract(rep.Text)
		}
		next[rep.Category] = Panel{
			Category:     rep.Category,
			Updated:      now,
			PanelContent: content,
		}
	}

	c.mu.Lock()
	for k, v := range next {
		c.panels[k] = v
	}
	c.lastUpdated = now
	c.mu.Unlock()
	return nil
}

func cycleRecord(cycleID, trigger string, start, end time.Time, outcome storage.Outcome, succeeded, failed int, reports []Report) *storage.Cycle {
	results := make([]storage.QueryResult, 0, len(reports))
	for _, rep := range reports {
		status := storage.QuerySuccess
		if rep.Placeholder {
			status = storage.QueryPlaceholder
		}
		results = append(results, storage.QueryResult{
			Category:      string(rep.Category),
			Status:        status,
			DurationMs:    rep.Duration.Milliseconds(),
			ResponseBytes: rep.Bytes,
			Error:         rep.Err,
		})
	}
	return &storage.Cycle{
		ID:         cycleID,
		Trigger:    trigger,
		TSStart:    start.UnixMilli(),
		TSEnd:      end.UnixMilli(),
		Outcome:    outcome,
		Succeeded:  succeeded,
		Failed:     failed,
		DurationMs: end.Sub(start).Milliseconds(),
		Results:    results,
	}
}

func (c *Coordinator) publish(e events.Event) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(e)
}
