package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"NewsPipeline/internal/domain"
	"NewsPipeline/internal/ports"
)

const autoAccountName = "SYSTEM_AUTO"

// CycleResult reports one automated topic cycle.
type CycleResult struct {
	Topic          string
	ItemsFound     int
	ItemsProcessed int
	Err            error
}

// Automation runs recurring topic searches: each due scheduled search is
// executed as a discovery cycle attached to a transient system task, with a
// search log row recording the run.
type Automation struct {
	store     ports.Store
	schedules ports.ScheduleStore
	discovery *Discovery
	runner    *TaskRunner
	notifier  ports.Notifier
	log       *slog.Logger
	now       func() time.Time
}

// NewAutomation constructs the automated cycle driver. notifier may be nil.
func NewAutomation(store ports.Store, schedules ports.ScheduleStore, discovery *Discovery, runner *TaskRunner, notifier ports.Notifier, log *slog.Logger) *Automation {
	return &Automation{
		store:     store,
		schedules: schedules,
		discovery: discovery,
		runner:    runner,
		notifier:  notifier,
		log:       log,
		now:       time.Now,
	}
}

// RunDueSearches executes every scheduled search whose interval has elapsed.
// Failures are per-topic; one topic's failure never blocks the rest.
func (a *Automation) RunDueSearches(ctx context.Context, at time.Time) ([]CycleResult, error) {
	due, err := a.schedules.DueScheduledSearches(ctx, at)
	if err != nil {
		return nil, fmt.Errorf("list due searches: %w", err)
	}
	if len(due) == 0 {
		a.log.Debug("no scheduled searches due")
		return nil, nil
	}

	results := make([]CycleResult, 0, len(due))
	for _, search := range due {
		result := a.RunCycle(ctx, search)
		if result.Err != nil {
			a.log.Error("automated cycle failed", "topic", search.Topic, "error", result.Err)
		}
		results = append(results, result)
	}

	a.notify(ctx, results)
	return results, nil
}

// RunCycle performs one automated discovery for the topic: time-windowed
// query, dedup, system task + lead/article creation, and audit logging.
func (a *Automation) RunCycle(ctx context.Context, search domain.ScheduledSearch) CycleResult {
	result := CycleResult{Topic: search.Topic}

	window := time.Duration(search.IntervalHours) * time.Hour
	after := a.now().Add(-window)
	timeSpan := fmt.Sprintf("Since %s (last %dh)", after.Format("2006-01-02"), search.IntervalHours)
	logID := uuid.NewString()

	a.log.Info("starting automated cycle", "topic", search.Topic, "window", timeSpan)

	discovered, err := a.discovery.Discover(ctx, WindowedHeadlineQuery(search.Topic, after), Routing{})
	if err != nil {
		result.Err = fmt.Errorf("discover %q: %w", search.Topic, err)
		a.writeLog(ctx, logID, search.Topic, timeSpan, discovered, result, domain.SearchLogFailed)
		return result
	}
	result.ItemsFound = discovered.Found

	a.writeLog(ctx, logID, search.Topic, timeSpan, discovered, result, domain.SearchLogRawFetched)

	processed, err := a.materialize(ctx, search, discovered.Headlines)
	if err != nil {
		result.Err = err
		a.updateLog(ctx, logID, result, domain.SearchLogFailed)
		return result
	}
	result.ItemsProcessed = processed

	a.updateLog(ctx, logID, result, domain.SearchLogSuccess)

	if err := a.schedules.MarkScheduledSearchRun(ctx, search.ID, a.now()); err != nil {
		a.log.Error("cannot mark schedule run", "search_id", search.ID, "error", err)
	}

	a.log.Info("automated cycle finished",
		"topic", search.Topic,
		"found", result.ItemsFound,
		"new", result.ItemsProcessed)

	return result
}

// materialize attaches the cycle's leads to a transient system task so they
// surface in the same tracking surface as manual runs.
func (a *Automation) materialize(ctx context.Context, search domain.ScheduledSearch, headlines []domain.Headline) (int, error) {
	if len(headlines) == 0 {
		return 0, nil
	}

	task, err := a.store.CreateTask(ctx, ports.CreateTaskInput{
		Query:       fmt.Sprintf("[AUTO] %s", search.Topic),
		AccountName: autoAccountName,
	})
	if err != nil {
		return 0, fmt.Errorf("create system task: %w", err)
	}

	leads, err := a.runner.materialize(ctx, task.ID, nil, headlines)
	if err != nil {
		return 0, err
	}

	if err := a.store.SetTaskStatus(ctx, task.ID, domain.TaskCompleted, nil); err != nil {
		a.log.Error("cannot complete system task", "task_id", task.ID, "error", err)
	}

	return len(leads), nil
}

func (a *Automation) writeLog(ctx context.Context, id, topic, timeSpan string, discovered DiscoveryResult, result CycleResult, status string) {
	entry := domain.SearchLog{
		ID:             id,
		ExecutionTime:  a.now(),
		Topic:          topic,
		TimeSpan:       timeSpan,
		RawResponse:    discovered.Raw,
		ItemsFound:     result.ItemsFound,
		ItemsProcessed: result.ItemsProcessed,
		Status:         status,
	}
	if result.Err != nil {
		msg := result.Err.Error()
		entry.Error = &msg
	}
	if err := a.schedules.InsertSearchLog(ctx, entry); err != nil {
		a.log.Error("cannot write search log", "topic", topic, "error", err)
	}
}

func (a *Automation) updateLog(ctx context.Context, id string, result CycleResult, status string) {
	var errText *string
	if result.Err != nil {
		msg := result.Err.Error()
		errText = &msg
	}
	if err := a.schedules.UpdateSearchLog(ctx, id, result.ItemsProcessed, status, errText); err != nil {
		a.log.Error("cannot update search log", "log_id", id, "error", err)
	}
}

// notify posts a cycle digest; failures are logged, never propagated.
func (a *Automation) notify(ctx context.Context, results []CycleResult) {
	if a.notifier == nil || len(results) == 0 {
		return
	}

	var digest string
	for _, r := range results {
		if r.Err != nil {
			digest += fmt.Sprintf("- %s: failed (%v)\n", r.Topic, r.Err)
			continue
		}
		digest += fmt.Sprintf("- %s: %d found, %d new\n", r.Topic, r.ItemsFound, r.ItemsProcessed)
	}

	if err := a.notifier.PublishDigest(ctx, digest); err != nil {
		a.log.Warn("cycle digest not delivered", "error", err)
	}
}
