package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"NewsPipeline/internal/domain"
	"NewsPipeline/internal/ports"
	"NewsPipeline/pkg/metrics"
)

// Drainer triggers the rewrite queue; satisfied by *Rewriter.
type Drainer interface {
	DrainRewriteQueue(ctx context.Context) (DrainResult, error)
}

// RunResult reports one discovery run.
type RunResult struct {
	TaskID  string
	Found   int // candidates parsed from the provider answer
	Created int // leads created after dedup
	Leads   []domain.Lead
}

// TaskRunner drives a task through pending→running→completed|failed and keeps
// lead/article records consistent across re-runs.
type TaskRunner struct {
	store     ports.Store
	discovery *Discovery
	drainer   Drainer
	log       *slog.Logger
	now       func() time.Time
}

// NewTaskRunner constructs the task state machine. drainer may be nil; then
// completed runs do not kick the rewrite pipeline.
func NewTaskRunner(store ports.Store, discovery *Discovery, drainer Drainer, log *slog.Logger) *TaskRunner {
	return &TaskRunner{
		store:     store,
		discovery: discovery,
		drainer:   drainer,
		log:       log,
		now:       time.Now,
	}
}

// CreateTask registers a new discovery task in pending state.
func (r *TaskRunner) CreateTask(ctx context.Context, in ports.CreateTaskInput) (domain.Task, error) {
	return r.store.CreateTask(ctx, in)
}

// RunDiscovery executes one full discovery run for the task. Prior leads and
// their articles are wiped before the new set is created, so repeated runs
// converge on the latest upstream state instead of accumulating duplicates.
func (r *TaskRunner) RunDiscovery(ctx context.Context, taskID string) (RunResult, error) {
	task, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		return RunResult{}, fmt.Errorf("load task %s: %w", taskID, err)
	}

	if err := r.store.SetTaskStatus(ctx, task.ID, domain.TaskRunning, nil); err != nil {
		return RunResult{}, fmt.Errorf("mark task running: %w", err)
	}

	result, runErr := r.run(ctx, task)
	if runErr != nil {
		msg := runErr.Error()
		if err := r.store.SetTaskStatus(ctx, task.ID, domain.TaskFailed, &msg); err != nil {
			r.log.Error("cannot persist task failure", "task_id", task.ID, "error", err)
		}
		metrics.DiscoveryRunsTotal.WithLabelValues("failed").Inc()
		return RunResult{}, runErr
	}

	if err := r.store.SetTaskStatus(ctx, task.ID, domain.TaskCompleted, nil); err != nil {
		return RunResult{}, fmt.Errorf("mark task completed: %w", err)
	}
	metrics.DiscoveryRunsTotal.WithLabelValues("completed").Inc()

	r.kickRewrite(task.ID)

	return result, nil
}

func (r *TaskRunner) run(ctx context.Context, task domain.Task) (RunResult, error) {
	discovered, err := r.discovery.Discover(ctx, HeadlineQuery(task.Query), Routing{
		AccountName:  task.AccountName,
		CollectionID: task.CollectionID,
	})
	if err != nil {
		return RunResult{}, fmt.Errorf("discover headlines: %w", err)
	}

	if err := r.cleanup(ctx, task.ID); err != nil {
		return RunResult{}, err
	}

	leads, err := r.materialize(ctx, task.ID, task.CategoryID, discovered.Headlines)
	if err != nil {
		return RunResult{}, err
	}

	r.log.Info("discovery run finished",
		"task_id", task.ID,
		"found", discovered.Found,
		"created", len(leads))

	return RunResult{
		TaskID:  task.ID,
		Found:   discovered.Found,
		Created: len(leads),
		Leads:   leads,
	}, nil
}

// cleanup removes every lead owned by the task together with the articles
// they reference, in one atomic storage operation.
func (r *TaskRunner) cleanup(ctx context.Context, taskID string) error {
	existing, err := r.store.LeadsForTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("list prior leads: %w", err)
	}
	if len(existing) == 0 {
		return nil
	}

	leadIDs := make([]string, 0, len(existing))
	articleIDs := make([]string, 0, len(existing))
	for _, lead := range existing {
		leadIDs = append(leadIDs, lead.ID)
		if lead.ArticleID != nil {
			articleIDs = append(articleIDs, *lead.ArticleID)
		}
	}

	if err := r.store.DeleteLeadsAndArticles(ctx, leadIDs, articleIDs); err != nil {
		return fmt.Errorf("cleanup prior run: %w", err)
	}

	return nil
}

// materialize creates pending leads for the headlines, then one placeholder
// article per lead, advancing each lead to rewrite_pending.
func (r *TaskRunner) materialize(ctx context.Context, taskID string, categoryID *string, headlines []domain.Headline) ([]domain.Lead, error) {
	if len(headlines) == 0 {
		return nil, nil
	}

	leads, err := r.store.CreateLeads(ctx, taskID, headlines)
	if err != nil {
		return nil, fmt.Errorf("create leads: %w", err)
	}

	out := make([]domain.Lead, 0, len(leads))
	for _, lead := range leads {
		newsDate := r.now()
		if lead.PublishedAt != nil {
			newsDate = *lead.PublishedAt
		}

		placeholder := domain.PlaceholderPrefix + lead.Headline
		article, err := r.store.CreatePlaceholderArticle(ctx, ports.PlaceholderInput{
			Titles:     domain.LocalizedText{EN: lead.Headline, CN: lead.Headline, MY: lead.Headline},
			Bodies:     domain.LocalizedText{EN: placeholder, CN: placeholder, MY: placeholder},
			NewsDate:   newsDate,
			Sources:    []domain.Source{lead.Source},
			CategoryID: categoryID,
		})
		if err != nil {
			return nil, fmt.Errorf("create placeholder for lead %s: %w", lead.ID, err)
		}

		if err := r.store.LinkLeadToArticle(ctx, lead.ID, article.ID, domain.LeadRewritePending); err != nil {
			return nil, fmt.Errorf("link lead %s to article %s: %w", lead.ID, article.ID, err)
		}

		lead.ArticleID = &article.ID
		lead.Status = domain.LeadRewritePending
		out = append(out, lead)
	}

	return out, nil
}

// kickRewrite starts the rewrite drain in the background. Its failure is
// logged only; it never affects the completed run.
func (r *TaskRunner) kickRewrite(taskID string) {
	if r.drainer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()
		if _, err := r.drainer.DrainRewriteQueue(ctx); err != nil {
			r.log.Error("background rewrite drain failed", "task_id", taskID, "error", err)
		}
	}()
}
