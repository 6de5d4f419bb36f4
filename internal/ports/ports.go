package ports

import (
	"context"
	"time"

	"NewsPipeline/internal/domain"
)

// QueryOptions carries provider routing hints for one call.
type QueryOptions struct {
	AccountName  string
	Mode         string
	Sources      string
	CollectionID string
}

// AnswerClient submits a query to the asynchronous answer service, waits for
// completion, and returns the raw answer text. QueryJSON additionally strips
// Markdown fencing and decodes the answer into v; it returns the raw text in
// either case, with an error wrapping domain.ErrBadPayload when the answer is
// not valid structured data.
type AnswerClient interface {
	Query(ctx context.Context, query string, opts QueryOptions) (string, error)
	QueryJSON(ctx context.Context, query string, opts QueryOptions, v any) (string, error)
}

// Limiter serializes outbound provider calls with a minimum interval between
// consecutive dispatches. Calls run in submission order; each caller gets its
// own call's error back.
type Limiter interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

// CreateTaskInput describes a new discovery task.
type CreateTaskInput struct {
	Query        string
	AccountName  string
	CollectionID string
	CategoryID   *string
}

// PlaceholderInput seeds an article with sentinel content for a fresh lead.
type PlaceholderInput struct {
	Titles     domain.LocalizedText
	Bodies     domain.LocalizedText
	NewsDate   time.Time
	Sources    []domain.Source
	CategoryID *string
}

// ArticleUpdate replaces generated content on an existing article.
type ArticleUpdate struct {
	Titles     domain.LocalizedText
	Bodies     domain.LocalizedText
	Sources    []domain.Source
	ImageURL   *string
	CategoryID *string
}

// Store is the persistence gateway for tasks, leads, and articles.
type Store interface {
	CreateTask(ctx context.Context, in CreateTaskInput) (domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	SetTaskStatus(ctx context.Context, id string, status domain.TaskStatus, errText *string) error

	LeadsForTask(ctx context.Context, taskID string) ([]domain.Lead, error)
	// DeleteLeadsAndArticles removes both sets in one transaction; partial
	// deletion must never be observable.
	DeleteLeadsAndArticles(ctx context.Context, leadIDs, articleIDs []string) error
	// CreateLeads inserts one pending lead per headline atomically. Headlines
	// colliding with the (task, headline) unique index are skipped, not failed.
	CreateLeads(ctx context.Context, taskID string, headlines []domain.Headline) ([]domain.Lead, error)
	LeadsByStatus(ctx context.Context, status domain.LeadStatus, limit int) ([]domain.Lead, error)
	GetLead(ctx context.Context, id string) (domain.Lead, error)
	SetLeadStatus(ctx context.Context, id string, status domain.LeadStatus) error
	LinkLeadToArticle(ctx context.Context, leadID, articleID string, status domain.LeadStatus) error

	CreatePlaceholderArticle(ctx context.Context, in PlaceholderInput) (domain.Article, error)
	GetArticle(ctx context.Context, id string) (domain.Article, error)
	UpdateArticleContent(ctx context.Context, id string, in ArticleUpdate) (domain.Article, error)
	// ArticleSourceExists reports whether any stored article lists the URL
	// among its sources. This is the dedup key for discovery.
	ArticleSourceExists(ctx context.Context, url string) (bool, error)

	GetCategory(ctx context.Context, id string) (domain.Category, error)
}

// ScheduleStore persists recurring automated searches and their run logs.
type ScheduleStore interface {
	DueScheduledSearches(ctx context.Context, now time.Time) ([]domain.ScheduledSearch, error)
	MarkScheduledSearchRun(ctx context.Context, id string, at time.Time) error
	InsertSearchLog(ctx context.Context, entry domain.SearchLog) error
	UpdateSearchLog(ctx context.Context, id string, itemsProcessed int, status string, errText *string) error
}

// Scheduler controls when the automated cycle check executes.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}

// Notifier streams cycle digests to an operator channel.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}
