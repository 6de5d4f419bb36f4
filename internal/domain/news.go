package domain

import (
	"strings"
	"time"
)

// PlaceholderPrefix marks an article body whose content has not been
// generated yet. External consumers use it to tell placeholders from
// filled articles, so the exact text is part of the storage contract.
const PlaceholderPrefix = "Pending rewrite for: "

// TaskStatus tracks one discovery run end-to-end.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// LeadStatus tracks a headline candidate through the rewrite pipeline.
type LeadStatus string

const (
	LeadPending        LeadStatus = "pending"
	LeadRewritePending LeadStatus = "rewrite_pending"
	LeadRewritten      LeadStatus = "rewritten"
	LeadError          LeadStatus = "error"
)

// Task is one discovery request for a topic query.
type Task struct {
	ID           string
	Query        string
	AccountName  string
	CollectionID string
	CategoryID   *string
	Status       TaskStatus
	Error        *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Source describes where a headline or article came from.
type Source struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Lead is one discovered headline candidate owned by a task.
type Lead struct {
	ID          string
	TaskID      string
	Headline    string
	Source      Source
	PublishedAt *time.Time
	Status      LeadStatus
	ArticleID   *string
	CreatedAt   time.Time
}

// LocalizedText carries the three publication languages.
type LocalizedText struct {
	EN string
	CN string
	MY string
}

// Article is the persisted multilingual content record.
type Article struct {
	ID          string
	Titles      LocalizedText
	Bodies      LocalizedText
	NewsDate    time.Time
	ImageURL    *string
	Sources     []Source
	Published   bool
	Highlighted bool
	CategoryID  *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsPlaceholder reports whether the article still carries sentinel content.
func (a Article) IsPlaceholder() bool {
	return strings.HasPrefix(a.Bodies.EN, PlaceholderPrefix)
}

// Category provides optional editorial context for generation.
type Category struct {
	ID          string
	Name        string
	Description string
}

// Headline is a single discovery candidate parsed from the provider answer.
type Headline struct {
	Title       string
	Source      string
	URL         string
	PublishedAt *time.Time
}

// ScheduledSearch is a recurring automated discovery topic.
type ScheduledSearch struct {
	ID            string
	Topic         string
	IntervalHours int
	Active        bool
	LastRunAt     *time.Time
}

// SearchLog records one automated cycle execution for auditing.
type SearchLog struct {
	ID             string
	ExecutionTime  time.Time
	Topic          string
	TimeSpan       string
	RawResponse    string
	ItemsFound     int
	ItemsProcessed int
	Status         string
	Error          *string
}

// Search log statuses.
const (
	SearchLogRawFetched = "RAW_FETCHED"
	SearchLogSuccess    = "SUCCESS"
	SearchLogFailed     = "FAILED"
)
