package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"NewsPipeline/internal/domain"
	"NewsPipeline/internal/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// nopLimiter dispatches immediately; interval behavior is covered by the
// ratelimit package's own tests.
type nopLimiter struct{}

func (nopLimiter) Do(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// fakeClient answers queries from a programmable function.
type fakeClient struct {
	mu      sync.Mutex
	calls   []string
	queryFn func(query string, opts ports.QueryOptions) (string, error)
}

var _ ports.AnswerClient = (*fakeClient)(nil)

func (f *fakeClient) Query(ctx context.Context, query string, opts ports.QueryOptions) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, query)
	f.mu.Unlock()
	return f.queryFn(query, opts)
}

func (f *fakeClient) QueryJSON(ctx context.Context, query string, opts ports.QueryOptions, v any) (string, error) {
	text, err := f.Query(ctx, query, opts)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return text, fmt.Errorf("%w: %v", domain.ErrBadPayload, err)
	}
	return text, nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// memStore is an in-memory Store + ScheduleStore with the same contractual
// behavior as the Postgres adapter.
type memStore struct {
	mu        sync.Mutex
	seq       int
	tasks     map[string]*domain.Task
	leads     map[string]*domain.Lead
	articles  map[string]*domain.Article
	category  map[string]domain.Category
	schedules map[string]*domain.ScheduledSearch
	logs      map[string]*domain.SearchLog

	failCreateLeads bool
}

var _ ports.Store = (*memStore)(nil)
var _ ports.ScheduleStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		tasks:     map[string]*domain.Task{},
		leads:     map[string]*domain.Lead{},
		articles:  map[string]*domain.Article{},
		category:  map[string]domain.Category{},
		schedules: map[string]*domain.ScheduledSearch{},
		logs:      map[string]*domain.SearchLog{},
	}
}

func (s *memStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *memStore) CreateTask(ctx context.Context, in ports.CreateTaskInput) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := domain.Task{
		ID:           s.nextID("task"),
		Query:        in.Query,
		AccountName:  in.AccountName,
		CollectionID: in.CollectionID,
		CategoryID:   in.CategoryID,
		Status:       domain.TaskPending,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	s.tasks[task.ID] = &task
	return task, nil
}

func (s *memStore) GetTask(ctx context.Context, id string) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return *task, nil
}

func (s *memStore) SetTaskStatus(ctx context.Context, id string, status domain.TaskStatus, errText *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	task.Status = status
	task.Error = errText
	task.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) LeadsForTask(ctx context.Context, taskID string) ([]domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Lead
	for _, lead := range s.leads {
		if lead.TaskID == taskID {
			out = append(out, *lead)
		}
	}
	return out, nil
}

func (s *memStore) DeleteLeadsAndArticles(ctx context.Context, leadIDs, articleIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range leadIDs {
		delete(s.leads, id)
	}
	for _, id := range articleIDs {
		delete(s.articles, id)
	}
	return nil
}

func (s *memStore) CreateLeads(ctx context.Context, taskID string, headlines []domain.Headline) ([]domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreateLeads {
		return nil, fmt.Errorf("storage unavailable")
	}

	var out []domain.Lead
	for _, h := range headlines {
		duplicate := false
		for _, existing := range s.leads {
			if existing.TaskID == taskID && existing.Headline == h.Title {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}

		lead := domain.Lead{
			ID:          s.nextID("lead"),
			TaskID:      taskID,
			Headline:    h.Title,
			Source:      domain.Source{Name: h.Source, URL: h.URL},
			PublishedAt: h.PublishedAt,
			Status:      domain.LeadPending,
			CreatedAt:   time.Now(),
		}
		s.leads[lead.ID] = &lead
		out = append(out, lead)
	}
	return out, nil
}

func (s *memStore) LeadsByStatus(ctx context.Context, status domain.LeadStatus, limit int) ([]domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Lead
	for _, lead := range s.leads {
		if lead.Status != status {
			continue
		}
		out = append(out, *lead)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) GetLead(ctx context.Context, id string) (domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[id]
	if !ok {
		return domain.Lead{}, fmt.Errorf("lead %s: %w", id, domain.ErrNotFound)
	}
	return *lead, nil
}

func (s *memStore) SetLeadStatus(ctx context.Context, id string, status domain.LeadStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[id]
	if !ok {
		return fmt.Errorf("lead %s: %w", id, domain.ErrNotFound)
	}
	lead.Status = status
	return nil
}

func (s *memStore) LinkLeadToArticle(ctx context.Context, leadID, articleID string, status domain.LeadStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[leadID]
	if !ok {
		return fmt.Errorf("lead %s: %w", leadID, domain.ErrNotFound)
	}
	lead.ArticleID = &articleID
	lead.Status = status
	return nil
}

func (s *memStore) CreatePlaceholderArticle(ctx context.Context, in ports.PlaceholderInput) (domain.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	article := domain.Article{
		ID:         s.nextID("article"),
		Titles:     in.Titles,
		Bodies:     in.Bodies,
		NewsDate:   in.NewsDate,
		Sources:    in.Sources,
		CategoryID: in.CategoryID,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	s.articles[article.ID] = &article
	return article, nil
}

func (s *memStore) GetArticle(ctx context.Context, id string) (domain.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	article, ok := s.articles[id]
	if !ok {
		return domain.Article{}, fmt.Errorf("article %s: %w", id, domain.ErrNotFound)
	}
	return *article, nil
}

func (s *memStore) UpdateArticleContent(ctx context.Context, id string, in ports.ArticleUpdate) (domain.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	article, ok := s.articles[id]
	if !ok {
		return domain.Article{}, fmt.Errorf("article %s: %w", id, domain.ErrNotFound)
	}
	article.Titles = in.Titles
	article.Bodies = in.Bodies
	article.Sources = in.Sources
	article.ImageURL = in.ImageURL
	article.CategoryID = in.CategoryID
	article.UpdatedAt = time.Now()
	return *article, nil
}

func (s *memStore) ArticleSourceExists(ctx context.Context, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, article := range s.articles {
		for _, src := range article.Sources {
			if src.URL == url {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *memStore) GetCategory(ctx context.Context, id string) (domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cat, ok := s.category[id]
	if !ok {
		return domain.Category{}, fmt.Errorf("category %s: %w", id, domain.ErrNotFound)
	}
	return cat, nil
}

func (s *memStore) DueScheduledSearches(ctx context.Context, now time.Time) ([]domain.ScheduledSearch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ScheduledSearch
	for _, search := range s.schedules {
		if !search.Active {
			continue
		}
		if search.LastRunAt == nil || now.After(search.LastRunAt.Add(time.Duration(search.IntervalHours)*time.Hour)) {
			out = append(out, *search)
		}
	}
	return out, nil
}

func (s *memStore) MarkScheduledSearchRun(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	search, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("scheduled search %s: %w", id, domain.ErrNotFound)
	}
	search.LastRunAt = &at
	return nil
}

func (s *memStore) InsertSearchLog(ctx context.Context, entry domain.SearchLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[entry.ID] = &entry
	return nil
}

func (s *memStore) UpdateSearchLog(ctx context.Context, id string, itemsProcessed int, status string, errText *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.logs[id]
	if !ok {
		return fmt.Errorf("search log %s: %w", id, domain.ErrNotFound)
	}
	entry.ItemsProcessed = itemsProcessed
	entry.Status = status
	entry.Error = errText
	return nil
}

// leadsWithStatus is a test helper counting leads per status.
func (s *memStore) leadsWithStatus(status domain.LeadStatus) []domain.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Lead
	for _, lead := range s.leads {
		if lead.Status == status {
			out = append(out, *lead)
		}
	}
	return out
}
