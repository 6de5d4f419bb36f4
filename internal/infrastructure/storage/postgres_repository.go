package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"NewsPipeline/internal/domain"
	"NewsPipeline/internal/ports"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresRepository persists tasks, leads, articles, scheduled searches, and
// search logs into Postgres.
type PostgresRepository struct {
	db *sql.DB
}

var _ ports.Store = (*PostgresRepository)(nil)
var _ ports.ScheduleStore = (*PostgresRepository)(nil)

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateTask inserts a pending discovery task.
func (r *PostgresRepository) CreateTask(ctx context.Context, in ports.CreateTaskInput) (domain.Task, error) {
	task := domain.Task{
		ID:           uuid.NewString(),
		Query:        in.Query,
		AccountName:  in.AccountName,
		CollectionID: in.CollectionID,
		CategoryID:   in.CategoryID,
		Status:       domain.TaskPending,
	}

	query, args, err := psql.Insert("news_tasks").
		Columns("id", "query", "account_name", "collection_uuid", "category_id", "status").
		Values(task.ID, task.Query, task.AccountName, task.CollectionID, task.CategoryID, task.Status).
		Suffix("RETURNING created_at, updated_at").
		ToSql()
	if err != nil {
		return domain.Task{}, fmt.Errorf("build insert task: %w", err)
	}

	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&task.CreatedAt, &task.UpdatedAt); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}

	return task, nil
}

// GetTask loads a task by id.
func (r *PostgresRepository) GetTask(ctx context.Context, id string) (domain.Task, error) {
	query, args, err := psql.Select("id", "query", "account_name", "collection_uuid", "category_id", "status", "error", "created_at", "updated_at").
		From("news_tasks").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.Task{}, fmt.Errorf("build select task: %w", err)
	}

	var task domain.Task
	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&task.ID, &task.Query, &task.AccountName, &task.CollectionID,
		&task.CategoryID, &task.Status, &task.Error, &task.CreatedAt, &task.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("select task: %w", err)
	}

	return task, nil
}

// SetTaskStatus updates the status and replaces the stored error (nil clears it).
func (r *PostgresRepository) SetTaskStatus(ctx context.Context, id string, status domain.TaskStatus, errText *string) error {
	query, args, err := psql.Update("news_tasks").
		Set("status", status).
		Set("error", errText).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update task status: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}

	return nil
}

const leadColumns = "id, task_id, headline, source, published_at, status, news_id, created_at"

func scanLead(row interface{ Scan(...any) error }) (domain.Lead, error) {
	var (
		lead      domain.Lead
		sourceRaw []byte
	)
	if err := row.Scan(&lead.ID, &lead.TaskID, &lead.Headline, &sourceRaw,
		&lead.PublishedAt, &lead.Status, &lead.ArticleID, &lead.CreatedAt); err != nil {
		return domain.Lead{}, err
	}
	if len(sourceRaw) > 0 {
		if err := json.Unmarshal(sourceRaw, &lead.Source); err != nil {
			return domain.Lead{}, fmt.Errorf("decode lead source: %w", err)
		}
	}
	return lead, nil
}

// LeadsForTask returns every lead owned by the task, newest first.
func (r *PostgresRepository) LeadsForTask(ctx context.Context, taskID string) ([]domain.Lead, error) {
	query, args, err := psql.Select(leadColumns).
		From("news_leads").
		Where(sq.Eq{"task_id": taskID}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select leads: %w", err)
	}

	return r.queryLeads(ctx, query, args)
}

// LeadsByStatus returns leads in the given status; limit <= 0 means no limit.
func (r *PostgresRepository) LeadsByStatus(ctx context.Context, status domain.LeadStatus, limit int) ([]domain.Lead, error) {
	builder := psql.Select(leadColumns).
		From("news_leads").
		Where(sq.Eq{"status": status}).
		OrderBy("created_at ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select leads by status: %w", err)
	}

	return r.queryLeads(ctx, query, args)
}

func (r *PostgresRepository) queryLeads(ctx context.Context, query string, args []any) ([]domain.Lead, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	defer rows.Close()

	var leads []domain.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return leads, nil
}

// GetLead loads a lead by id.
func (r *PostgresRepository) GetLead(ctx context.Context, id string) (domain.Lead, error) {
	query, args, err := psql.Select(leadColumns).
		From("news_leads").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.Lead{}, fmt.Errorf("build select lead: %w", err)
	}

	lead, err := scanLead(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Lead{}, fmt.Errorf("lead %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Lead{}, fmt.Errorf("select lead: %w", err)
	}

	return lead, nil
}

// SetLeadStatus updates a lead's pipeline status.
func (r *PostgresRepository) SetLeadStatus(ctx context.Context, id string, status domain.LeadStatus) error {
	query, args, err := psql.Update("news_leads").
		Set("status", status).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update lead status: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update lead status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("lead %s: %w", id, domain.ErrNotFound)
	}

	return nil
}

// LinkLeadToArticle attaches the article and advances the lead status in one statement.
func (r *PostgresRepository) LinkLeadToArticle(ctx context.Context, leadID, articleID string, status domain.LeadStatus) error {
	query, args, err := psql.Update("news_leads").
		Set("news_id", articleID).
		Set("status", status).
		Where(sq.Eq{"id": leadID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build link lead: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("link lead to article: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("lead %s: %w", leadID, domain.ErrNotFound)
	}

	return nil
}

// CreateLeads inserts one pending lead per headline inside a single
// transaction. Headlines that collide with the (task_id, headline) unique
// index are skipped; any other failure rolls the whole batch back.
func (r *PostgresRepository) CreateLeads(ctx context.Context, taskID string, headlines []domain.Headline) ([]domain.Lead, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create leads: %w", err)
	}
	defer tx.Rollback()

	const insert = `INSERT INTO news_leads (id, task_id, headline, source, published_at, status)
	                VALUES ($1, $2, $3, $4, $5, $6)
	                ON CONFLICT (task_id, headline) DO NOTHING
	                RETURNING created_at`

	leads := make([]domain.Lead, 0, len(headlines))
	for _, h := range headlines {
		lead := domain.Lead{
			ID:          uuid.NewString(),
			TaskID:      taskID,
			Headline:    h.Title,
			Source:      domain.Source{Name: h.Source, URL: h.URL},
			PublishedAt: h.PublishedAt,
			Status:      domain.LeadPending,
		}

		sourceRaw, err := json.Marshal(lead.Source)
		if err != nil {
			return nil, fmt.Errorf("encode lead source: %w", err)
		}

		err = tx.QueryRowContext(ctx, insert,
			lead.ID, lead.TaskID, lead.Headline, sourceRaw, lead.PublishedAt, lead.Status).
			Scan(&lead.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			continue // duplicate headline within this task
		}
		if err != nil {
			return nil, fmt.Errorf("insert lead %q: %w", h.Title, err)
		}

		leads = append(leads, lead)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create leads: %w", err)
	}

	return leads, nil
}

// DeleteLeadsAndArticles removes both record sets in one transaction so a
// crash never leaves orphaned articles or dangling leads.
func (r *PostgresRepository) DeleteLeadsAndArticles(ctx context.Context, leadIDs, articleIDs []string) error {
	if len(leadIDs) == 0 && len(articleIDs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cleanup: %w", err)
	}
	defer tx.Rollback()

	if len(leadIDs) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM news_leads WHERE id = ANY($1)`, pq.Array(leadIDs)); err != nil {
			return fmt.Errorf("delete leads: %w", err)
		}
	}
	if len(articleIDs) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM articles WHERE id = ANY($1)`, pq.Array(articleIDs)); err != nil {
			return fmt.Errorf("delete articles: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cleanup: %w", err)
	}

	return nil
}

const articleColumns = `id, title_en, title_cn, title_my, content_en, content_cn, content_my,
	news_date, image_url, sources, is_published, is_highlight, category_id, created_at, updated_at`

func scanArticle(row interface{ Scan(...any) error }) (domain.Article, error) {
	var (
		a          domain.Article
		sourcesRaw []byte
	)
	if err := row.Scan(&a.ID,
		&a.Titles.EN, &a.Titles.CN, &a.Titles.MY,
		&a.Bodies.EN, &a.Bodies.CN, &a.Bodies.MY,
		&a.NewsDate, &a.ImageURL, &sourcesRaw,
		&a.Published, &a.Highlighted, &a.CategoryID,
		&a.CreatedAt, &a.UpdatedAt); err != nil {
		return domain.Article{}, err
	}
	if len(sourcesRaw) > 0 {
		if err := json.Unmarshal(sourcesRaw, &a.Sources); err != nil {
			return domain.Article{}, fmt.Errorf("decode article sources: %w", err)
		}
	}
	return a, nil
}

// CreatePlaceholderArticle inserts an unpublished article with sentinel content.
func (r *PostgresRepository) CreatePlaceholderArticle(ctx context.Context, in ports.PlaceholderInput) (domain.Article, error) {
	sourcesRaw, err := json.Marshal(in.Sources)
	if err != nil {
		return domain.Article{}, fmt.Errorf("encode sources: %w", err)
	}

	id := uuid.NewString()
	query, args, err := psql.Insert("articles").
		Columns("id", "title_en", "title_cn", "title_my",
			"content_en", "content_cn", "content_my",
			"news_date", "sources", "is_published", "is_highlight", "category_id").
		Values(id, in.Titles.EN, in.Titles.CN, in.Titles.MY,
			in.Bodies.EN, in.Bodies.CN, in.Bodies.MY,
			in.NewsDate, sourcesRaw, false, false, in.CategoryID).
		Suffix("RETURNING " + articleColumns).
		ToSql()
	if err != nil {
		return domain.Article{}, fmt.Errorf("build insert article: %w", err)
	}

	article, err := scanArticle(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return domain.Article{}, fmt.Errorf("insert article: %w", err)
	}

	return article, nil
}

// GetArticle loads an article by id.
func (r *PostgresRepository) GetArticle(ctx context.Context, id string) (domain.Article, error) {
	query, args, err := psql.Select(articleColumns).
		From("articles").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.Article{}, fmt.Errorf("build select article: %w", err)
	}

	article, err := scanArticle(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Article{}, fmt.Errorf("article %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Article{}, fmt.Errorf("select article: %w", err)
	}

	return article, nil
}

// UpdateArticleContent replaces generated content while keeping publication flags.
func (r *PostgresRepository) UpdateArticleContent(ctx context.Context, id string, in ports.ArticleUpdate) (domain.Article, error) {
	sourcesRaw, err := json.Marshal(in.Sources)
	if err != nil {
		return domain.Article{}, fmt.Errorf("encode sources: %w", err)
	}

	query, args, err := psql.Update("articles").
		Set("title_en", in.Titles.EN).
		Set("title_cn", in.Titles.CN).
		Set("title_my", in.Titles.MY).
		Set("content_en", in.Bodies.EN).
		Set("content_cn", in.Bodies.CN).
		Set("content_my", in.Bodies.MY).
		Set("sources", sourcesRaw).
		Set("image_url", in.ImageURL).
		Set("category_id", in.CategoryID).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + articleColumns).
		ToSql()
	if err != nil {
		return domain.Article{}, fmt.Errorf("build update article: %w", err)
	}

	article, err := scanArticle(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Article{}, fmt.Errorf("article %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Article{}, fmt.Errorf("update article: %w", err)
	}

	return article, nil
}

// ArticleSourceExists reports whether any stored article lists the URL among
// its sources. Sources are a JSONB array of {name, url} objects.
func (r *PostgresRepository) ArticleSourceExists(ctx context.Context, url string) (bool, error) {
	const query = `SELECT 1 FROM articles, jsonb_array_elements(sources) AS src
	               WHERE src->>'url' = $1 LIMIT 1`

	var one int
	err := r.db.QueryRowContext(ctx, query, url).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("source existence check: %w", err)
	}

	return true, nil
}

// GetCategory loads a category by id.
func (r *PostgresRepository) GetCategory(ctx context.Context, id string) (domain.Category, error) {
	query, args, err := psql.Select("id", "name_en", "COALESCE(description_en, '')").
		From("categories").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.Category{}, fmt.Errorf("build select category: %w", err)
	}

	var cat domain.Category
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&cat.ID, &cat.Name, &cat.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Category{}, fmt.Errorf("category %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Category{}, fmt.Errorf("select category: %w", err)
	}

	return cat, nil
}

// DueScheduledSearches returns active searches whose interval has elapsed
// since their last run; never-run searches are always due.
func (r *PostgresRepository) DueScheduledSearches(ctx context.Context, now time.Time) ([]domain.ScheduledSearch, error) {
	const query = `SELECT id, topic, interval_hours, active, last_run_at
	               FROM scheduled_searches
	               WHERE active = true
	                 AND (last_run_at IS NULL
	                      OR $1 > last_run_at + (interval_hours * INTERVAL '1 hour'))`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("query due searches: %w", err)
	}
	defer rows.Close()

	var searches []domain.ScheduledSearch
	for rows.Next() {
		var s domain.ScheduledSearch
		if err := rows.Scan(&s.ID, &s.Topic, &s.IntervalHours, &s.Active, &s.LastRunAt); err != nil {
			return nil, fmt.Errorf("scan scheduled search: %w", err)
		}
		searches = append(searches, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return searches, nil
}

// MarkScheduledSearchRun stamps the search with its latest execution time.
func (r *PostgresRepository) MarkScheduledSearchRun(ctx context.Context, id string, at time.Time) error {
	query, args, err := psql.Update("scheduled_searches").
		Set("last_run_at", at).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark search run: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark search run: %w", err)
	}

	return nil
}

// InsertSearchLog writes the audit row for one automated cycle.
func (r *PostgresRepository) InsertSearchLog(ctx context.Context, entry domain.SearchLog) error {
	query, args, err := psql.Insert("search_logs").
		Columns("id", "execution_time", "topic_searched", "time_span_used",
			"raw_response", "items_found", "items_processed", "status", "error_message").
		Values(entry.ID, entry.ExecutionTime, entry.Topic, entry.TimeSpan,
			entry.RawResponse, entry.ItemsFound, entry.ItemsProcessed, entry.Status, entry.Error).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert search log: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert search log: %w", err)
	}

	return nil
}

// UpdateSearchLog finalizes the audit row once the cycle settles.
func (r *PostgresRepository) UpdateSearchLog(ctx context.Context, id string, itemsProcessed int, status string, errText *string) error {
	query, args, err := psql.Update("search_logs").
		Set("items_processed", itemsProcessed).
		Set("status", status).
		Set("error_message", errText).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update search log: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update search log: %w", err)
	}

	return nil
}
