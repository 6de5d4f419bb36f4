package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"NewsPipeline/internal/content"
	"NewsPipeline/internal/domain"
	"NewsPipeline/internal/ports"
	"NewsPipeline/pkg/metrics"
)

const drainBatchSize = 10

// RetryPolicy decides whether a failed generation attempt is retried and how
// long to wait first. attempt counts completed failures, starting at 1.
type RetryPolicy func(attempt int) (time.Duration, bool)

// NoRetry marks a lead errored on the first failure; re-queueing is a manual
// operation.
func NoRetry(int) (time.Duration, bool) { return 0, false }

// ItemOutcome reports one lead's fate inside a drain run.
type ItemOutcome struct {
	LeadID   string
	Headline string
	Status   domain.LeadStatus
	Error    string
}

// DrainResult aggregates a full drain of the rewrite queue.
type DrainResult struct {
	Processed int
	Succeeded int
	Failed    int
	Items     []ItemOutcome
}

// Rewriter drains rewrite_pending leads through the scheduler: one generation
// call per lead, then sequential per-language translations, then the article
// update. One lead's failure never aborts the drain.
type Rewriter struct {
	store    ports.Store
	client   ports.AnswerClient
	limiter  ports.Limiter
	defaults ProviderDefaults
	retry    RetryPolicy
	log      *slog.Logger
}

var _ Drainer = (*Rewriter)(nil)

// NewRewriter constructs the rewrite pipeline. retry may be nil for the
// default manual-retry-only behavior.
func NewRewriter(store ports.Store, client ports.AnswerClient, limiter ports.Limiter, defaults ProviderDefaults, retry RetryPolicy, log *slog.Logger) *Rewriter {
	if retry == nil {
		retry = NoRetry
	}
	return &Rewriter{
		store:    store,
		client:   client,
		limiter:  limiter,
		defaults: defaults,
		retry:    retry,
		log:      log,
	}
}

// generation is the structured answer expected from the content call.
type generation struct {
	Title      string   `json:"title"`
	BodyHTML   string   `json:"body_html"`
	ImageURL   string   `json:"image_url"`
	SourceURLs []string `json:"source_urls"`
}

// DrainRewriteQueue processes every rewrite_pending lead until none remain,
// including leads queued while the drain is running.
func (r *Rewriter) DrainRewriteQueue(ctx context.Context) (DrainResult, error) {
	var result DrainResult
	seen := map[string]bool{}

	for {
		leads, err := r.store.LeadsByStatus(ctx, domain.LeadRewritePending, drainBatchSize)
		if err != nil {
			return result, fmt.Errorf("list pending leads: %w", err)
		}

		progress := false
		for _, lead := range leads {
			if seen[lead.ID] {
				continue
			}
			seen[lead.ID] = true
			progress = true

			outcome := r.processLead(ctx, lead.ID)
			result.Processed++
			result.Items = append(result.Items, outcome)
			if outcome.Status == domain.LeadRewritten {
				result.Succeeded++
				metrics.LeadsProcessedTotal.WithLabelValues("rewritten").Inc()
			} else {
				result.Failed++
				metrics.LeadsProcessedTotal.WithLabelValues("error").Inc()
			}
		}

		// A batch with no unseen leads means leftover records whose status
		// update failed; stop instead of spinning on them.
		if len(leads) == 0 || !progress {
			return result, nil
		}
	}
}

// RewriteOne regenerates a single article in place, outside the lead
// lifecycle. Used for manual re-runs on already filled articles.
func (r *Rewriter) RewriteOne(ctx context.Context, articleID string) (domain.Article, error) {
	article, err := r.store.GetArticle(ctx, articleID)
	if err != nil {
		return domain.Article{}, fmt.Errorf("load article %s: %w", articleID, err)
	}

	headline := article.Titles.EN
	if headline == "" {
		headline = article.Titles.CN
	}
	if headline == "" {
		headline = article.Titles.MY
	}

	update, err := r.generate(ctx, headline, r.category(ctx, article.CategoryID), article.CategoryID)
	if err != nil {
		return domain.Article{}, err
	}

	updated, err := r.store.UpdateArticleContent(ctx, article.ID, update)
	if err != nil {
		return domain.Article{}, fmt.Errorf("update article %s: %w", article.ID, err)
	}

	return updated, nil
}

// RewriteLead processes one specific lead regardless of drain state.
func (r *Rewriter) RewriteLead(ctx context.Context, leadID string) ItemOutcome {
	return r.processLead(ctx, leadID)
}

func (r *Rewriter) processLead(ctx context.Context, leadID string) ItemOutcome {
	lead, err := r.store.GetLead(ctx, leadID)
	if err != nil {
		return r.failLead(ctx, domain.Lead{ID: leadID}, fmt.Errorf("reload lead: %w", err))
	}

	if lead.ArticleID == nil {
		return r.failLead(ctx, lead, fmt.Errorf("%w: lead %s has no article", domain.ErrInconsistentState, lead.ID))
	}

	article, err := r.store.GetArticle(ctx, *lead.ArticleID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			err = fmt.Errorf("%w: article %s is gone", domain.ErrInconsistentState, *lead.ArticleID)
		}
		return r.failLead(ctx, lead, err)
	}

	update, err := r.generate(ctx, lead.Headline, r.category(ctx, article.CategoryID), article.CategoryID)
	if err != nil {
		return r.failLead(ctx, lead, err)
	}

	if _, err := r.store.UpdateArticleContent(ctx, article.ID, update); err != nil {
		return r.failLead(ctx, lead, fmt.Errorf("update article %s: %w", article.ID, err))
	}
	if err := r.store.SetLeadStatus(ctx, lead.ID, domain.LeadRewritten); err != nil {
		return r.failLead(ctx, lead, fmt.Errorf("mark lead rewritten: %w", err))
	}

	r.log.Info("lead rewritten",
		"lead_id", lead.ID,
		"headline", lead.Headline,
		"body", content.Excerpt(update.Bodies.EN, 80))

	return ItemOutcome{LeadID: lead.ID, Headline: lead.Headline, Status: domain.LeadRewritten}
}

// generate runs the content call plus four translation calls and assembles
// the article update. The article's category is preserved as-is.
func (r *Rewriter) generate(ctx context.Context, headline string, category *domain.Category, categoryID *string) (ports.ArticleUpdate, error) {
	opts := ports.QueryOptions{
		AccountName:  r.defaults.AccountName,
		Mode:         r.defaults.Mode,
		Sources:      r.defaults.Sources,
		CollectionID: r.defaults.RewriteCollectionID,
	}

	var gen generation
	prompt := generationPrompt(headline, category)
	if err := r.callWithRetry(ctx, func(ctx context.Context) error {
		_, err := r.client.QueryJSON(ctx, prompt, opts, &gen)
		return err
	}); err != nil {
		return ports.ArticleUpdate{}, fmt.Errorf("generate content: %w", err)
	}

	if gen.Title == "" {
		gen.Title = headline
	}
	if content.Text(gen.BodyHTML) == "" {
		return ports.ArticleUpdate{}, fmt.Errorf("%w: generated body is empty", domain.ErrBadPayload)
	}

	titles := domain.LocalizedText{EN: gen.Title}
	bodies := domain.LocalizedText{EN: gen.BodyHTML}

	// Translations run sequentially through the same limiter; a failed
	// translation falls back to the English value.
	titles.CN = r.translate(ctx, opts, "Simplified Chinese", "title", gen.Title)
	bodies.CN = r.translate(ctx, opts, "Simplified Chinese", "HTML article body", gen.BodyHTML)
	titles.MY = r.translate(ctx, opts, "Malay", "title", gen.Title)
	bodies.MY = r.translate(ctx, opts, "Malay", "HTML article body", gen.BodyHTML)

	update := ports.ArticleUpdate{
		Titles:     titles,
		Bodies:     bodies,
		Sources:    sourcesFromURLs(gen.SourceURLs),
		CategoryID: categoryID,
	}
	if gen.ImageURL != "" {
		update.ImageURL = &gen.ImageURL
	}

	return update, nil
}

func (r *Rewriter) translate(ctx context.Context, opts ports.QueryOptions, language, kind, text string) string {
	prompt := translationPrompt(language, kind, text)

	var answer string
	err := r.limiter.Do(ctx, func(ctx context.Context) error {
		var callErr error
		answer, callErr = r.client.Query(ctx, prompt, opts)
		return callErr
	})
	if err != nil || strings.TrimSpace(answer) == "" {
		r.log.Warn("translation fell back to English", "language", language, "kind", kind, "error", err)
		return text
	}

	return strings.TrimSpace(answer)
}

func (r *Rewriter) callWithRetry(ctx context.Context, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := r.limiter.Do(ctx, fn)
		if err == nil {
			return nil
		}

		delay, again := r.retry(attempt)
		if !again {
			return err
		}

		r.log.Warn("generation attempt failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Rewriter) category(ctx context.Context, categoryID *string) *domain.Category {
	if categoryID == nil {
		return nil
	}
	cat, err := r.store.GetCategory(ctx, *categoryID)
	if err != nil {
		r.log.Warn("category lookup failed, generating without context", "category_id", *categoryID, "error", err)
		return nil
	}
	return &cat
}

func (r *Rewriter) failLead(ctx context.Context, lead domain.Lead, cause error) ItemOutcome {
	r.log.Error("lead rewrite failed", "lead_id", lead.ID, "error", cause)
	if lead.ID != "" {
		if err := r.store.SetLeadStatus(ctx, lead.ID, domain.LeadError); err != nil {
			r.log.Error("cannot mark lead errored", "lead_id", lead.ID, "error", err)
		}
	}
	return ItemOutcome{LeadID: lead.ID, Headline: lead.Headline, Status: domain.LeadError, Error: cause.Error()}
}

func generationPrompt(headline string, category *domain.Category) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rewrite the following news headline into a full article.\n\nHeadline: %q\n", headline)
	if category != nil {
		fmt.Fprintf(&b, "Category context: %s", category.Name)
		if category.Description != "" {
			fmt.Fprintf(&b, " - %s", category.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString(`
Return ONLY valid JSON (no markdown fences) with this shape:
{
  "title": string (English title),
  "body_html": string (publish-ready English HTML paragraphs and bullet lists),
  "image_url": string | null,
  "source_urls": string[]
}`)
	return b.String()
}

func translationPrompt(language, kind, text string) string {
	return fmt.Sprintf("Translate the following news %s into %s. Return only the translation, preserving any HTML markup.\n\n%s", kind, language, text)
}

func sourcesFromURLs(urls []string) []domain.Source {
	sources := make([]domain.Source, 0, len(urls))
	for _, raw := range urls {
		if raw == "" {
			continue
		}
		name := "Unknown"
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			name = u.Hostname()
		}
		sources = append(sources, domain.Source{Name: name, URL: raw})
	}
	return sources
}
