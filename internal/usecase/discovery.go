package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"NewsPipeline/internal/domain"
	"NewsPipeline/internal/ports"
)

// Routing selects the provider account and collection for one discovery run.
type Routing struct {
	AccountName  string
	CollectionID string
}

// ProviderDefaults fills routing gaps and fixed call options from config.
type ProviderDefaults struct {
	AccountName         string
	Mode                string
	Sources             string
	SearchCollectionID  string
	RewriteCollectionID string
}

// DiscoveryResult carries the deduplicated candidates plus run bookkeeping.
type DiscoveryResult struct {
	Headlines []domain.Headline
	Found     int    // candidates parsed before dedup
	Raw       string // raw answer text, for audit logs
}

// Discovery runs topic queries through the scheduler and answer client and
// filters candidates against already stored articles.
type Discovery struct {
	store    ports.Store
	client   ports.AnswerClient
	limiter  ports.Limiter
	defaults ProviderDefaults
	log      *slog.Logger
}

// NewDiscovery constructs the discovery engine.
func NewDiscovery(store ports.Store, client ports.AnswerClient, limiter ports.Limiter, defaults ProviderDefaults, log *slog.Logger) *Discovery {
	return &Discovery{store: store, client: client, limiter: limiter, defaults: defaults, log: log}
}

type headlineItem struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Source string `json:"source"`
	Date   string `json:"date"`
}

// HeadlineQuery builds the provider prompt for a topic.
func HeadlineQuery(topic string) string {
	return fmt.Sprintf(`Find news headlines for: %s. Return ONLY a JSON array of objects with "title", "url", "source", and "date" (YYYY-MM-DD format). Do not include any other text.`, topic)
}

// WindowedHeadlineQuery constrains the search to items published after the
// given date; used by automated cycles.
func WindowedHeadlineQuery(topic string, after time.Time) string {
	return fmt.Sprintf(`Find news about "%s" published after %s. Return ONLY a JSON array of objects with "title", "url", "source", and "date" (YYYY-MM-DD format). Do not include any other text. Ensure sources are distinct.`, topic, after.Format("2006-01-02"))
}

// Discover executes the query and returns candidates that are new to storage.
// A non-array or unparsable answer yields an empty result, not an error.
func (d *Discovery) Discover(ctx context.Context, query string, routing Routing) (DiscoveryResult, error) {
	opts := ports.QueryOptions{
		AccountName:  d.defaults.AccountName,
		Mode:         d.defaults.Mode,
		Sources:      d.defaults.Sources,
		CollectionID: d.defaults.SearchCollectionID,
	}
	if routing.AccountName != "" {
		opts.AccountName = routing.AccountName
	}
	if routing.CollectionID != "" {
		opts.CollectionID = routing.CollectionID
	}

	var (
		raw   string
		items []headlineItem
	)
	err := d.limiter.Do(ctx, func(ctx context.Context) error {
		text, err := d.client.QueryJSON(ctx, query, opts, &items)
		raw = text
		return err
	})
	if err != nil {
		// A prose answer is not a failed run; discovery proceeds with an
		// empty candidate list and the raw text is kept for auditing.
		if errors.Is(err, domain.ErrBadPayload) {
			d.log.Warn("headline answer was not structured", "error", err)
			return DiscoveryResult{Raw: raw}, nil
		}
		return DiscoveryResult{}, err
	}

	result := DiscoveryResult{Found: len(items), Raw: raw}
	seenURL := map[string]bool{}
	seenTitle := map[string]bool{}
	for _, item := range items {
		// URL is the dedup key; candidates without one are discarded.
		if item.URL == "" {
			continue
		}
		if seenURL[item.URL] || seenTitle[item.Title] {
			continue
		}
		seenURL[item.URL] = true
		seenTitle[item.Title] = true

		exists, err := d.store.ArticleSourceExists(ctx, item.URL)
		if err != nil {
			return DiscoveryResult{}, fmt.Errorf("dedup check %s: %w", item.URL, err)
		}
		if exists {
			continue
		}

		result.Headlines = append(result.Headlines, headlineFromItem(item))
	}

	return result, nil
}

func headlineFromItem(item headlineItem) domain.Headline {
	h := domain.Headline{
		Title:  item.Title,
		Source: item.Source,
		URL:    item.URL,
	}
	if h.Title == "" {
		h.Title = "Untitled"
	}
	if h.Source == "" {
		h.Source = "Unknown"
	}
	if t, err := parseDate(item.Date); err == nil {
		h.PublishedAt = &t
	}
	return h
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}
