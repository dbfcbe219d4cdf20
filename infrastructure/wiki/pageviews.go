package wiki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"graphweaver/infrastructure/persistence"
	"graphweaver/infrastructure/ratelimit"
)

// pageviewsDataStart is the first date the Wikimedia pageviews API has data
// for.
var pageviewsDataStart = time.Date(2015, 7, 1, 0, 0, 0, 0, time.UTC)

// PageviewsClient fetches per-article daily traffic from the Wikimedia REST
// API, using the article creation date to bound the averaging window. The
// pageviews endpoint has its own request budget, so it is paced separately
// from the MediaWiki APIs.
type PageviewsClient struct {
	apiBase   string
	wiki      *Client
	pacer     *ratelimit.Pacer
	creations *persistence.CreationDateCache
	conv      interface {
		Simplify(string) string
		Traditionalize(string) string
	}
	logger *zap.Logger
	now    func() time.Time
}

// NewPageviewsClient wires the pageviews client on top of the wiki client.
// pacer governs only the pageviews endpoint; creation-date lookups still ride
// the wiki client's own pacer.
func NewPageviewsClient(apiBase string, wikiClient *Client, pacer *ratelimit.Pacer, creations *persistence.CreationDateCache, logger *zap.Logger) *PageviewsClient {
	return &PageviewsClient{
		apiBase:   apiBase,
		wiki:      wikiClient,
		pacer:     pacer,
		creations: creations,
		conv:      wikiClient.conv,
		logger:    logger,
		now:       time.Now,
	}
}

// creationDate resolves an article's creation date, cache first.
func (p *PageviewsClient) creationDate(ctx context.Context, title, lang string) (time.Time, bool) {
	if t, ok := p.creations.Get(title); ok && !t.IsZero() {
		return t, true
	}
	t, ok := p.wiki.GetCreationDate(ctx, title, lang)
	if ok {
		p.creations.Put(title, t)
	}
	return t, ok
}

type pageviewsResponse struct {
	Items []struct {
		Timestamp string `json:"timestamp"`
		Views     int64  `json:"views"`
	} `json:"items"`
}

// fetchStats queries one title's daily views over the last year, clipped to
// the article's lifetime. ok is false when either the creation date or the
// pageviews request failed.
func (p *PageviewsClient) fetchStats(ctx context.Context, title, lang string) (persistence.PageviewStats, bool) {
	created, ok := p.creationDate(ctx, title, lang)
	if !ok {
		return persistence.PageviewStats{}, false
	}

	end := p.now().UTC().AddDate(0, 0, -1)
	start := end.AddDate(0, 0, -365)
	effectiveStart := created
	if effectiveStart.Before(pageviewsDataStart) {
		effectiveStart = pageviewsDataStart
	}
	if !end.After(effectiveStart) {
		return persistence.PageviewStats{}, true
	}

	encoded := url.PathEscape(strings.ReplaceAll(title, " ", "_"))
	target := p.apiBase + lang + ".wikipedia.org/all-access/user/" + encoded +
		"/daily/" + start.Format("2006010200") + "/" + end.Format("2006010200")

	body, status, err := p.wiki.getPaced(ctx, "pageviews", target, p.pacer)
	if err != nil || status == http.StatusNotFound {
		return persistence.PageviewStats{}, false
	}
	if status != http.StatusOK {
		return persistence.PageviewStats{}, false
	}

	var resp pageviewsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return persistence.PageviewStats{}, false
	}

	var total int64
	var days int
	for _, item := range resp.Items {
		ts, err := time.Parse("2006010215", item.Timestamp)
		if err != nil || ts.Before(effectiveStart) {
			continue
		}
		total += item.Views
		days++
	}
	if days == 0 {
		return persistence.PageviewStats{}, true
	}
	return persistence.PageviewStats{
		TotalViews:    total,
		AvgDailyViews: float64(total) / float64(days),
	}, true
}

// Stats fetches traffic stats for a title, falling back to the other
// Chinese script when the original form has no article. The returned stats
// carry the check timestamp; a total of -1 marks a failed lookup.
func (p *PageviewsClient) Stats(ctx context.Context, title, lang string) persistence.PageviewStats {
	stats, ok := p.fetchStats(ctx, title, lang)
	if !ok && lang == "zh" {
		for _, candidate := range []string{p.conv.Traditionalize(title), p.conv.Simplify(title)} {
			if candidate == title {
				continue
			}
			p.logger.Info("pageviews lookup failed, trying alternate script",
				zap.String("title", title), zap.String("candidate", candidate))
			if stats, ok = p.fetchStats(ctx, candidate, lang); ok {
				break
			}
		}
	}
	stats.CheckTimestamp = p.now().UTC()
	if !ok {
		stats.TotalViews = -1
		stats.AvgDailyViews = 0
		stats.Error = "api and fallback failed"
	}
	return stats
}
