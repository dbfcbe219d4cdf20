// Package wiki talks to the MediaWiki APIs, the Wikidata entity API and the
// fallback encyclopedia sources, with Q-code and link-status caching on top.
package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"graphweaver/infrastructure/persistence"
	"graphweaver/infrastructure/ratelimit"
	"graphweaver/pkg/errors"
	"graphweaver/pkg/observability"
	"graphweaver/pkg/zh"
)

// TitleUpdater receives watch-list corrections discovered as side effects of
// wiki lookups, such as redirect resolutions.
type TitleUpdater interface {
	UpdateTitle(oldTitle, newTitle string) error
	AddTitle(title string) error
}

// NopTitleUpdater discards updates; used when no watch list is attached.
type NopTitleUpdater struct{}

func (NopTitleUpdater) UpdateTitle(string, string) error { return nil }
func (NopTitleUpdater) AddTitle(string) error            { return nil }

// Config carries the endpoints and pacing for the client.
type Config struct {
	APIURLTemplate  string
	BaseURLTemplate string
	WikidataAPIURL  string
	BaiduBaseURL    string
	CDTSpaceBaseURL string
	UserAgent       string
}

// Client is the wiki access layer. All outbound requests go through the
// shared pacer; results feed the Q-code and link-status caches.
type Client struct {
	cfg    Config
	http   *http.Client
	pacer  *ratelimit.Pacer
	conv   *zh.Converter
	qcodes *persistence.QcodeCache
	links  *persistence.LinkStatusCache
	titles TitleUpdater

	// baiduBreaker stops probing Baidu once the shared IP starts getting
	// rejected, instead of burning the whole run on blocked requests.
	baiduBreaker *gobreaker.CircuitBreaker

	metrics *observability.Metrics
	logger  *zap.Logger
	randFn  func() float64
	sleep   func(time.Duration)
}

// NewClient wires the wiki client.
func NewClient(cfg Config, pacer *ratelimit.Pacer, conv *zh.Converter, qcodes *persistence.QcodeCache, links *persistence.LinkStatusCache, titles TitleUpdater, metrics *observability.Metrics, logger *zap.Logger) *Client {
	if titles == nil {
		titles = NopTitleUpdater{}
	}
	if cfg.WikidataAPIURL == "" {
		cfg.WikidataAPIURL = "https://www.wikidata.org/w/api.php"
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 20 * time.Second},
		pacer:  pacer,
		conv:   conv,
		qcodes: qcodes,
		links:  links,
		titles: titles,
		baiduBreaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "baidu-probe",
			Timeout: 5 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		metrics: metrics,
		logger:  logger,
		randFn:  rand.Float64,
		sleep:   time.Sleep,
	}
}

func (c *Client) apiURL(lang string) string {
	return strings.Replace(c.cfg.APIURLTemplate, "{lang}", lang, 1)
}

func (c *Client) rawURL(lang, title string) string {
	base := strings.Replace(c.cfg.BaseURLTemplate, "{lang}", lang, 1)
	return base + url.PathEscape(strings.ReplaceAll(title, " ", "_")) + "?action=raw"
}

// get performs a paced GET. 429 responses are abandoned, never retried, so
// the shared-IP budget is not inflamed further.
func (c *Client) get(ctx context.Context, endpoint, rawurl string) ([]byte, int, error) {
	return c.getPaced(ctx, endpoint, rawurl, c.pacer)
}

// getPaced is get under a caller-supplied pacer, for endpoints that carry
// their own request budget.
func (c *Client) getPaced(ctx context.Context, endpoint, rawurl string, pacer *ratelimit.Pacer) ([]byte, int, error) {
	release, err := pacer.Acquire(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, 0, errors.NewInternal("failed to build request", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.WikiRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, 0, errors.Wrap(err, "wiki request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.metrics.WikiRequests.WithLabelValues(endpoint, "throttled").Inc()
		return nil, resp.StatusCode, errors.NewRateLimit("wiki returned 429, request abandoned")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.WikiRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, resp.StatusCode, errors.Wrap(err, "failed to read response body")
	}
	c.metrics.WikiRequests.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()
	return body, resp.StatusCode, nil
}

func (c *Client) getAPI(ctx context.Context, endpoint, lang string, params url.Values) ([]byte, error) {
	body, status, err := c.get(ctx, endpoint, c.apiURL(lang)+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, errors.NewInternal(fmt.Sprintf("wiki API returned status %d", status), nil)
	}
	return body, nil
}

type pagePropsResponse struct {
	Query struct {
		Pages []struct {
			Title     string            `json:"title"`
			Missing   bool              `json:"missing"`
			PageProps map[string]string `json:"pageprops"`
			Revisions []struct {
				Timestamp string `json:"timestamp"`
			} `json:"revisions"`
		} `json:"pages"`
	} `json:"query"`
}

// fetchQcodeFromAPI resolves one title to (qcode, finalTitle) following
// redirects; disambiguation pages resolve to nothing.
func (c *Client) fetchQcodeFromAPI(ctx context.Context, title, lang string) (string, string) {
	params := url.Values{
		"action":        {"query"},
		"prop":          {"pageprops"},
		"ppprop":        {"wikibase_item"},
		"titles":        {title},
		"redirects":     {"1"},
		"format":        {"json"},
		"formatversion": {"2"},
	}
	body, err := c.getAPI(ctx, "pageprops", lang, params)
	if err != nil {
		return "", ""
	}
	var resp pagePropsResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Query.Pages) == 0 {
		return "", ""
	}
	page := resp.Query.Pages[0]
	if page.Missing {
		return "", ""
	}
	if _, disambig := page.PageProps["disambiguation"]; disambig {
		c.logger.Warn("title resolved to a disambiguation page, ignored",
			zap.String("title", title))
		return "", ""
	}
	return page.PageProps["wikibase_item"], page.Title
}

// GetQcode resolves a title to its Wikidata Q-code and authoritative title.
// A title already in the Q-code cache resolves without a request and is
// returned as-is; the watch list was canonicalized when it was first cached.
// For zh a failed lookup is retried with the traditional form. A redirect
// detected along the way updates the watch list; all encountered titles are
// added to the Q-code cache.
func (c *Client) GetQcode(ctx context.Context, title, lang string) (string, string) {
	if qcode, ok := c.qcodes.QcodeForTitle(title); ok {
		c.metrics.CacheLookups.WithLabelValues("qcode", "hit").Inc()
		return qcode, title
	}
	c.metrics.CacheLookups.WithLabelValues("qcode", "miss").Inc()

	qcode, finalTitle := c.fetchQcodeFromAPI(ctx, title, lang)

	traditional := ""
	if qcode == "" && lang == "zh" {
		traditional = c.conv.Traditionalize(title)
		if traditional != title {
			c.logger.Info("retrying lookup with traditional form",
				zap.String("title", title), zap.String("traditional", traditional))
			qcode, finalTitle = c.fetchQcodeFromAPI(ctx, traditional, lang)
		}
	}

	if qcode == "" || finalTitle == "" {
		return "", ""
	}

	if finalTitle != title {
		c.logger.Info("redirect detected, updating watch list",
			zap.String("from", title), zap.String("to", finalTitle))
		if err := c.titles.UpdateTitle(title, finalTitle); err != nil {
			c.logger.Warn("failed to update watch list", zap.Error(err))
		}
	}

	titles := []string{title, finalTitle}
	if traditional != "" {
		titles = append(titles, traditional)
	}
	c.qcodes.AddTitles(qcode, titles...)

	return qcode, finalTitle
}

// GetWikitext fetches the raw wikitext for a title, following redirects to
// the authoritative page first. zh content is converted to simplified.
func (c *Client) GetWikitext(ctx context.Context, title, lang string) (string, string) {
	_, finalTitle := c.fetchQcodeFromAPI(ctx, title, lang)
	if finalTitle == "" {
		c.logger.Error("no resolvable page for title",
			zap.String("title", title), zap.String("lang", lang))
		return "", ""
	}
	if finalTitle != title {
		if err := c.titles.UpdateTitle(title, finalTitle); err != nil {
			c.logger.Warn("failed to update watch list", zap.Error(err))
		}
	}

	body, status, err := c.get(ctx, "raw", c.rawURL(lang, finalTitle))
	if err != nil || status != http.StatusOK {
		c.logger.Error("failed to fetch wikitext",
			zap.String("title", finalTitle), zap.Int("status", status), zap.Error(err))
		return "", ""
	}

	text := string(body)
	if lang == "zh" {
		text = c.conv.Simplify(text)
	}
	return text, finalTitle
}

var redirectTargetPattern = regexp.MustCompile(`\[\[(.*?)\]\]`)

// checkWikiStatusRaw classifies a title by fetching its raw content.
func (c *Client) checkWikiStatusRaw(ctx context.Context, title, lang string) (LinkStatus, string) {
	body, status, err := c.get(ctx, "raw", c.rawURL(lang, title))
	if err != nil {
		return StatusError, err.Error()
	}
	if status == http.StatusNotFound {
		return StatusNoPage, ""
	}
	if status != http.StatusOK {
		return StatusError, fmt.Sprintf("status %d", status)
	}

	content := strings.TrimSpace(string(body))
	if content == "" {
		return StatusNoPage, ""
	}

	normalized := strings.ToLower(strings.TrimLeft(content, " \t\n\r"))
	if strings.HasPrefix(normalized, "#redirect") || strings.HasPrefix(normalized, "#重定向") {
		match := redirectTargetPattern.FindStringSubmatch(content)
		if match == nil {
			return StatusError, "malformed redirect"
		}
		target := strings.TrimSpace(strings.SplitN(match[1], "#", 2)[0])
		if lang == "zh" && c.conv.NormalizeKey(target) == c.conv.NormalizeKey(title) {
			return StatusSimpTradRedirect, target
		}
		return StatusRedirect, target
	}

	if strings.Contains(normalized, "{{disambig") || strings.Contains(normalized, "{{hndis") {
		return StatusDisambig, ""
	}
	return StatusOK, ""
}

// CheckLinkStatus classifies a name with caching and multi-source fallback.
// zh names without a wiki page are probed against Baidu Baike and the China
// Digital Times space before giving up.
func (c *Client) CheckLinkStatus(ctx context.Context, title, lang string) (LinkStatus, string) {
	if entry, ok := c.links.Get(title); ok {
		c.metrics.CacheLookups.WithLabelValues("link_status", "hit").Inc()
		return LinkStatus(entry.Status), entry.Detail
	}
	c.metrics.CacheLookups.WithLabelValues("link_status", "miss").Inc()

	status, detail := c.checkWikiStatusRaw(ctx, title, lang)

	if status.Terminal() && lang == "zh" {
		if c.probeBaidu(ctx, title) {
			status, detail = StatusBaidu, ""
		} else if c.probeCDT(ctx, title) {
			status, detail = StatusCDT, ""
		}
	}

	if !status.Terminal() {
		c.links.Put(title, string(status), detail)
	}
	return status, detail
}

// probeBaidu checks whether a Baidu Baike entry exists. Requests impersonate
// a browser and are followed by a randomized delay so the shared IP is not
// throttled; the breaker shorts the probe entirely once Baidu starts
// rejecting us.
func (c *Client) probeBaidu(ctx context.Context, title string) bool {
	target := c.cfg.BaiduBaseURL + url.PathEscape(strings.ReplaceAll(title, " ", "_"))
	result, err := c.baiduBreaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return false, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/110.0.0.0 Safari/537.36")
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9")

		resp, err := c.http.Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		c.sleep(time.Duration((1.0 + 1.5*c.randFn()) * float64(time.Second)))

		if resp.StatusCode >= 400 {
			return false, fmt.Errorf("baidu returned status %d", resp.StatusCode)
		}
		return true, nil
	})
	if err != nil {
		return false
	}
	ok, _ := result.(bool)
	return ok
}

// probeCDT checks whether a China Digital Times space page exists.
func (c *Client) probeCDT(ctx context.Context, title string) bool {
	target := c.cfg.CDTSpaceBaseURL + url.PathEscape(strings.ReplaceAll(title, " ", "_"))
	_, status, err := c.get(ctx, "cdt", target)
	return err == nil && status < 400
}

// GetLatestRevisionTime returns the timestamp of the page's latest revision.
func (c *Client) GetLatestRevisionTime(ctx context.Context, title, lang string) (time.Time, bool) {
	params := url.Values{
		"action":        {"query"},
		"prop":          {"revisions"},
		"titles":        {title},
		"rvlimit":       {"1"},
		"rvprop":        {"timestamp"},
		"format":        {"json"},
		"formatversion": {"2"},
	}
	return c.fetchRevisionTime(ctx, lang, params, title)
}

// GetCreationDate returns the timestamp of the page's first revision.
func (c *Client) GetCreationDate(ctx context.Context, title, lang string) (time.Time, bool) {
	params := url.Values{
		"action":        {"query"},
		"prop":          {"revisions"},
		"titles":        {title},
		"rvlimit":       {"1"},
		"rvdir":         {"newer"},
		"rvprop":        {"timestamp"},
		"format":        {"json"},
		"formatversion": {"2"},
	}
	return c.fetchRevisionTime(ctx, lang, params, title)
}

func (c *Client) fetchRevisionTime(ctx context.Context, lang string, params url.Values, title string) (time.Time, bool) {
	body, err := c.getAPI(ctx, "revisions", lang, params)
	if err != nil {
		c.logger.Warn("failed to fetch revision history",
			zap.String("title", title), zap.String("lang", lang), zap.Error(err))
		return time.Time{}, false
	}
	var resp pagePropsResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Query.Pages) == 0 {
		return time.Time{}, false
	}
	revs := resp.Query.Pages[0].Revisions
	if len(revs) == 0 {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, revs[0].Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// GetAuthoritativeTitleAndStatus resolves a title to the final page title
// and whether that page is a disambiguation.
func (c *Client) GetAuthoritativeTitleAndStatus(ctx context.Context, title, lang string) TitleLookup {
	params := url.Values{
		"action":        {"query"},
		"prop":          {"pageprops"},
		"ppprop":        {"disambiguation"},
		"titles":        {title},
		"redirects":     {"1"},
		"format":        {"json"},
		"formatversion": {"2"},
	}
	body, err := c.getAPI(ctx, "pageprops", lang, params)
	if err != nil {
		return TitleLookup{Status: LookupError}
	}
	return parseTitleLookup(body)
}

// GetAuthoritativeTitleByQcode resolves a Q-code to its page title in the
// given language via Wikidata sitelinks, then verifies the target page.
func (c *Client) GetAuthoritativeTitleByQcode(ctx context.Context, qcode, lang string) TitleLookup {
	params := url.Values{
		"action":        {"wbgetentities"},
		"ids":           {qcode},
		"props":         {"sitelinks"},
		"format":        {"json"},
		"formatversion": {"2"},
	}
	body, status, err := c.get(ctx, "wikidata", c.cfg.WikidataAPIURL+"?"+params.Encode())
	if err != nil || status != http.StatusOK {
		return TitleLookup{Status: LookupError}
	}

	var resp struct {
		Entities map[string]struct {
			Sitelinks map[string]struct {
				Title string `json:"title"`
			} `json:"sitelinks"`
		} `json:"entities"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return TitleLookup{Status: LookupError}
	}
	link, ok := resp.Entities[qcode].Sitelinks[lang+"wiki"]
	if !ok || link.Title == "" {
		return TitleLookup{Status: LookupNotFound}
	}
	return c.GetAuthoritativeTitleAndStatus(ctx, link.Title, lang)
}

func parseTitleLookup(body []byte) TitleLookup {
	var resp pagePropsResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Query.Pages) == 0 {
		return TitleLookup{Status: LookupError}
	}
	page := resp.Query.Pages[0]
	if page.Missing {
		return TitleLookup{Status: LookupNotFound}
	}
	if _, disambig := page.PageProps["disambiguation"]; disambig {
		return TitleLookup{Title: page.Title, Status: LookupDisambig}
	}
	return TitleLookup{Title: page.Title, Status: LookupOK}
}

// SaveCaches persists the Q-code and link-status caches if they changed.
func (c *Client) SaveCaches() error {
	if err := c.qcodes.Save(); err != nil {
		return err
	}
	return c.links.Save()
}
