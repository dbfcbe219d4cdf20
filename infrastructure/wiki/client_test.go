package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"graphweaver/infrastructure/persistence"
	"graphweaver/infrastructure/ratelimit"
	"graphweaver/pkg/observability"
	"graphweaver/pkg/zh"
)

type recordingUpdater struct {
	updates [][2]string
	adds    []string
}

func (r *recordingUpdater) UpdateTitle(oldTitle, newTitle string) error {
	r.updates = append(r.updates, [2]string{oldTitle, newTitle})
	return nil
}

func (r *recordingUpdater) AddTitle(title string) error {
	r.adds = append(r.adds, title)
	return nil
}

type testEnv struct {
	client  *Client
	updater *recordingUpdater
	qcodes  *persistence.QcodeCache
	links   *persistence.LinkStatusCache
}

func newTestEnv(t *testing.T, handler http.Handler) *testEnv {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	conv, err := zh.NewConverter()
	require.NoError(t, err)

	dir := t.TempDir()
	qcodes, err := persistence.OpenQcodeCache(filepath.Join(dir, "qcode_cache.json"), zap.NewNop())
	require.NoError(t, err)
	links, err := persistence.OpenLinkStatusCache(filepath.Join(dir, "wiki_link_status_cache.json"), zap.NewNop())
	require.NoError(t, err)

	updater := &recordingUpdater{}
	cfg := Config{
		APIURLTemplate:  server.URL + "/w/api.php",
		BaseURLTemplate: server.URL + "/wiki/",
		WikidataAPIURL:  server.URL + "/wikidata/w/api.php",
		BaiduBaseURL:    server.URL + "/baidu/",
		CDTSpaceBaseURL: server.URL + "/cdt/",
		UserAgent:       "graphweaver-test",
	}
	client := NewClient(cfg, ratelimit.NewPacer(10000, 32), conv, qcodes, links, updater,
		observability.NewMetrics(), zap.NewNop())
	client.sleep = func(time.Duration) {}

	return &testEnv{client: client, updater: updater, qcodes: qcodes, links: links}
}

func pagePropsJSON(title string, props map[string]string) string {
	page := map[string]any{"title": title}
	if props != nil {
		page["pageprops"] = props
	}
	out, _ := json.Marshal(map[string]any{
		"query": map[string]any{"pages": []any{page}},
	})
	return string(out)
}

func TestGetQcodeRedirectUpdatesList(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/w/api.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pagePropsJSON("刘晓波", map[string]string{"wikibase_item": "Q27698"}))
	})
	env := newTestEnv(t, mux)

	qcode, final := env.client.GetQcode(context.Background(), "劉曉波", "zh")
	assert.Equal(t, "Q27698", qcode)
	assert.Equal(t, "刘晓波", final)

	require.Len(t, env.updater.updates, 1)
	assert.Equal(t, [2]string{"劉曉波", "刘晓波"}, env.updater.updates[0])

	got, ok := env.qcodes.QcodeForTitle("劉曉波")
	require.True(t, ok)
	assert.Equal(t, "Q27698", got)
}

func TestGetQcodeServedFromCache(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/w/api.php", func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, pagePropsJSON("某人", map[string]string{"wikibase_item": "Q100"}))
	})
	env := newTestEnv(t, mux)

	qcode, _ := env.client.GetQcode(context.Background(), "某人", "zh")
	assert.Equal(t, "Q100", qcode)

	qcode, final := env.client.GetQcode(context.Background(), "某人", "zh")
	assert.Equal(t, "Q100", qcode)
	assert.Equal(t, "某人", final)
	assert.Equal(t, 1, calls, "a cached title resolves without a request")
}

func TestGetQcodeTraditionalFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/w/api.php", func(w http.ResponseWriter, r *http.Request) {
		title := r.URL.Query().Get("titles")
		if title == "劉曉波" {
			fmt.Fprint(w, pagePropsJSON("劉曉波", map[string]string{"wikibase_item": "Q27698"}))
			return
		}
		fmt.Fprint(w, `{"query":{"pages":[{"title":"","missing":true}]}}`)
	})
	env := newTestEnv(t, mux)

	qcode, final := env.client.GetQcode(context.Background(), "刘晓波", "zh")
	assert.Equal(t, "Q27698", qcode)
	assert.Equal(t, "劉曉波", final)
}

func TestGetQcodeDisambiguationRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/w/api.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pagePropsJSON("李明", map[string]string{
			"wikibase_item": "Q999", "disambiguation": "",
		}))
	})
	env := newTestEnv(t, mux)

	qcode, _ := env.client.GetQcode(context.Background(), "李明", "zh")
	assert.Empty(t, qcode)
}

func TestGetWikitextSimplifiesChinese(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/w/api.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pagePropsJSON("刘晓波", map[string]string{"wikibase_item": "Q27698"}))
	})
	mux.HandleFunc("/wiki/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "劉曉波是一位作家")
	})
	env := newTestEnv(t, mux)

	text, final := env.client.GetWikitext(context.Background(), "刘晓波", "zh")
	assert.Equal(t, "刘晓波", final)
	assert.Equal(t, "刘晓波是一位作家", text)
}

func TestRawFetchUsesArticlePath(t *testing.T) {
	var gotPath, gotQuery string
	mux := http.NewServeMux()
	mux.HandleFunc("/w/api.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pagePropsJSON("某 人", map[string]string{"wikibase_item": "Q100"}))
	})
	mux.HandleFunc("/wiki/", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, "content")
	})
	env := newTestEnv(t, mux)

	text, _ := env.client.GetWikitext(context.Background(), "某 人", "zh")
	assert.Equal(t, "content", text)
	assert.Equal(t, "/wiki/某_人", gotPath)
	assert.Equal(t, "action=raw", gotQuery)
}

func TestCheckLinkStatusClassification(t *testing.T) {
	tests := []struct {
		name       string
		title      string
		body       string
		statusCode int
		want       LinkStatus
		wantDetail string
	}{
		{"plain article", "某人", "'''某人'''是...", 200, StatusOK, ""},
		{"missing page", "不存在", "", 404, StatusNoPage, ""},
		{"empty content", "空页", "   ", 200, StatusNoPage, ""},
		{"disambiguation", "多义", "{{disambig}}\n...", 200, StatusDisambig, ""},
		{"hndis", "人名", "{{hndis|name}}", 200, StatusDisambig, ""},
		{
			"substantive redirect", "旧名",
			"#REDIRECT [[新名]]", 200, StatusRedirect, "新名",
		},
		{
			"simp trad redirect", "刘晓波",
			"#重定向 [[劉曉波]]", 200, StatusSimpTradRedirect, "劉曉波",
		},
		{
			"redirect with anchor", "旧名",
			"#REDIRECT [[新名#章节]]", 200, StatusRedirect, "新名",
		},
		{"malformed redirect", "坏页", "#REDIRECT nothing", 200, StatusError, "malformed redirect"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/wiki/", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				fmt.Fprint(w, tt.body)
			})
			// fallback probes must miss for terminal statuses
			mux.HandleFunc("/baidu/", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			})
			mux.HandleFunc("/cdt/", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			})
			env := newTestEnv(t, mux)

			status, detail := env.client.CheckLinkStatus(context.Background(), tt.title, "zh")
			assert.Equal(t, tt.want, status)
			assert.Equal(t, tt.wantDetail, detail)
		})
	}
}

func TestCheckLinkStatusFallbackSources(t *testing.T) {
	t.Run("baidu hit", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/wiki/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		mux.HandleFunc("/baidu/", func(w http.ResponseWriter, r *http.Request) {})
		env := newTestEnv(t, mux)

		status, _ := env.client.CheckLinkStatus(context.Background(), "某企业家", "zh")
		assert.Equal(t, StatusBaidu, status)

		entry, ok := env.links.Get("某企业家")
		require.True(t, ok, "fallback statuses are cached")
		assert.Equal(t, "BAIDU", entry.Status)
	})

	t.Run("cdt hit after baidu miss", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/wiki/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		mux.HandleFunc("/baidu/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		mux.HandleFunc("/cdt/", func(w http.ResponseWriter, r *http.Request) {})
		env := newTestEnv(t, mux)

		status, _ := env.client.CheckLinkStatus(context.Background(), "某作家", "zh")
		assert.Equal(t, StatusCDT, status)
	})

	t.Run("terminal status not cached", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		env := newTestEnv(t, mux)

		status, _ := env.client.CheckLinkStatus(context.Background(), "无处可寻", "zh")
		assert.Equal(t, StatusNoPage, status)
		_, ok := env.links.Get("无处可寻")
		assert.False(t, ok)
	})
}

func TestCheckLinkStatusUsesCache(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/wiki/", func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, "content")
	})
	env := newTestEnv(t, mux)

	env.client.CheckLinkStatus(context.Background(), "某人", "zh")
	env.client.CheckLinkStatus(context.Background(), "某人", "zh")
	assert.Equal(t, 1, calls)
}

func TestGetLatestRevisionTime(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/w/api.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"query":{"pages":[{"title":"某人","revisions":[{"timestamp":"2026-03-01T12:00:00Z"}]}]}}`)
	})
	env := newTestEnv(t, mux)

	ts, ok := env.client.GetLatestRevisionTime(context.Background(), "某人", "zh")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), ts.UTC())
}

func TestGetAuthoritativeTitleByQcode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/wikidata/w/api.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"entities":{"Q27698":{"sitelinks":{"zhwiki":{"title":"刘晓波"}}}}}`)
	})
	mux.HandleFunc("/w/api.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pagePropsJSON("刘晓波", nil))
	})
	env := newTestEnv(t, mux)

	lookup := env.client.GetAuthoritativeTitleByQcode(context.Background(), "Q27698", "zh")
	assert.Equal(t, LookupOK, lookup.Status)
	assert.Equal(t, "刘晓波", lookup.Title)
}

func TestGetAuthoritativeTitleByQcodeNoSitelink(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/wikidata/w/api.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"entities":{"Q1":{"sitelinks":{}}}}`)
	})
	env := newTestEnv(t, mux)

	lookup := env.client.GetAuthoritativeTitleByQcode(context.Background(), "Q1", "zh")
	assert.Equal(t, LookupNotFound, lookup.Status)
}

func Test429Abandoned(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	})
	env := newTestEnv(t, mux)

	qcode, _ := env.client.GetQcode(context.Background(), "Some Title", "en")
	assert.Empty(t, qcode)
	assert.Equal(t, 1, calls, "throttled requests are not retried")
}
