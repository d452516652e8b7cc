package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"golang.org/x/time/rate"
)

func videoRenderer(id, published string) map[string]any {
	return map[string]any{
		"richItemRenderer": map[string]any{
			"content": map[string]any{
				"videoRenderer": map[string]any{
					"videoId":           id,
					"title":             map[string]any{"runs": []any{map[string]any{"text": "title " + id}}},
					"publishedTimeText": map[string]any{"simpleText": published},
					"lengthText":        map[string]any{"simpleText": "10:00"},
				},
			},
		},
	}
}

func continuation(token string) map[string]any {
	return map[string]any{
		"continuationItemRenderer": map[string]any{
			"continuationEndpoint": map[string]any{
				"continuationCommand": map[string]any{"token": token},
			},
		},
	}
}

// sortChips builds the Latest/Popular/Oldest chip bar that heads the Videos
// grid. Each chip carries its own continuation command.
func sortChips(tokens ...string) map[string]any {
	chips := make([]any, 0, len(tokens))
	for _, tok := range tokens {
		chips = append(chips, map[string]any{
			"chipViewModel": map[string]any{
				"tapCommand": map[string]any{
					"continuationCommand": map[string]any{"token": tok},
				},
			},
		})
	}
	return map[string]any{"feedFilterChipBarRenderer": map[string]any{"contents": chips}}
}

func channelHTML(t *testing.T, contents []any) string {
	t.Helper()
	data := map[string]any{
		"header": map[string]any{"pageHeaderRenderer": map[string]any{"pageTitle": "chan"}},
		"contents": map[string]any{
			"twoColumnBrowseResultsRenderer": map[string]any{
				"tabs": []any{
					map[string]any{"tabRenderer": map[string]any{"title": "Home"}},
					map[string]any{"tabRenderer": map[string]any{
						"title": "Videos",
						"content": map[string]any{
							"richGridRenderer": map[string]any{
								"contents": contents,
								"header":   sortChips("sort-latest", "sort-popular", "sort-oldest"),
							},
						},
					}},
				},
			},
		},
	}
	b, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	return fmt.Sprintf(`<!DOCTYPE html><html><head><script nonce="x">var ytInitialData = %s;</script>`+
		`<script>ytcfg.set({"INNERTUBE_API_KEY":"test-key","INNERTUBE_CLIENT_VERSION":"2.20240101"});</script></head></html>`, b)
}

func browseJSON(t *testing.T, items []any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"onResponseReceivedActions": []any{
			map[string]any{"appendContinuationItemsAction": map[string]any{"continuationItems": items}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

type youtubeStub struct {
	srv      *httptest.Server
	browses  atomic.Int32
	lastBody atomic.Value
	lastKey  atomic.Value
}

func newYouTubeStub(t *testing.T) *youtubeStub {
	t.Helper()
	s := &youtubeStub{}
	mux := http.NewServeMux()
	mux.HandleFunc("/@chan/videos", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, channelHTML(t, []any{
			videoRenderer("v1", "1 hour ago"),
			videoRenderer("v2", "5 hours ago"),
			continuation("page-2"),
		}))
	})
	mux.HandleFunc("/@bare/videos", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>consent wall</html>")
	})
	mux.HandleFunc("/youtubei/v1/browse", func(w http.ResponseWriter, r *http.Request) {
		s.browses.Add(1)
		body, _ := io.ReadAll(r.Body)
		s.lastBody.Store(string(body))
		s.lastKey.Store(r.URL.Query().Get("key"))
		_, _ = w.Write(browseJSON(t, []any{
			videoRenderer("v3", "2 days ago"),
			videoRenderer("v4", "1 week ago"),
		}))
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *youtubeStub) feed() *YouTubeFeed {
	return NewYouTubeFeed(FeedOpts{
		BaseURL:    s.srv.URL,
		HTTPClient: s.srv.Client(),
		Limiter:    rate.NewLimiter(rate.Inf, 1),
	})
}

func TestYouTubeFeedFollowsContinuation(t *testing.T) {
	stub := newYouTubeStub(t)

	var ids []string
	for it, err := range stub.feed().Videos(context.Background(), "chan") {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ids = append(ids, it.VideoID+"|"+it.PublishedTimeText.SimpleText+"|"+it.TitleText())
	}

	want := []string{
		"v1|1 hour ago|title v1",
		"v2|5 hours ago|title v2",
		"v3|2 days ago|title v3",
		"v4|1 week ago|title v4",
	}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("item %d: got %q, want %q", i, ids[i], want[i])
		}
	}

	if stub.browses.Load() != 1 {
		t.Fatalf("expected one browse request, got %d", stub.browses.Load())
	}
	if key := stub.lastKey.Load(); key != "test-key" {
		t.Errorf("browse key = %v", key)
	}
	var req struct {
		Continuation string `json:"continuation"`
		Context      struct {
			Client struct {
				ClientName    string `json:"clientName"`
				ClientVersion string `json:"clientVersion"`
			} `json:"client"`
		} `json:"context"`
	}
	if err := json.Unmarshal([]byte(stub.lastBody.Load().(string)), &req); err != nil {
		t.Fatal(err)
	}
	if req.Continuation != "page-2" || req.Context.Client.ClientName != "WEB" || req.Context.Client.ClientVersion != "2.20240101" {
		t.Errorf("unexpected browse payload: %+v", req)
	}
}

func TestYouTubeFeedIsLazy(t *testing.T) {
	stub := newYouTubeStub(t)

	for it, err := range stub.feed().Videos(context.Background(), "@chan") {
		if err != nil {
			t.Fatal(err)
		}
		if it.VideoID == "v2" {
			break
		}
	}
	if n := stub.browses.Load(); n != 0 {
		t.Fatalf("continuation requested although the consumer stopped, %d requests", n)
	}
}

func TestCollectorOverYouTubeFeed(t *testing.T) {
	stub := newYouTubeStub(t)
	c := NewCollector(stub.feed(), nil)

	records := c.Recent(context.Background(), "chan", 24).Must()
	if len(records) != 2 {
		t.Fatalf("expected 2 records inside 24h, got %+v", records)
	}
	if stub.browses.Load() != 1 {
		t.Fatalf("expected second page to be read to find the cutoff, got %d", stub.browses.Load())
	}

	records = c.Recent(context.Background(), "chan", 80).Must()
	if len(records) != 3 || records[2].VideoID != "v3" {
		t.Fatalf("unexpected records for 80h: %+v", records)
	}
}

func TestYouTubeFeedErrors(t *testing.T) {
	stub := newYouTubeStub(t)

	tests := []struct {
		handle string
		is     error
	}{
		{"missing", nil},
		{"bare", ErrNoInitialData},
	}
	for _, tt := range tests {
		var got error
		n := 0
		for _, err := range stub.feed().Videos(context.Background(), tt.handle) {
			n++
			got = err
		}
		if n != 1 || got == nil {
			t.Fatalf("%s: expected a single error, got %d items, err=%v", tt.handle, n, got)
		}
		if tt.is != nil && !errors.Is(got, tt.is) {
			t.Errorf("%s: expected %v, got %v", tt.handle, tt.is, got)
		}
	}
}

func TestYouTubeFeedCancelledContext(t *testing.T) {
	stub := newYouTubeStub(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCollector(stub.feed(), nil).Recent(ctx, "chan", 80).Unwrap()
	var fe *FeedError
	if !errors.As(err, &fe) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled FeedError, got %v", err)
	}
}

func decodedJSON(t *testing.T, v any) any {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestParsePageIgnoresSortChips(t *testing.T) {
	page, err := parsePage(decodedJSON(t, map[string]any{
		"richGridRenderer": map[string]any{
			"contents": []any{videoRenderer("v1", "1 hour ago"), continuation("next-page")},
			"header":   sortChips("sort-latest", "sort-popular", "sort-oldest"),
		},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if page.continuation != "next-page" {
		t.Fatalf("continuation = %q, want next-page", page.continuation)
	}
	if len(page.items) != 1 || page.items[0].VideoID != "v1" {
		t.Fatalf("unexpected items: %+v", page.items)
	}

	page, err = parsePage(decodedJSON(t, map[string]any{
		"richGridRenderer": map[string]any{
			"contents": []any{videoRenderer("v1", "1 hour ago")},
			"header":   sortChips("sort-latest", "sort-oldest"),
		},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if page.continuation != "" {
		t.Fatalf("a grid without a continuation item is the last page, got %q", page.continuation)
	}
}

func TestInitialData(t *testing.T) {
	raw, err := initialData([]byte(`<script>var ytInitialData = {"a":1};</script>`))
	if err != nil || string(raw) != `{"a":1}` {
		t.Fatalf("got %q, %v", raw, err)
	}
	if _, err := initialData([]byte(`<script>var ytInitialData = {"a":1}`)); !errors.Is(err, ErrNoInitialData) {
		t.Fatalf("expected ErrNoInitialData for unterminated script, got %v", err)
	}
}

func TestNewYouTubeFeedDefaults(t *testing.T) {
	f := NewYouTubeFeed(FeedOpts{})
	if f.baseURL != youtubeBaseURL || f.httpClient == nil || f.rateLimiter == nil {
		t.Fatalf("defaults not applied: %+v", f)
	}
	if !f.NewestFirst() {
		t.Fatal("YouTube videos tab should report newest-first")
	}
}
