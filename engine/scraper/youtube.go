package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Feed yields a channel's videos.
//
// Implementations must yield items newest first: the collector stops at the
// first item outside its recency window and never looks further. A feed that
// cannot honour this produces incomplete results.
//
// An error yielded by the sequence ends the enumeration for that handle.
type Feed interface {
	Videos(ctx context.Context, handle string) iter.Seq2[FeedItem, error]
}

// Ordered is implemented by feeds that can report whether their ordering is
// reverse-chronological.
type Ordered interface {
	NewestFirst() bool
}

// ErrNoInitialData is returned when a channel page carries no ytInitialData.
var ErrNoInitialData = errors.New("channel page has no initial data")

const youtubeBaseURL = "https://www.youtube.com"

var (
	apiKeyPattern        = regexp.MustCompile(`"INNERTUBE_API_KEY":"([^"]+)"`)
	clientVersionPattern = regexp.MustCompile(`"INNERTUBE_CLIENT_VERSION":"([^"]+)"`)
)

// FeedOpts configures a YouTubeFeed.
type FeedOpts struct {
	BaseURL    string
	HTTPClient *http.Client
	// Limiter throttles page requests. Nil uses 5 req/s with a burst of 5.
	Limiter *rate.Limiter
}

// YouTubeFeed lists a channel's uploads from its "Videos" tab, which
// YouTube sorts newest first. Continuation pages are requested lazily as the
// sequence is consumed.
type YouTubeFeed struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewYouTubeFeed creates a feed provider.
func NewYouTubeFeed(opts FeedOpts) *YouTubeFeed {
	if opts.BaseURL == "" {
		opts.BaseURL = youtubeBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = NewHTTPClient()
	}
	if opts.Limiter == nil {
		opts.Limiter = rate.NewLimiter(rate.Every(200*time.Millisecond), 5)
	}
	return &YouTubeFeed{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		httpClient:  opts.HTTPClient,
		rateLimiter: opts.Limiter,
	}
}

// NewestFirst reports true: the Videos tab is ordered by upload date.
func (f *YouTubeFeed) NewestFirst() bool { return true }

// innertube holds what is needed to request continuation pages.
type innertube struct {
	apiKey        string
	clientVersion string
}

type feedPage struct {
	items        []FeedItem
	continuation string
}

// Videos implements Feed.
func (f *YouTubeFeed) Videos(ctx context.Context, handle string) iter.Seq2[FeedItem, error] {
	return func(yield func(FeedItem, error) bool) {
		session, page, err := f.channelPage(ctx, handle)
		for {
			if err != nil {
				yield(FeedItem{}, err)
				return
			}
			for _, item := range page.items {
				if !yield(item, nil) {
					return
				}
			}
			if page.continuation == "" {
				return
			}
			page, err = f.browse(ctx, session, page.continuation)
		}
	}
}

func (f *YouTubeFeed) channelPage(ctx context.Context, handle string) (innertube, feedPage, error) {
	var session innertube
	u := f.baseURL + "/@" + url.PathEscape(strings.TrimPrefix(handle, "@")) + "/videos"

	body, err := f.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return session, feedPage{}, err
	}

	if m := apiKeyPattern.FindSubmatch(body); m != nil {
		session.apiKey = string(m[1])
	}
	if m := clientVersionPattern.FindSubmatch(body); m != nil {
		session.clientVersion = string(m[1])
	}

	raw, err := initialData(body)
	if err != nil {
		return session, feedPage{}, err
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return session, feedPage{}, fmt.Errorf("decode initial data: %w", err)
	}
	page, err := parsePage(data)
	return session, page, err
}

func (f *YouTubeFeed) browse(ctx context.Context, session innertube, token string) (feedPage, error) {
	payload := map[string]any{
		"context": map[string]any{
			"client": map[string]any{
				"clientName":    "WEB",
				"clientVersion": session.clientVersion,
				"hl":            "en",
				"gl":            "US",
			},
		},
		"continuation": token,
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return feedPage{}, err
	}

	u := f.baseURL + "/youtubei/v1/browse?prettyPrint=false"
	if session.apiKey != "" {
		u += "&key=" + url.QueryEscape(session.apiKey)
	}
	body, err := f.do(ctx, http.MethodPost, u, reqBody)
	if err != nil {
		return feedPage{}, err
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return feedPage{}, fmt.Errorf("decode browse response: %w", err)
	}
	return parsePage(data)
}

func (f *YouTubeFeed) do(ctx context.Context, method, u string, body []byte) ([]byte, error) {
	if err := f.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: status %d", method, req.URL.Path, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// initialData cuts the ytInitialData object out of a channel page.
func initialData(html []byte) ([]byte, error) {
	const marker = "var ytInitialData = "
	start := bytes.Index(html, []byte(marker))
	if start < 0 {
		return nil, ErrNoInitialData
	}
	rest := html[start+len(marker):]
	end := bytes.Index(rest, []byte(";</script>"))
	if end < 0 {
		return nil, ErrNoInitialData
	}
	return rest[:end], nil
}

// parsePage collects every videoRenderer in document order and the token of
// the grid's continuationItemRenderer. Other continuation commands on the
// page, such as the sort chips in the grid header, are ignored.
func parsePage(data any) (feedPage, error) {
	var page feedPage
	var decodeErr error

	walk(data, func(key string, v any) bool {
		switch key {
		case "videoRenderer":
			item, err := decodeItem(v)
			if err != nil {
				decodeErr = err
				return false
			}
			page.items = append(page.items, item)
			return false
		case "continuationItemRenderer":
			if tok := continuationToken(v); tok != "" {
				page.continuation = tok
			}
			return false
		}
		return true
	})

	return page, decodeErr
}

func continuationToken(v any) string {
	var r struct {
		ContinuationEndpoint struct {
			ContinuationCommand struct {
				Token string `json:"token"`
			} `json:"continuationCommand"`
		} `json:"continuationEndpoint"`
	}
	b, err := json.Marshal(v)
	if err != nil || json.Unmarshal(b, &r) != nil {
		return ""
	}
	return r.ContinuationEndpoint.ContinuationCommand.Token
}

func decodeItem(v any) (FeedItem, error) {
	var item FeedItem
	b, err := json.Marshal(v)
	if err != nil {
		return item, err
	}
	if err := json.Unmarshal(b, &item); err != nil {
		return item, fmt.Errorf("decode video renderer: %w", err)
	}
	return item, nil
}

// walk visits every object member depth-first. Returning false from visit
// skips that member's children. Object keys are visited in sorted order so
// traversal is deterministic; array order is preserved.
func walk(v any, visit func(key string, v any) bool) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if visit(k, t[k]) {
				walk(t[k], visit)
			}
		}
	case []any:
		for _, e := range t {
			walk(e, visit)
		}
	}
}
