package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/WessleyAI/channel-digest/pkg/fn"
)

// DefaultTranscriptURL is the analysis service queried for transcripts.
const DefaultTranscriptURL = "https://www.tldwyoutube.com"

// ErrNoTranscript is returned when the service response has no string
// "transcript" field.
var ErrNoTranscript = errors.New("response has no transcript field")

// TranscriptClient fetches subtitle-style transcripts from the analysis
// service. Each Fetch is a single request: no retry and no cache.
type TranscriptClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewTranscriptClient creates a client for the service at baseURL.
// Empty baseURL uses DefaultTranscriptURL; nil client uses NewHTTPClient.
func NewTranscriptClient(baseURL string, client *http.Client) *TranscriptClient {
	if baseURL == "" {
		baseURL = DefaultTranscriptURL
	}
	if client == nil {
		client = NewHTTPClient()
	}
	return &TranscriptClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

type analyzeResponse struct {
	Transcript *string `json:"transcript"`
}

// Fetch returns the cleaned transcript of a video. Every failure is a
// *TranscriptError.
func (c *TranscriptClient) Fetch(ctx context.Context, videoID string) fn.Result[string] {
	text, err := c.fetch(ctx, videoID)
	if err != nil {
		return fn.Err[string](&TranscriptError{VideoID: videoID, Err: err})
	}
	return fn.Ok(CleanTranscript(text))
}

func (c *TranscriptClient) fetch(ctx context.Context, videoID string) (string, error) {
	u := c.baseURL + "/api/analyze?" + url.Values{"v": {videoID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("bad response: status=%d", resp.StatusCode)
	}

	var ar analyzeResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return "", fmt.Errorf("decode analyze response: %w", err)
	}
	if ar.Transcript == nil {
		return "", ErrNoTranscript
	}
	return *ar.Transcript, nil
}

// CleanTranscript turns subtitle text into prose. Blank lines, lines that
// start with a digit (cue numbers, timestamps) and cue timing lines
// containing "-->" are dropped; the remaining lines are joined with single
// spaces.
func CleanTranscript(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" || (line[0] >= '0' && line[0] <= '9') || strings.Contains(line, "-->") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, " ")
}
