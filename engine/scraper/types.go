package scraper

import (
	"fmt"

	"github.com/WessleyAI/channel-digest/pkg/fn"
)

// VideoRecord is one recent video discovered on a channel feed.
type VideoRecord struct {
	PublishTime string `json:"videoPublishTime"`
	VideoID     string `json:"videoID"`
	Title       string `json:"videoTitle"`
	Handle      string `json:"handle"`
}

// URL returns the watch page for the video.
func (v VideoRecord) URL() string {
	return "https://www.youtube.com/watch?v=" + v.VideoID
}

// Row is a VideoRecord with its cleaned transcript attached.
type Row struct {
	VideoRecord
	Transcript string `json:"videoTranscript"`
	// TranscriptErr is set only when transcript failures are isolated.
	TranscriptErr string `json:"transcriptError,omitempty"`
}

// Table holds rows in insertion order. Video IDs are not deduplicated.
type Table []Row

// VideoIDs returns the video IDs in row order.
func (t Table) VideoIDs() []string {
	return fn.Map(t, func(r Row) string { return r.VideoID })
}

// Failed returns the rows whose transcript could not be fetched.
func (t Table) Failed() Table {
	return fn.Filter(t, func(r Row) bool { return r.TranscriptErr != "" })
}

// FeedItem is a single entry of a channel's video feed as the provider
// returns it.
type FeedItem struct {
	VideoID           string     `json:"videoId"`
	Title             textRuns   `json:"title"`
	PublishedTimeText simpleText `json:"publishedTimeText"`
}

type simpleText struct {
	SimpleText string `json:"simpleText"`
}

type textRuns struct {
	Runs []struct {
		Text string `json:"text"`
	} `json:"runs"`
}

// TitleText returns the first title run, or "" when the item has none.
func (f FeedItem) TitleText() string {
	if len(f.Title.Runs) == 0 {
		return ""
	}
	return f.Title.Runs[0].Text
}

// FeedError reports that a handle's feed could not be opened or enumerated.
// The collector isolates it to that handle.
type FeedError struct {
	Handle string
	Err    error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("feed %s: %v", e.Handle, e.Err)
}

func (e *FeedError) Unwrap() error { return e.Err }

// TranscriptError reports a failed transcript request or an unusable
// response body.
type TranscriptError struct {
	VideoID string
	Err     error
}

func (e *TranscriptError) Error() string {
	return fmt.Sprintf("transcript %s: %v", e.VideoID, e.Err)
}

func (e *TranscriptError) Unwrap() error { return e.Err }
