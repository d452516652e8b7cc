package scraper

import (
	"context"
	"log/slog"
	"time"

	"github.com/WessleyAI/channel-digest/pkg/fn"
)

// Collector scans channel feeds for videos inside a recency window.
type Collector struct {
	feed   Feed
	logger *slog.Logger
	// observe, when set, is called once per handle by RecentForHandles.
	observe func(handle string, n int, err error)
}

// NewCollector creates a collector reading from feed.
func NewCollector(feed Feed, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{feed: feed, logger: logger}
}

// Recent returns the videos of one handle published at most hours ago, in
// feed order. The scan stops at the first older item; nothing after it is
// read from the feed.
//
// Items without a publish label (scheduled premieres and streams) are
// skipped. Feed failures and unparsable publish labels are returned as
// *FeedError.
func (c *Collector) Recent(ctx context.Context, handle string, hours int) fn.Result[[]VideoRecord] {
	if o, ok := c.feed.(Ordered); ok && !o.NewestFirst() {
		c.logger.Warn("feed is not newest-first, results may be incomplete", "handle", handle)
	}

	window := time.Duration(hours) * time.Hour
	records := []VideoRecord{}

	for item, err := range c.feed.Videos(ctx, handle) {
		if err != nil {
			return fn.Err[[]VideoRecord](&FeedError{Handle: handle, Err: err})
		}
		label := item.PublishedTimeText.SimpleText
		if label == "" {
			c.logger.Debug("skipping video without publish time", "handle", handle, "video_id", item.VideoID)
			continue
		}
		age, err := ParseAge(label)
		if err != nil {
			return fn.Err[[]VideoRecord](&FeedError{Handle: handle, Err: err})
		}
		if age > window {
			break
		}
		records = append(records, VideoRecord{
			PublishTime: label,
			VideoID:     item.VideoID,
			Title:       item.TitleText(),
			Handle:      handle,
		})
	}

	if err := ctx.Err(); err != nil {
		return fn.Err[[]VideoRecord](&FeedError{Handle: handle, Err: err})
	}
	return fn.Ok(records)
}

// RecentForHandles runs Recent for each handle in order and concatenates the
// results. A failing handle is logged and contributes no rows.
func (c *Collector) RecentForHandles(ctx context.Context, handles []string, hours int) []VideoRecord {
	all := fn.FlatMap(handles, func(handle string) []VideoRecord {
		records, err := c.Recent(ctx, handle, hours).Unwrap()
		if c.observe != nil {
			c.observe(handle, len(records), err)
		}
		if err != nil {
			c.logger.Error("failed to retrieve videos", "handle", handle, "error", err)
			return nil
		}
		c.logger.Debug("collected recent videos", "handle", handle, "count", len(records))
		return records
	})
	if all == nil {
		all = []VideoRecord{}
	}
	return all
}
