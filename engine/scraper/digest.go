package scraper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/WessleyAI/channel-digest/pkg/fn"
	"github.com/WessleyAI/channel-digest/pkg/metrics"
	"github.com/WessleyAI/channel-digest/pkg/resilience"
)

// DefaultHours is the recency window used when none is given.
const DefaultHours = 80

// Transcriber fetches the cleaned transcript of one video.
type Transcriber interface {
	Fetch(ctx context.Context, videoID string) fn.Result[string]
}

// Options configures a Digest. Zero values select the live YouTube feed and
// the default transcript service.
type Options struct {
	Feed        Feed
	Transcripts Transcriber
	Logger      *slog.Logger
	Metrics     *metrics.Registry

	// IsolateTranscripts keeps a row whose transcript failed, recording the
	// error on the row, instead of aborting the run.
	IsolateTranscripts bool

	// TranscriptBreaker, if set, guards transcript fetches. Once it opens,
	// the remaining rows fail fast with resilience.ErrCircuitOpen. Only
	// useful together with IsolateTranscripts.
	TranscriptBreaker *resilience.Breaker
}

// Digest collects recent videos across handles and attaches transcripts.
type Digest struct {
	collector   *Collector
	transcripts Transcriber
	logger      *slog.Logger
	metrics     *metrics.Registry
	isolate     bool
	breaker     *resilience.Breaker
}

// New creates a Digest.
func New(opts Options) *Digest {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Feed == nil {
		opts.Feed = NewYouTubeFeed(FeedOpts{})
	}
	if opts.Transcripts == nil {
		opts.Transcripts = NewTranscriptClient("", nil)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	d := &Digest{
		collector:   NewCollector(opts.Feed, opts.Logger),
		transcripts: opts.Transcripts,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		isolate:     opts.IsolateTranscripts,
		breaker:     opts.TranscriptBreaker,
	}
	d.collector.observe = d.observeHandle
	return d
}

// Scrape is a one-shot Digest run.
func Scrape(ctx context.Context, handles []string, hours int, opts Options) fn.Result[Table] {
	return New(opts).Run(ctx, handles, hours)
}

// Run collects videos published in the last hours (DefaultHours when
// hours <= 0) for each handle, then fetches a transcript for every video in
// row order. Unless IsolateTranscripts is set, the first transcript failure
// ends the run with that error.
func (d *Digest) Run(ctx context.Context, handles []string, hours int) fn.Result[Table] {
	if hours <= 0 {
		hours = DefaultHours
	}

	pipeline := fn.Then(
		fn.TracedStage("digest.collect", d.collectStage(hours)),
		fn.TracedStage("digest.transcripts", d.transcriptStage),
	)

	result := pipeline(ctx, handles)
	if table, err := result.Unwrap(); err == nil {
		d.logger.Info("retrieved recent videos and transcripts", "rows", len(table))
	}
	return result
}

func (d *Digest) collectStage(hours int) fn.Stage[[]string, []VideoRecord] {
	return func(ctx context.Context, handles []string) fn.Result[[]VideoRecord] {
		return fn.Ok(d.collector.RecentForHandles(ctx, handles, hours))
	}
}

func (d *Digest) transcriptStage(ctx context.Context, records []VideoRecord) fn.Result[Table] {
	table := make(Table, 0, len(records))
	for _, rec := range records {
		start := time.Now()
		text, err := resilience.Guard(d.breaker, ctx, func(ctx context.Context) fn.Result[string] {
			return d.transcripts.Fetch(ctx, rec.VideoID)
		}).Unwrap()
		if errors.Is(err, resilience.ErrCircuitOpen) {
			err = &TranscriptError{VideoID: rec.VideoID, Err: err}
		}
		d.metrics.Histogram("channel_digest_transcript_duration_seconds", "Transcript fetch duration", nil).Since(start)

		row := Row{VideoRecord: rec, Transcript: text}
		if err != nil {
			d.metrics.Counter(metrics.WithLabels("channel_digest_transcripts_total", "status", "error"), "Transcript fetches by status").Inc()
			if !d.isolate {
				return fn.Err[Table](err)
			}
			d.logger.Error("failed to fetch transcript", "video_id", rec.VideoID, "handle", rec.Handle, "error", err)
			row.Transcript = ""
			row.TranscriptErr = err.Error()
		} else {
			d.metrics.Counter(metrics.WithLabels("channel_digest_transcripts_total", "status", "ok"), "Transcript fetches by status").Inc()
		}
		table = append(table, row)
	}
	return fn.Ok(table)
}

func (d *Digest) observeHandle(handle string, n int, err error) {
	if err != nil {
		d.metrics.Counter(metrics.WithLabels("channel_digest_handle_errors_total", "handle", handle), "Handles whose feed failed").Inc()
		return
	}
	d.metrics.Counter(metrics.WithLabels("channel_digest_videos_total", "handle", handle), "Recent videos collected per handle").Add(int64(n))
}
