// Command scraper-youtube lists the recent uploads of one or more YouTube
// channels, attaches cleaned transcripts, and writes one JSON object per
// video to stdout or publishes them to NATS.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/channel-digest/engine/scraper"
	"github.com/WessleyAI/channel-digest/pkg/metrics"
	"github.com/WessleyAI/channel-digest/pkg/mid"
	"github.com/WessleyAI/channel-digest/pkg/natsutil"
	"github.com/WessleyAI/channel-digest/pkg/resilience"
)

type config struct {
	handles            []string
	hours              int
	youtubeURL         string
	transcriptURL      string
	isolateTranscripts bool
	breakerThreshold   int
	natsURL            string
	subject            string
	metricsPort        int
	logLevel           slog.Level
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseFlags(args []string, stderr io.Writer) (config, error) {
	fs := flag.NewFlagSet("scraper-youtube", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		handles  = fs.String("handles", os.Getenv("YOUTUBE_HANDLES"), "comma-separated channel handles")
		hours    = fs.Int("hours", scraper.DefaultHours, "recency window in hours")
		ytURL    = fs.String("youtube-url", "https://www.youtube.com", "YouTube base URL")
		tURL     = fs.String("transcript-url", envOr("TRANSCRIPT_SERVICE_URL", scraper.DefaultTranscriptURL), "transcript service base URL")
		isolate  = fs.Bool("isolate-transcripts", false, "keep rows whose transcript failed instead of aborting")
		breaker  = fs.Int("transcript-breaker", 0, "with -isolate-transcripts, skip remaining transcripts after this many consecutive failures (0 = never)")
		natsURL  = fs.String("nats", os.Getenv("NATS_URL"), "NATS URL (if empty, output JSON to stdout)")
		subject  = fs.String("subject", "channel-digest.videos", "NATS subject to publish to")
		port     = fs.Int("metrics-port", 0, "serve /metrics on this port (0 = disabled)")
		logLevel = fs.String("log-level", envOr("LOG_LEVEL", "info"), "debug, info, warn or error")
	)
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg := config{
		handles:            splitHandles(*handles),
		hours:              *hours,
		youtubeURL:         *ytURL,
		transcriptURL:      *tURL,
		isolateTranscripts: *isolate,
		breakerThreshold:   *breaker,
		natsURL:            *natsURL,
		subject:            *subject,
		metricsPort:        *port,
	}
	if len(cfg.handles) == 0 {
		return cfg, fmt.Errorf("at least one handle is required (-handles or YOUTUBE_HANDLES)")
	}
	if cfg.hours <= 0 {
		return cfg, fmt.Errorf("-hours must be positive, got %d", cfg.hours)
	}
	if cfg.breakerThreshold < 0 {
		return cfg, fmt.Errorf("-transcript-breaker must not be negative, got %d", cfg.breakerThreshold)
	}
	if err := cfg.logLevel.UnmarshalText([]byte(*logLevel)); err != nil {
		return cfg, fmt.Errorf("-log-level: %w", err)
	}
	return cfg, nil
}

func splitHandles(s string) []string {
	var out []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}

func main() {
	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if err == flag.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.logLevel}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log, os.Stdout); err != nil {
		log.Error("scrape failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, log *slog.Logger, stdout io.Writer) error {
	met := metrics.New()
	if cfg.metricsPort > 0 {
		ln, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.metricsPort))
		if err != nil {
			return fmt.Errorf("metrics listen: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", met.Handler())
		h := mid.Chain(mux, mid.Recover(log), mid.Logger(log), mid.OTel("channel-digest"))

		srvCtx, stop := context.WithCancel(ctx)
		defer stop()
		go func() {
			if err := mid.Serve(srvCtx, ln, h, log); err != nil {
				log.Error("metrics server", "error", err)
			}
		}()
	}

	var nc *nats.Conn
	if cfg.natsURL != "" {
		var err error
		nc, err = nats.Connect(cfg.natsURL)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
		log.Info("publishing to NATS", "subject", cfg.subject)
	}

	var breaker *resilience.Breaker
	if cfg.breakerThreshold > 0 {
		breaker = resilience.NewBreaker(resilience.BreakerOpts{
			FailThreshold: cfg.breakerThreshold,
			OnStateChange: func(from, to resilience.State) {
				log.Warn("transcript service breaker", "from", from.String(), "to", to.String())
			},
		})
	}

	client := scraper.NewHTTPClient()
	d := scraper.New(scraper.Options{
		Feed:               scraper.NewYouTubeFeed(scraper.FeedOpts{BaseURL: cfg.youtubeURL, HTTPClient: client}),
		Transcripts:        scraper.NewTranscriptClient(cfg.transcriptURL, client),
		Logger:             log,
		Metrics:            met,
		IsolateTranscripts: cfg.isolateTranscripts,
		TranscriptBreaker:  breaker,
	})

	table, err := d.Run(ctx, cfg.handles, cfg.hours).Unwrap()
	if err != nil {
		return err
	}

	if nc != nil {
		n, err := natsutil.PublishAll(ctx, nc, cfg.subject, table)
		if err != nil {
			return fmt.Errorf("nats publish after %d rows: %w", n, err)
		}
		log.Info("published rows", "count", n)
		return nil
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	for _, row := range table {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("encode: %w", err)
		}
	}
	return nil
}
