package scraper

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultTimeout bounds every outbound request made with NewHTTPClient.
const DefaultTimeout = 30 * time.Second

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// NewHTTPClient returns a pooled client whose requests are traced.
func NewHTTPClient() *http.Client {
	c := cleanhttp.DefaultPooledClient()
	c.Transport = otelhttp.NewTransport(c.Transport)
	c.Timeout = DefaultTimeout
	return c
}
