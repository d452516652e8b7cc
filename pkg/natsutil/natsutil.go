// Package natsutil publishes JSON messages to NATS with OpenTelemetry trace
// propagation.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Publish serializes v as JSON and publishes to the given subject.
// Trace context from ctx is injected into NATS message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
	}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return nc.PublishMsg(msg)
}

// PublishAll publishes each item in order, one message per item, then
// flushes the connection. It stops at the first failure and reports how
// many items were published.
func PublishAll[T any](ctx context.Context, nc *nats.Conn, subject string, items []T) (int, error) {
	for i, v := range items {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := Publish(ctx, nc, subject, v); err != nil {
			return i, fmt.Errorf("publish item %d: %w", i, err)
		}
	}
	if err := nc.Flush(); err != nil {
		return len(items), fmt.Errorf("flush: %w", err)
	}
	return len(items), nil
}
