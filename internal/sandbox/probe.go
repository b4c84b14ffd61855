package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ProbeConfig bounds the backoff between readiness probes.
type ProbeConfig struct {
	Interval    time.Duration
	MaxInterval time.Duration
}

func (c ProbeConfig) withDefaults() ProbeConfig {
	if c.Interval <= 0 {
		c.Interval = 250 * time.Millisecond
	}
	if c.MaxInterval < c.Interval {
		c.MaxInterval = 2 * time.Second
	}
	return c
}

// target is one sandbox port and the URL it is reachable at from the host.
type target struct {
	port int
	url  string
}

// waitReachable polls every target until one of them answers an HTTP request
// with any status. It only returns an error when ctx ends.
func waitReachable(ctx context.Context, targets []target, cfg ProbeConfig, log *slog.Logger) (ServerReady, error) {
	if len(targets) == 0 {
		<-ctx.Done()
		return ServerReady{}, ctx.Err()
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	found := make(chan ServerReady, len(targets))
	for _, t := range targets {
		go func(t target) {
			if err := probe(ctx, t.url, cfg, log); err == nil {
				found <- ServerReady{Port: t.port, URL: t.url}
			}
		}(t)
	}

	select {
	case r := <-found:
		return r, nil
	case <-ctx.Done():
		return ServerReady{}, ctx.Err()
	}
}

func probe(ctx context.Context, url string, cfg ProbeConfig, log *slog.Logger) error {
	client := retryablehttp.NewClient()
	client.RetryMax = math.MaxInt32
	client.RetryWaitMin = cfg.Interval
	client.RetryWaitMax = cfg.MaxInterval
	client.Backoff = retryablehttp.DefaultBackoff
	client.HTTPClient.Timeout = 2 * time.Second
	client.Logger = nil
	// Any HTTP response means something is listening; only transport
	// errors are worth another attempt.
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return err != nil, nil
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	log.Debug("Dev server answered", "url", url, "status", resp.StatusCode)
	return nil
}
