package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/swcache/pkg/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/Sternrassler/swcache/pkg/controller")

// Classify decides how a request is handled. Rules are evaluated in order:
// bypass predicates, then HTML documents (network-first), then everything
// else (cache-first).
func (c *Controller) Classify(req *http.Request) Strategy {
	if c.bypass.Matches(req.URL) {
		return StrategyBypass
	}
	if acceptsHTML(req) {
		return StrategyNetworkFirst
	}
	return StrategyCacheFirst
}

// RoundTrip intercepts a request. It implements http.RoundTripper so a
// controller can be installed as the transport of any http.Client.
//
// Each call is independent; no request waits on another.
func (c *Controller) RoundTrip(req *http.Request) (*http.Response, error) {
	strategy := c.Classify(req)

	// Bypassed requests are not observed at all.
	if strategy == StrategyBypass {
		fetchTotal.WithLabelValues(strategy.String(), sourceNetwork).Inc()
		return c.network.RoundTrip(req)
	}

	ctx, span := tracer.Start(req.Context(), "controller.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", req.URL.String()),
			attribute.String("swcache.strategy", strategy.String()),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		fetchDuration.WithLabelValues(strategy.String()).Observe(time.Since(start).Seconds())
	}()

	req = req.Clone(ctx)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	var (
		resp   *http.Response
		source string
		err    error
	)
	switch strategy {
	case StrategyNetworkFirst:
		resp, source, err = c.networkFirst(ctx, req)
	default:
		resp, source, err = c.cacheFirst(ctx, req)
	}

	fetchTotal.WithLabelValues(strategy.String(), source).Inc()
	span.SetAttributes(attribute.String("swcache.source", source))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &FetchError{Strategy: strategy, URL: req.URL.String(), Err: err}
	}

	c.logger.Debug().
		Str("url", req.URL.String()).
		Str("strategy", strategy.String()).
		Str("source", source).
		Int("status_code", resp.StatusCode).
		Msg("Fetch handled")
	return resp, nil
}

// networkFirst returns the live response and stores a snapshot of it in the
// background. On network failure it falls back to any stored response.
func (c *Controller) networkFirst(ctx context.Context, req *http.Request) (*http.Response, string, error) {
	key := store.KeyFor(req)

	resp, netErr := c.network.RoundTrip(req)
	if netErr == nil {
		entry, err := store.ResponseToEntry(resp)
		if err == nil {
			entry.URL = req.URL.String()
			c.persist(ctx, key, entry)
			return resp, sourceNetwork, nil
		}
		// The body broke mid-read; treat it like any other network failure.
		netErr = err
	}

	c.logger.Debug().
		Err(netErr).
		Str("url", req.URL.String()).
		Msg("Network failed, falling back to store")

	entry, err := c.storage.Match(ctx, key)
	if err == nil {
		return store.EntryToResponse(entry, req), sourceCache, nil
	}
	if !errors.Is(err, store.ErrCacheMiss) {
		c.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Store match error")
	}

	return nil, sourceError, fmt.Errorf("%w: %w", ErrOffline, netErr)
}

// cacheFirst serves a stored response when one exists and otherwise goes to
// the network without storing the result.
func (c *Controller) cacheFirst(ctx context.Context, req *http.Request) (*http.Response, string, error) {
	entry, err := c.storage.Match(ctx, store.KeyFor(req))
	if err == nil {
		return store.EntryToResponse(entry, req), sourceCache, nil
	}
	if !errors.Is(err, store.ErrCacheMiss) {
		// Store trouble degrades to a miss
		c.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Store match error")
	}

	resp, err := c.network.RoundTrip(req)
	if err != nil {
		return nil, sourceError, err
	}
	return resp, sourceNetwork, nil
}

// persist writes entry into the current store without blocking the caller.
// Failures are only visible through OnCacheWriteError, logs and metrics.
func (c *Controller) persist(ctx context.Context, key store.RequestKey, entry *store.Entry) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		c.reportWriteError(key, ErrClosed)
		return
	}
	c.wg.Add(1)
	c.mu.RUnlock()

	go func() {
		defer c.wg.Done()

		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.writeTimeout)
		defer cancel()

		cache, err := c.storage.Open(wctx, c.version)
		if err == nil {
			err = cache.Put(wctx, key, entry)
		}
		if err != nil {
			c.reportWriteError(key, err)
			return
		}

		c.logger.Debug().
			Str("key", key.String()).
			Str("store", c.version).
			Int("bytes", entry.Size()).
			Msg("Stored response")
	}()
}

func (c *Controller) reportWriteError(key store.RequestKey, err error) {
	cacheWriteErrorsTotal.Inc()
	c.logger.Debug().Err(err).Str("key", key.String()).Msg("Cache write failed")
	if c.onWriteError != nil {
		c.onWriteError(key, err)
	}
}
