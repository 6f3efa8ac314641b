package controller

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/swcache/pkg/store"
	"golang.org/x/sync/errgroup"
)

type seedResult struct {
	key   store.RequestKey
	entry *store.Entry
}

// Install opens the store named by the controller version and fills it
// with the seed resources. Any seed that fails to fetch, or answers with a
// non-2xx status, rejects the install; nothing is stored in that case and
// the controller becomes redundant, leaving the previous controller in
// charge.
func (c *Controller) Install(ctx context.Context) error {
	if !c.transition(StateParsed, StateInstalling) {
		return fmt.Errorf("%w: install from %s", ErrInvalidState, c.State())
	}
	start := time.Now()

	cache, err := c.storage.Open(ctx, c.version)
	if err != nil {
		return c.failInstall(fmt.Errorf("open store: %w", err))
	}

	results, err := c.fetchSeeds(ctx)
	if err != nil {
		return c.failInstall(err)
	}

	for _, r := range results {
		if err := cache.Put(ctx, r.key, r.entry); err != nil {
			return c.failInstall(fmt.Errorf("store seed %s: %w", r.key.URL, err))
		}
	}

	c.transition(StateInstalling, StateInstalled)
	lifecycleTotal.WithLabelValues("install", "success").Inc()
	c.logger.Info().
		Str("store", c.version).
		Int("seeds", len(results)).
		Dur("duration", time.Since(start)).
		Msg("Controller installed")
	return nil
}

func (c *Controller) failInstall(err error) error {
	c.state.Store(int32(StateRedundant))
	lifecycleTotal.WithLabelValues("install", "failure").Inc()
	c.logger.Error().Err(err).Msg("Install failed")
	return fmt.Errorf("%w: %v", ErrInstallFailed, err)
}

// fetchSeeds fetches every seed with bounded parallelism and fails fast on
// the first error.
func (c *Controller) fetchSeeds(ctx context.Context) ([]seedResult, error) {
	results := make([]seedResult, len(c.seeds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.installConcurrency)

	for i, seed := range c.seeds {
		i, seed := i, seed
		g.Go(func() error {
			ref, err := c.origin.Parse(seed)
			if err != nil {
				return fmt.Errorf("resolve seed %q: %w", seed, err)
			}

			req, err := http.NewRequestWithContext(gctx, http.MethodGet, ref.String(), nil)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}

			resp, err := c.client.Do(req)
			if err != nil {
				return fmt.Errorf("fetch seed %s: %w", ref, err)
			}
			if !store.IsOK(resp.StatusCode) {
				resp.Body.Close()
				return fmt.Errorf("fetch seed %s: unexpected status %d", ref, resp.StatusCode)
			}

			entry, err := store.ResponseToEntry(resp)
			if err != nil {
				return fmt.Errorf("fetch seed %s: %w", ref, err)
			}
			entry.URL = ref.String()

			c.logger.Debug().
				Str("url", ref.String()).
				Int("status_code", resp.StatusCode).
				Int("bytes", entry.Size()).
				Msg("Fetched seed")

			results[i] = seedResult{key: store.KeyFor(req), entry: entry}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
