package controller

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/swcache/internal/testutil"
	"github.com/Sternrassler/swcache/pkg/store"
)

// failingStorage fails every Match with a backend error.
type failingStorage struct {
	store.Storage
}

func (s *failingStorage) Match(context.Context, store.RequestKey) (*store.Entry, error) {
	return nil, errors.New("backend unavailable")
}

func htmlRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, testOrigin+path, nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	return req
}

func assetRequest(path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, testOrigin+path, nil)
	req.Header.Set("Accept", "*/*")
	return req
}

func seedEntry(t *testing.T, storage store.Storage, name string, req *http.Request, body string) {
	t.Helper()

	cache, err := storage.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("Open(%q) error = %v", name, err)
	}
	entry := &store.Entry{
		URL:        req.URL.String(),
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"text/plain"}},
		Data:       []byte(body),
		CachedAt:   time.Now(),
	}
	if err := cache.Put(context.Background(), store.KeyFor(req), entry); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}

func TestController_NetworkFirst_StoresResponse(t *testing.T) {
	env := newTestEnv(t)
	env.origin.SetResponse("/pricing", testutil.NewHTMLResponse("<p>pricing</p>"))
	c := env.controller(t)

	req := htmlRequest(http.MethodGet, "/pricing")
	resp, err := c.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	if got := readBody(t, resp); got != "<p>pricing</p>" {
		t.Errorf("body = %q, want network body", got)
	}

	// Close drains the background write
	c.Close()

	cache, err := env.storage.Storage.Open(context.Background(), DefaultVersion)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	entry, err := cache.Match(context.Background(), store.KeyFor(req))
	if err != nil {
		t.Fatalf("stored entry missing: %v", err)
	}
	if string(entry.Data) != "<p>pricing</p>" {
		t.Errorf("stored body = %q", entry.Data)
	}
	if entry.URL != testOrigin+"/pricing" {
		t.Errorf("stored URL = %q, want public URL", entry.URL)
	}
}

func TestController_NetworkFirst_StoresErrorStatus(t *testing.T) {
	env := newTestEnv(t)
	env.origin.SetResponse("/broken", testutil.NewServerErrorResponse())
	c := env.controller(t)

	req := htmlRequest(http.MethodGet, "/broken")
	resp, err := c.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", resp.StatusCode)
	}

	c.Close()

	entry, err := env.storage.Storage.Match(context.Background(), store.KeyFor(req))
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if entry.StatusCode != http.StatusInternalServerError {
		t.Errorf("stored StatusCode = %d, want 500", entry.StatusCode)
	}
}

func TestController_NetworkFirst_OfflineFallback(t *testing.T) {
	env := newTestEnv(t)
	c := env.controller(t)

	req := htmlRequest(http.MethodGet, "/")
	// Any store counts, not only the controller's own version
	seedEntry(t, env.storage, "aiworkshop-v1", req, "stored home")

	env.network.SetOffline(true)

	resp, err := c.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	if got := readBody(t, resp); got != "stored home" {
		t.Errorf("body = %q, want stored body", got)
	}
	if n := len(env.network.Calls()); n != 1 {
		t.Errorf("network calls = %d, want 1", n)
	}
}

func TestController_NetworkFirst_OfflineNothingStored(t *testing.T) {
	env := newTestEnv(t)
	env.network.SetOffline(true)
	c := env.controller(t)

	resp, err := c.RoundTrip(htmlRequest(http.MethodGet, "/never-seen"))
	if resp != nil {
		t.Errorf("RoundTrip() response = %v, want nil", resp)
	}

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("RoundTrip() error = %v, want *FetchError", err)
	}
	if fetchErr.Strategy != StrategyNetworkFirst {
		t.Errorf("Strategy = %s, want network_first", fetchErr.Strategy)
	}
	if !errors.Is(err, ErrOffline) {
		t.Errorf("error should wrap ErrOffline: %v", err)
	}
	if !errors.Is(err, testutil.ErrNetworkDown) {
		t.Errorf("error should wrap the network cause: %v", err)
	}
}

func TestController_NetworkFirst_WriteFailureIsSilent(t *testing.T) {
	env := newTestEnv(t)
	env.origin.SetResponse("/contact", testutil.NewHTMLResponse("thanks"))

	writeErrs := make(chan error, 1)
	c := env.controller(t, func(cfg *Config) {
		cfg.OnCacheWriteError = func(_ store.RequestKey, err error) { writeErrs <- err }
	})

	// POST responses cannot be stored
	resp, err := c.RoundTrip(htmlRequest(http.MethodPost, "/contact"))
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	if got := readBody(t, resp); got != "thanks" {
		t.Errorf("body = %q, want network body", got)
	}

	select {
	case err := <-writeErrs:
		if !errors.Is(err, store.ErrUnsupportedMethod) {
			t.Errorf("write error = %v, want ErrUnsupportedMethod", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("OnCacheWriteError was not called")
	}
}

func TestController_NetworkFirst_AfterClose(t *testing.T) {
	env := newTestEnv(t)

	var (
		mu   sync.Mutex
		errs []error
	)
	c := env.controller(t, func(cfg *Config) {
		cfg.OnCacheWriteError = func(_ store.RequestKey, err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	})
	c.Close()

	resp, err := c.RoundTrip(htmlRequest(http.MethodGet, "/"))
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	resp.Body.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 || !errors.Is(errs[0], ErrClosed) {
		t.Errorf("write errors = %v, want [ErrClosed]", errs)
	}
}

func TestController_CacheFirst_MissDoesNotStore(t *testing.T) {
	env := newTestEnv(t)
	env.origin.SetResponse("/assets/app.js", testutil.NewAssetResponse("text/javascript", "console.log(1)"))
	c := env.controller(t)

	req := assetRequest("/assets/app.js")
	resp, err := c.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	if got := readBody(t, resp); got != "console.log(1)" {
		t.Errorf("body = %q", got)
	}

	c.Close()

	if n := env.storage.puts.Load(); n != 0 {
		t.Errorf("puts = %d, want 0", n)
	}
	if _, err := env.storage.Storage.Match(context.Background(), store.KeyFor(req)); !errors.Is(err, store.ErrCacheMiss) {
		t.Errorf("Match() error = %v, want ErrCacheMiss", err)
	}
}

func TestController_CacheFirst_HitSkipsNetwork(t *testing.T) {
	env := newTestEnv(t)
	c := env.controller(t)

	req := assetRequest("/assets/app.js")
	seedEntry(t, env.storage, DefaultVersion, req, "stored script")
	env.network.SetOffline(true)

	resp, err := c.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	if got := readBody(t, resp); got != "stored script" {
		t.Errorf("body = %q, want stored body", got)
	}
	if calls := env.network.Calls(); len(calls) != 0 {
		t.Errorf("network calls = %v, want none", calls)
	}
}

func TestController_CacheFirst_StoreErrorIsMiss(t *testing.T) {
	env := newTestEnv(t)
	env.origin.SetResponse("/assets/logo.svg", testutil.NewAssetResponse("image/svg+xml", "<svg/>"))
	env.storage.Storage = &failingStorage{Storage: store.NewMemoryStorage()}
	c := env.controller(t)

	resp, err := c.RoundTrip(assetRequest("/assets/logo.svg"))
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	if got := readBody(t, resp); got != "<svg/>" {
		t.Errorf("body = %q, want network body", got)
	}
}

func TestController_CacheFirst_NetworkError(t *testing.T) {
	env := newTestEnv(t)
	env.network.SetOffline(true)
	c := env.controller(t)

	_, err := c.RoundTrip(assetRequest("/assets/app.js"))

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("RoundTrip() error = %v, want *FetchError", err)
	}
	if fetchErr.Strategy != StrategyCacheFirst {
		t.Errorf("Strategy = %s, want cache_first", fetchErr.Strategy)
	}
	if !errors.Is(err, testutil.ErrNetworkDown) {
		t.Errorf("error should wrap the network cause: %v", err)
	}
}

func TestController_Bypass_NeverTouchesStore(t *testing.T) {
	env := newTestEnv(t)
	c := env.controller(t)

	for _, path := range []string{"/@vite/client", "/src/main.tsx"} {
		resp, err := c.RoundTrip(htmlRequest(http.MethodGet, path))
		if err != nil {
			t.Fatalf("RoundTrip(%s) error = %v", path, err)
		}
		resp.Body.Close()
	}

	c.Close()

	if n := env.storage.calls.Load(); n != 0 {
		t.Errorf("storage calls = %d, want 0", n)
	}
	if n := env.origin.GetRequestCount(); n != 2 {
		t.Errorf("origin requests = %d, want 2", n)
	}
}

func TestController_ConcurrentFetches(t *testing.T) {
	env := newTestEnv(t)
	c := env.controller(t)

	seedEntry(t, env.storage, DefaultVersion, assetRequest("/favicon.ico"), "icon")

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			resp, err := c.RoundTrip(assetRequest("/favicon.ico"))
			if err != nil {
				errs <- err
				return
			}
			resp.Body.Close()
		}()
		go func() {
			defer wg.Done()
			resp, err := c.RoundTrip(htmlRequest(http.MethodGet, "/"))
			if err != nil {
				errs <- err
				return
			}
			resp.Body.Close()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("RoundTrip() error = %v", err)
	}
}
