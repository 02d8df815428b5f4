// Package gateway implements an offline cache in front of the ledger web app.
//
// A Gateway is one cache generation. It pre-caches the app shell when it is
// installed, deletes every other generation when it is activated, and then
// answers GET requests from the cache, falling back to the network and, when
// the network fails, to the cached app shell or a synthetic 503.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sapo/internal/cache"
	"sapo/internal/log"
)

// State is the lifecycle phase of a generation.
type State int

const (
	Installing State = iota
	Waiting
	Active
	Redundant
)

func (s State) String() string {
	switch s {
	case Installing:
		return "installing"
	case Waiting:
		return "waiting"
	case Active:
		return "active"
	case Redundant:
		return "redundant"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// OfflineBody is the body of the synthetic 503 response.
const OfflineBody = "Offline - resource unavailable"

var (
	ErrInvalidState = errors.New("invalid lifecycle state")
	ErrFetchFailed  = errors.New("fetch failed")
)

type Gateway struct {
	cfg       Config
	storage   cache.Storage
	transport http.RoundTripper
	logger    *log.Logger

	mu    sync.RWMutex
	state State
	store cache.Store

	// Reconcile runs on the transactions sync tag. There is no remote side
	// to reconcile with, so the default does nothing.
	Reconcile func(ctx context.Context) error

	// Now may be replaced by tests.
	Now func() time.Time
}

// New creates a generation in the Installing state. transport is the live
// network; nil means http.DefaultTransport.
func New(cfg Config, storage cache.Storage, transport http.RoundTripper, logger *log.Logger) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Gateway{
		cfg:       cfg,
		storage:   storage,
		transport: transport,
		logger:    logger.WithComponent(log.ComponentGateway).With(log.FieldGeneration, cfg.Generation()),
		state:     Installing,
		Reconcile: func(context.Context) error { return nil },
		Now:       time.Now,
	}, nil
}

func (g *Gateway) Config() Config { return g.cfg }

// Generation is the name of the cache store this gateway owns.
func (g *Gateway) Generation() string { return g.cfg.Generation() }

func (g *Gateway) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Install opens the generation store and pre-caches the same-origin part of
// the manifest in parallel. A failing asset is logged and skipped; only a
// store that cannot be opened fails the install.
func (g *Gateway) Install(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Installing {
		return fmt.Errorf("install from %s: %w", g.state, ErrInvalidState)
	}

	store, err := g.storage.Open(ctx, g.Generation())
	if err != nil {
		return fmt.Errorf("open cache %s: %w", g.Generation(), err)
	}
	urls, err := g.cfg.precacheURLs()
	if err != nil {
		return err
	}

	var eg errgroup.Group
	if g.cfg.PrecacheConcurrency > 0 {
		eg.SetLimit(g.cfg.PrecacheConcurrency)
	}
	for _, u := range urls {
		eg.Go(func() error {
			entry, err := g.fetchEntry(ctx, u)
			if err == nil {
				err = store.Put(ctx, u, entry)
			}
			if err != nil {
				g.logger.WarnContext(ctx, "Skipping asset during install",
					log.FieldURL, u,
					log.FieldError, err.Error())
			}
			return nil
		})
	}
	_ = eg.Wait()

	cached, _ := store.Len(ctx)
	g.store = store
	g.state = Waiting
	g.logger.InfoContext(ctx, "Generation installed",
		log.FieldOperation, log.OpInstall,
		"manifest", len(urls),
		"cached", cached)
	return nil
}

// Activate deletes every cache store except this generation's and starts
// serving requests.
func (g *Gateway) Activate(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Waiting {
		return fmt.Errorf("activate from %s: %w", g.state, ErrInvalidState)
	}

	names, err := g.storage.Names(ctx)
	if err != nil {
		return fmt.Errorf("list cache stores: %w", err)
	}
	for _, name := range names {
		if name == g.Generation() {
			continue
		}
		if _, err := g.storage.Delete(ctx, name); err != nil {
			return fmt.Errorf("delete cache store %s: %w", name, err)
		}
		g.logger.InfoContext(ctx, "Deleted old cache generation", "old_generation", name)
	}

	g.state = Active
	g.logger.InfoContext(ctx, "Generation activated", log.FieldOperation, log.OpActivate)
	return nil
}

// retire marks a generation replaced by a newer one.
func (g *Gateway) retire() {
	g.mu.Lock()
	g.state = Redundant
	g.mu.Unlock()
}

// intercepts reports whether req goes through the cache at all.
func intercepts(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	scheme := strings.ToLower(req.URL.Scheme)
	return scheme == "http" || scheme == "https"
}

// RoundTrip implements http.RoundTripper. Requests that are not GET over
// http(s), or that reach a generation which is not active, go straight to
// the network.
func (g *Gateway) RoundTrip(req *http.Request) (*http.Response, error) {
	if !intercepts(req) || g.State() != Active {
		return g.transport.RoundTrip(req)
	}
	ctx := req.Context()
	key := req.URL.String()

	entry, ok, err := g.storage.Match(ctx, key)
	if err != nil {
		g.logger.WarnContext(ctx, "Cache lookup failed, using network",
			log.FieldURL, key,
			log.FieldError, err.Error())
	}
	if ok {
		g.logger.DebugContext(ctx, "Serving from cache", log.FieldURL, key)
		return entry.Response(req), nil
	}

	// Entries are keyed by URL alone, so the stored body must not depend on
	// the caller's Accept-Encoding. Without it the transport negotiates and
	// decodes compression itself.
	out := req
	if req.Header.Get("Accept-Encoding") != "" {
		out = req.Clone(ctx)
		out.Header.Del("Accept-Encoding")
	}
	resp, err := g.transport.RoundTrip(out)
	if err != nil {
		g.logger.InfoContext(ctx, "Network fetch failed, serving offline response",
			log.FieldURL, key,
			log.FieldError, err.Error())
		return g.offline(req), nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || !g.cfg.cacheable(req.URL) {
		return resp, nil
	}
	if resp.Header.Get("Content-Encoding") != "" {
		g.logger.DebugContext(ctx, "Not caching encoded response",
			log.FieldURL, key,
			"content_encoding", resp.Header.Get("Content-Encoding"))
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		g.logger.InfoContext(ctx, "Reading network response failed, serving offline response",
			log.FieldURL, key,
			log.FieldError, err.Error())
		return g.offline(req), nil
	}
	if err := g.currentStore().Put(ctx, key, cache.NewEntry(key, resp, body, g.Now())); err != nil {
		g.logger.WarnContext(ctx, "Failed to store response",
			log.FieldURL, key,
			log.FieldError, err.Error())
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

func (g *Gateway) currentStore() cache.Store {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store
}

// offline builds the response used when the network cannot be reached: the
// cached app shell for HTML requests, else a 503.
func (g *Gateway) offline(req *http.Request) *http.Response {
	if strings.Contains(req.Header.Get("Accept"), "text/html") {
		fallback, err := g.cfg.resolve(g.cfg.fallbackPath())
		if err == nil {
			if entry, ok, _ := g.storage.Match(req.Context(), fallback.String()); ok {
				return entry.Response(req)
			}
		}
		g.logger.WarnContext(req.Context(), "Fallback document not cached", log.FieldURL, g.cfg.fallbackPath())
	}
	return unavailable(req)
}

func unavailable(req *http.Request) *http.Response {
	return cache.Entry{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:   []byte(OfflineBody),
	}.Response(req)
}

// fetchEntry downloads rawURL and requires a 2xx answer.
func (g *Gateway) fetchEntry(ctx context.Context, rawURL string) (cache.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("build request for %s: %w", rawURL, err)
	}
	client := &http.Client{Transport: g.transport}
	resp, err := client.Do(req)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("%w: %s: %v", ErrFetchFailed, rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return cache.Entry{}, fmt.Errorf("%w: %s: status %d", ErrFetchFailed, rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("%w: %s: %v", ErrFetchFailed, rawURL, err)
	}
	return cache.NewEntry(rawURL, resp, body, g.Now()), nil
}

// CacheURLs fetches every URL and stores them only if all succeed.
func (g *Gateway) CacheURLs(ctx context.Context, urls []string) error {
	store := g.currentStore()
	if store == nil {
		return fmt.Errorf("cache urls while %s: %w", g.State(), ErrInvalidState)
	}

	resolved := make([]string, len(urls))
	for i, raw := range urls {
		u, err := g.cfg.resolve(raw)
		if err != nil {
			return err
		}
		resolved[i] = u.String()
	}

	entries := make([]cache.Entry, len(resolved))
	eg, egCtx := errgroup.WithContext(ctx)
	if g.cfg.PrecacheConcurrency > 0 {
		eg.SetLimit(g.cfg.PrecacheConcurrency)
	}
	for i, u := range resolved {
		eg.Go(func() error {
			entry, err := g.fetchEntry(egCtx, u)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for i, u := range resolved {
		if err := store.Put(ctx, u, entries[i]); err != nil {
			return fmt.Errorf("store %s: %w", u, err)
		}
	}
	return nil
}

// Sync handles a deferred-sync event. Unknown tags are ignored; a failing
// reconciliation is returned so the caller can retry later.
func (g *Gateway) Sync(ctx context.Context, tag string) error {
	if tag != SyncTagTransactions {
		g.logger.DebugContext(ctx, "Ignoring sync tag", log.FieldSyncTag, tag)
		return nil
	}
	if err := g.Reconcile(ctx); err != nil {
		g.logger.ErrorContext(ctx, "Transaction sync failed",
			log.FieldSyncTag, tag,
			log.FieldError, err.Error())
		return fmt.Errorf("sync %s: %w", tag, err)
	}
	g.logger.InfoContext(ctx, "Transaction sync completed", log.FieldSyncTag, tag)
	return nil
}
