package gateway

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"sapo/internal/amqp"
	"sapo/internal/cache"
)

func TestControlHandler(t *testing.T) {
	f := newFixture(t)
	g := f.register(t, "1.0")
	g.Reconcile = func(context.Context) error { return errors.New("remote unavailable") }
	handler := ControlHandler(f.reg, discardLogger())

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"get version", http.MethodPost, `{"type":"GET_VERSION"}`, http.StatusOK, `"version":"sapo-tracker-v1.0"`},
		{"cache urls", http.MethodPost, `{"type":"CACHE_URLS","payload":["/sapo-finanze/extra.css"]}`, http.StatusOK, `"success":true`},
		{"skip waiting has no reply", http.MethodPost, `{"type":"SKIP_WAITING"}`, http.StatusAccepted, ""},
		{"sync failure", http.MethodPost, `{"type":"SYNC","tag":"background-sync-transactions"}`, http.StatusServiceUnavailable, "remote unavailable"},
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed, ""},
		{"malformed json", http.MethodPost, `{"type":`, http.StatusBadRequest, ""},
		{"missing type", http.MethodPost, `{"payload":[]}`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, ControlPath, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestNewHandler_ProxiesThroughCache(t *testing.T) {
	f := newFixture(t)
	origin, _ := url.Parse(testOrigin)
	h := NewHandler(origin, f.reg, discardLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz before registration = %d, want 503", rec.Code)
	}

	f.register(t, "1.0")
	f.net.setDown(true)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("readyz = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sapo-finanze/js/app.js", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "console.log('app')" {
		t.Errorf("proxied GET = %d %q, want cached app.js", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/sapo-finanze/api/dashboard", nil)
	req.Header.Set("Accept", "application/json")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable || rec.Body.String() != OfflineBody {
		t.Errorf("offline GET = %d %q, want 503", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sapo-finanze/api/transactions", strings.NewReader("{}")))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("offline POST = %d, want 502", rec.Code)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func registerGeneration(t *testing.T, cfg Config, rt http.RoundTripper) *Registration {
	t.Helper()
	reg := NewRegistration(rt, discardLogger())
	g, err := New(cfg, cache.NewManager(), rt, discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := reg.Register(context.Background(), g); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return reg
}

func TestNewHandler_CachedBodyIndependentOfAcceptEncoding(t *testing.T) {
	const script = "console.log('app')"
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/javascript")
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			_, _ = io.WriteString(w, script)
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		_, _ = io.WriteString(zw, script)
		_ = zw.Close()
	}))
	defer upstream.Close()

	origin, err := url.Parse(upstream.URL)
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig(origin)
	cfg.Precache = nil
	transport := &http.Transport{}
	defer transport.CloseIdleConnections()
	h := NewHandler(origin, registerGeneration(t, cfg, transport), discardLogger())

	tests := []struct {
		name           string
		acceptEncoding string
	}{
		{"gzip client fills the cache", "gzip"},
		{"identity client served from cache", ""},
		{"gzip client served from cache", "gzip, deflate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/sapo-finanze/js/app.js", nil)
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if enc := rec.Header().Get("Content-Encoding"); enc != "" {
				t.Errorf("Content-Encoding = %q, want none", enc)
			}
			if rec.Body.String() != script {
				t.Errorf("body = %q, want %q", rec.Body.String(), script)
			}
		})
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("upstream hits = %d, want 1", n)
	}
}

func TestRoundTrip_EncodedResponsesNotStored(t *testing.T) {
	var calls atomic.Int32
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		return &http.Response{
			StatusCode: http.StatusOK,
			Header: http.Header{
				"Content-Type":     {"application/javascript"},
				"Content-Encoding": {"br"},
			},
			Body:    io.NopCloser(strings.NewReader("\x8b\x02")),
			Request: req,
		}, nil
	})
	cfg := testConfig(t, "1.0")
	cfg.Precache = nil
	client := &http.Client{Transport: registerGeneration(t, cfg, rt)}

	for i := 0; i < 2; i++ {
		resp, err := client.Get(testOrigin + "/sapo-finanze/js/app.js")
		if err != nil {
			t.Fatalf("GET error = %v", err)
		}
		resp.Body.Close()
		if resp.Header.Get("Content-Encoding") != "br" {
			t.Errorf("Content-Encoding = %q, want br passed through", resp.Header.Get("Content-Encoding"))
		}
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("network calls = %d, want 2 (encoded response must not be cached)", n)
	}
}

func TestAMQPHandler(t *testing.T) {
	f := newFixture(t)
	f.register(t, "1.0")
	handle := AMQPHandler(f.reg)
	ctx := context.Background()

	reply, err := handle(ctx, amqp.NewControlMessage(string(MsgGetVersion), nil, ""))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	var rep Reply
	if err := json.Unmarshal(reply, &rep); err != nil {
		t.Fatalf("reply is not JSON: %v", err)
	}
	if rep.Version != "sapo-tracker-v1.0" {
		t.Errorf("Version = %q", rep.Version)
	}

	reply, err = handle(ctx, amqp.NewControlMessage(string(MsgSkipWaiting), nil, ""))
	if err != nil || reply != nil {
		t.Errorf("SKIP_WAITING = %q, %v; want no reply", reply, err)
	}

	f.reg.Active().Reconcile = func(context.Context) error { return io.ErrUnexpectedEOF }
	if _, err := handle(ctx, amqp.NewControlMessage(string(MsgSync), nil, SyncTagTransactions)); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("SYNC error = %v, want reconcile error", err)
	}
}
