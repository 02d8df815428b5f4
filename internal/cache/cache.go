package cache

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Entry is a stored response, keyed by the full request URL.
type Entry struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Store is one named cache. Entries never expire on their own.
type Store interface {
	Name() string

	// Put stores or replaces the entry for key
	Put(ctx context.Context, key string, e Entry) error

	// Get retrieves the entry for key
	Get(ctx context.Context, key string) (Entry, bool, error)

	// Delete removes key. Missing keys are ignored.
	Delete(ctx context.Context, key string) error

	Keys(ctx context.Context) ([]string, error)
	Len(ctx context.Context) (int, error)
}

// Storage holds every named Store.
type Storage interface {
	// Open returns the named store, creating it when missing
	Open(ctx context.Context, name string) (Store, error)

	Has(ctx context.Context, name string) (bool, error)

	// Names lists stores in creation order
	Names(ctx context.Context) ([]string, error)

	// Delete drops the named store with all its entries and reports whether
	// it existed
	Delete(ctx context.Context, name string) (bool, error)

	// Match searches every store, in creation order, for key
	Match(ctx context.Context, key string) (Entry, bool, error)
}

// NewEntry copies a response into an Entry. body must be the full response
// body, already read by the caller.
func NewEntry(url string, resp *http.Response, body []byte, now time.Time) Entry {
	return Entry{
		URL:      url,
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     bytes.Clone(body),
		StoredAt: now.UTC(),
	}
}

// Clone returns a deep copy so callers cannot alter stored state.
func (e Entry) Clone() Entry {
	e.Header = e.Header.Clone()
	e.Body = bytes.Clone(e.Body)
	return e
}

// Response builds a fresh response carrying the stored status, headers and
// body bytes.
func (e Entry) Response(req *http.Request) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", strconv.Itoa(len(e.Body)))
	return &http.Response{
		Status:        strconv.Itoa(e.Status) + " " + http.StatusText(e.Status),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}
