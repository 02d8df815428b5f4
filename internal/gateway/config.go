package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// SyncTagTransactions is the deferred-sync tag used by the ledger UI.
const SyncTagTransactions = "background-sync-transactions"

// Config describes one gateway generation.
type Config struct {
	AppName  string
	Version  string
	Origin   *url.URL
	BasePath string

	// Precache lists assets stored at install time. Entries may be paths
	// relative to Origin or absolute URLs; only same-origin ones are fetched.
	Precache []string

	// AllowedHosts are external hosts whose successful responses are cached.
	AllowedHosts []string

	// FallbackPath is served to HTML requests when the network is down.
	// Defaults to BasePath + "index.html".
	FallbackPath string

	// PrecacheConcurrency bounds parallel fetches during install.
	PrecacheConcurrency int
}

// DefaultConfig returns the configuration of the ledger web app served from
// origin.
func DefaultConfig(origin *url.URL) Config {
	base := "/sapo-finanze/"
	return Config{
		AppName:  "sapo-tracker",
		Version:  "1.0",
		Origin:   origin,
		BasePath: base,
		Precache: []string{
			base,
			base + "index.html",
			base + "manifest.json",
			base + "js/app.js",
			"https://cdn.tailwindcss.com",
			"https://cdn.jsdelivr.net/npm/chart.js",
			"https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.0.0/css/all.min.css",
		},
		AllowedHosts: []string{
			"cdn.tailwindcss.com",
			"cdn.jsdelivr.net",
			"cdnjs.cloudflare.com",
			"fonts.googleapis.com",
			"fonts.gstatic.com",
		},
		PrecacheConcurrency: 4,
	}
}

// Generation is the cache store name of this configuration.
func (c Config) Generation() string {
	return c.AppName + "-v" + c.Version
}

// Validate checks that the configuration can drive a gateway.
func (c Config) Validate() error {
	var errs []string
	if strings.TrimSpace(c.AppName) == "" {
		errs = append(errs, "app name is required")
	}
	if strings.TrimSpace(c.Version) == "" {
		errs = append(errs, "version is required")
	}
	if c.Origin == nil || c.Origin.Host == "" {
		errs = append(errs, "origin must be an absolute URL")
	} else if c.Origin.Scheme != "http" && c.Origin.Scheme != "https" {
		errs = append(errs, fmt.Sprintf("origin scheme must be http or https, got %q", c.Origin.Scheme))
	}
	if !strings.HasPrefix(c.BasePath, "/") || !strings.HasSuffix(c.BasePath, "/") {
		errs = append(errs, fmt.Sprintf("base path must start and end with '/', got %q", c.BasePath))
	}
	if len(errs) > 0 {
		return errors.New("invalid gateway config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c Config) fallbackPath() string {
	if c.FallbackPath != "" {
		return c.FallbackPath
	}
	return c.BasePath + "index.html"
}

// resolve turns a manifest entry into an absolute URL.
func (c Config) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", ref, err)
	}
	return c.Origin.ResolveReference(u), nil
}

func (c Config) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, c.Origin.Scheme) && strings.EqualFold(u.Host, c.Origin.Host)
}

// cacheable reports whether a successful response for u may be stored:
// app paths on the own origin, or anything on an allow-listed host.
func (c Config) cacheable(u *url.URL) bool {
	if c.sameOrigin(u) {
		return strings.HasPrefix(u.Path, c.BasePath)
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range c.AllowedHosts {
		if host == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// precacheURLs returns the same-origin manifest entries as absolute URLs.
func (c Config) precacheURLs() ([]string, error) {
	var out []string
	for _, ref := range c.Precache {
		u, err := c.resolve(ref)
		if err != nil {
			return nil, err
		}
		if !c.sameOrigin(u) {
			continue
		}
		out = append(out, u.String())
	}
	return out, nil
}
