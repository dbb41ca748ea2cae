// Package router decides, per incoming request, how the gateway serves it:
// pass it through untouched, prefer the network with a cache fallback, or
// serve from cache with a background refresh. The decision is a pure function
// over request metadata so it can be tested without a running gateway; the
// HTTP handlers are thin adapters around it.
package router

import (
	"net/http"
	"strings"
)

// Strategy is the serving strategy chosen for a request.
type Strategy int

const (
	// StrategyPassthrough proxies the request untouched. Non-GET requests
	// and cross-origin requests always take this path.
	StrategyPassthrough Strategy = iota
	// StrategyNetworkOnly serves dynamic API/auth/session endpoints:
	// network preferred, cache consulted only when the network fails, and
	// successful responses are never written back to the cache.
	StrategyNetworkOnly
	// StrategyNetworkFirst serves navigations: live response when online
	// (stored into the runtime store), cached page or the offline shell
	// when not.
	StrategyNetworkFirst
	// StrategyCacheFirst serves static assets: cached response immediately,
	// refreshed in the background.
	StrategyCacheFirst
)

// String returns the strategy name used in logs and metrics labels.
func (s Strategy) String() string {
	switch s {
	case StrategyPassthrough:
		return "passthrough"
	case StrategyNetworkOnly:
		return "network_only"
	case StrategyNetworkFirst:
		return "network_first"
	case StrategyCacheFirst:
		return "cache_first"
	default:
		return "unknown"
	}
}

// Router holds the path rules the decision is made against.
type Router struct {
	bypassPrefixes   []string
	sessionCheckPath string
}

// New creates a Router. bypassPrefixes are the dynamic same-origin prefixes
// (API, auth); sessionCheckPath is the exact session-probe path.
func New(bypassPrefixes []string, sessionCheckPath string) *Router {
	return &Router{
		bypassPrefixes:   bypassPrefixes,
		sessionCheckPath: sessionCheckPath,
	}
}

// Route returns the strategy for the request. Rules are evaluated in order,
// first match wins:
//
//  1. non-GET: passthrough
//  2. same-origin path under a bypass prefix, or the session-check path:
//     network-only
//  3. cross-origin: passthrough
//  4. navigation: network-first
//  5. everything else (same-origin GET assets): cache-first
func (rt *Router) Route(r *http.Request) Strategy {
	if r.Method != http.MethodGet {
		return StrategyPassthrough
	}

	if isSameOrigin(r) {
		path := r.URL.Path
		if path == rt.sessionCheckPath {
			return StrategyNetworkOnly
		}
		for _, prefix := range rt.bypassPrefixes {
			if strings.HasPrefix(path, prefix) {
				return StrategyNetworkOnly
			}
		}
	} else {
		return StrategyPassthrough
	}

	if isNavigation(r) {
		return StrategyNetworkFirst
	}
	return StrategyCacheFirst
}

// isSameOrigin reports whether the request targets the gateway's own origin.
// Proxy-style requests carrying an absolute URL for another host are
// cross-origin and must not be intercepted.
func isSameOrigin(r *http.Request) bool {
	if r.URL.Host == "" {
		return true
	}
	return strings.EqualFold(r.URL.Host, r.Host)
}

// isNavigation reports whether the request is a top-level page load. Browsers
// mark these with Sec-Fetch-Mode: navigate; for older clients an explicit
// text/html Accept preference is treated the same way.
func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html")
}
