// Package server normalizes and validates HTTP origins for WebSocket requests
// to enforce configured access control.
package server

import (
	"log"
	"net/http"
	"net/url"
	"strings"
)

// originPolicy is the compiled form of the allowed-origins configuration: a
// set of normalized scheme://host entries, or an allow-everything flag when
// the configuration contains a "*" entry.
type originPolicy struct {
	allowAll bool
	origins  map[string]struct{}
}

// buildOriginPolicy compiles configured origin entries into a policy and
// returns the normalized entries that survived. Blank entries are skipped and
// unparseable ones are logged and dropped.
func buildOriginPolicy(entries []string) (originPolicy, []string) {
	policy := originPolicy{origins: make(map[string]struct{}, len(entries))}
	kept := make([]string, 0, len(entries))

	for _, entry := range entries {
		trimmed := strings.TrimSpace(entry)
		switch {
		case trimmed == "":
		case trimmed == "*":
			policy.allowAll = true
		default:
			normalized, ok := normalizeOrigin(trimmed)
			if !ok {
				log.Printf("Ignoring invalid origin in configuration: %q", entry)
				continue
			}
			policy.origins[normalized] = struct{}{}
			kept = append(kept, normalized)
		}
	}

	return policy, kept
}

// allows reports whether a normalized origin passes the policy.
func (p originPolicy) allows(normalizedOrigin string) bool {
	if p.allowAll {
		return true
	}
	_, ok := p.origins[normalizedOrigin]
	return ok
}

// normalizeOrigin reduces an origin to lowercase scheme://host so comparisons
// ignore case and any path component.
func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// checkOrigin is the upgrader's origin gate. Requests without an Origin
// header are rejected; browsers always send one and non-browser clients must
// present an allowed origin explicitly.
func checkOrigin(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		log.Printf("Blocked WebSocket connection without an Origin header from %s", r.RemoteAddr)
		return false
	}

	normalized, ok := normalizeOrigin(originHeader)
	if !ok {
		log.Printf("Blocked WebSocket connection with malformed origin %q", originHeader)
		return false
	}

	configMu.RLock()
	policy := activeOriginPolicy
	configMu.RUnlock()

	if !policy.allows(normalized) {
		log.Printf("Blocked WebSocket connection from disallowed origin: %q", originHeader)
		return false
	}
	return true
}
