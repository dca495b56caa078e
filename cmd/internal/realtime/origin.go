package realtime

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
)

// originPolicy decides which Origin headers may open a WebSocket. An allow-list entry matches
// either the exact origin or, port- and scheme-insensitively, its host. "*" allows everything.
type originPolicy struct {
	required bool
	any      bool
	exact    map[string]struct{}
	hosts    map[string]struct{}
}

func newOriginPolicy(required bool, allowed []string) originPolicy {
	p := originPolicy{
		required: required,
		exact:    make(map[string]struct{}, len(allowed)),
		hosts:    make(map[string]struct{}, len(allowed)),
	}
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
		case a == "*":
			p.any = true
		default:
			p.exact[strings.ToLower(a)] = struct{}{}
			if h := originHost(a); h != "" {
				p.hosts[h] = struct{}{}
			}
		}
	}
	return p
}

// check returns nil when origin may connect. Requests without Origin (native clients) pass
// unless the policy requires one.
func (p originPolicy) check(origin string) error {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		if p.required {
			return errors.New("missing origin")
		}
		return nil
	}
	if p.any {
		return nil
	}
	if len(p.exact) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}
	if _, ok := p.exact[strings.ToLower(origin)]; ok {
		return nil
	}
	if _, ok := p.hosts[originHost(origin)]; ok {
		return nil
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

// acceptPatterns translates the allow-list into websocket.AcceptOptions.OriginPatterns.
// Accept matches them as filepath.Match patterns against the origin's host[:port], so every host is
// emitted bare and with a port wildcard.
func (p originPolicy) acceptPatterns() []string {
	if p.any {
		return []string{"*"}
	}
	out := make([]string, 0, 2*len(p.hosts))
	for h := range p.hosts {
		if strings.Contains(h, ":") {
			h = `\[` + h + `\]`
		}
		out = append(out, h, h+":*")
	}
	sort.Strings(out)
	return out
}

// originHost extracts the lowercased host of an origin ("https://a.example:8443") or of a bare
// host[:port] entry.
func originHost(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	host := s
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		host = u.Host
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.Trim(host, "[]"))
}
