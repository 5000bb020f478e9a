package scope

import (
	"fmt"
	"net/netip"
	"strings"
)

// Verdict is the outcome of a scope check.
type Verdict string

const (
	InScope    Verdict = "IN_SCOPE"
	OutOfScope Verdict = "OUT_OF_SCOPE"
	Unknown    Verdict = "UNKNOWN"
)

// Result is the verdict for one target plus the pattern that decided it.
type Result struct {
	Verdict Verdict
	Target  string // normalized target
	Pattern string // empty when Verdict is Unknown
}

// Evaluate classifies a target. Every out-of-scope pattern is tried before any
// in-scope pattern, so a refusal can never be bypassed by a broader allow rule.
// A nil Definition yields Unknown.
func (d *Definition) Evaluate(target string) Result {
	host := Normalize(target)
	res := Result{Verdict: Unknown, Target: host}
	if d == nil || host == "" {
		return res
	}

	addr, addrErr := netip.ParseAddr(host)
	isIP := addrErr == nil

	if p, ok := match(d.outOfScope, host, addr, isIP); ok {
		res.Verdict = OutOfScope
		res.Pattern = p.raw
		return res
	}
	if p, ok := match(d.inScope, host, addr, isIP); ok {
		res.Verdict = InScope
		res.Pattern = p.raw
		return res
	}
	return res
}

// match walks one pattern set in the order exact, wildcard, CIDR.
func match(patterns []Pattern, host string, addr netip.Addr, isIP bool) (Pattern, bool) {
	for _, p := range patterns {
		if p.kind == PatternExact && p.host == host {
			return p, true
		}
	}
	for _, p := range patterns {
		if p.kind == PatternWildcard && (host == p.host || strings.HasSuffix(host, "."+p.host)) {
			return p, true
		}
	}
	if isIP {
		for _, p := range patterns {
			if p.kind == PatternCIDR && p.prefix.Contains(addr) {
				return p, true
			}
		}
	}
	return Pattern{}, false
}

// Normalize reduces a target to a bare lower-case host or IP: scheme, userinfo,
// path, query, port, IPv6 brackets and a trailing dot are removed.
func Normalize(target string) string {
	s := strings.ToLower(strings.TrimSpace(target))
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}

	switch {
	case strings.HasPrefix(s, "["):
		if j := strings.Index(s, "]"); j > 0 {
			s = s[1:j]
		}
	case strings.Count(s, ":") == 1:
		s = s[:strings.Index(s, ":")]
	}

	s = strings.TrimSuffix(s, ".")
	if addr, err := netip.ParseAddr(s); err == nil {
		s = addr.Unmap().String()
	}
	return s
}

// Sanitize normalizes a user-supplied target and rejects anything that is not
// a hostname or an IP address.
func Sanitize(target string) (string, error) {
	host := Normalize(target)
	if host == "" {
		return "", fmt.Errorf("empty target")
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return host, nil
	}
	if !hostnameRe.MatchString(host) {
		return "", fmt.Errorf("invalid target %q", target)
	}
	return host, nil
}
