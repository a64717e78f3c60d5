// Package antibypass enforces the guarantees that keep agents from reaching
// the downstream bot gateway without going through this gateway: network
// gating at startup, token hardening posture, and a resistance score for
// operator visibility.
package antibypass

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/edon-ai/edon/internal/model"
)

// Reachability classifies where a downstream host lives.
type Reachability string

const (
	ReachLoopback Reachability = "loopback"
	ReachPrivate  Reachability = "private"
	ReachPublic   Reachability = "public"
	ReachUnknown  Reachability = "unknown"
)

// Resolver looks up host addresses. net.DefaultResolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// ClassifyIP buckets a single address.
func ClassifyIP(ip net.IP) Reachability {
	switch {
	case ip == nil:
		return ReachUnknown
	case ip.IsLoopback():
		return ReachLoopback
	case ip.IsPrivate(), ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return ReachPrivate
	default:
		return ReachPublic
	}
}

// ClassifyHost resolves and buckets a hostname or IP literal. Suffixes that
// only exist on internal resolvers (.internal, .local) count as private
// without a lookup. Resolution failure yields unknown.
func ClassifyHost(ctx context.Context, resolver Resolver, host string) Reachability {
	if host == "" {
		return ReachUnknown
	}
	if host == "localhost" {
		return ReachLoopback
	}
	if ip := net.ParseIP(host); ip != nil {
		return ClassifyIP(ip)
	}
	if strings.HasSuffix(host, ".internal") || strings.HasSuffix(host, ".local") {
		return ReachPrivate
	}
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return ReachUnknown
	}
	// The worst address wins: one public A record makes the host public.
	worst := ReachLoopback
	for _, a := range addrs {
		c := ClassifyIP(a.IP)
		if rank(c) > rank(worst) {
			worst = c
		}
	}
	return worst
}

func rank(r Reachability) int {
	switch r {
	case ReachLoopback:
		return 0
	case ReachPrivate:
		return 1
	case ReachPublic:
		return 2
	default:
		return 3
	}
}

// ClassifyURL buckets the host portion of a URL.
func ClassifyURL(ctx context.Context, resolver Resolver, rawURL string) Reachability {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ReachUnknown
	}
	return ClassifyHost(ctx, resolver, u.Hostname())
}

// Config mirrors the three bypass-resistance flags.
type Config struct {
	NetworkGating     bool
	TokenHardening    bool
	CredentialsStrict bool
}

// CheckStartup enforces network gating before the gateway serves traffic.
// With gating on, a downstream reachable from outside the private network is
// a deployment error, not a warning.
func (c Config) CheckStartup(ctx context.Context, resolver Resolver, downstreamURL string) error {
	if !c.NetworkGating || downstreamURL == "" {
		return nil
	}
	reach := ClassifyURL(ctx, resolver, downstreamURL)
	if reach == ReachPublic || reach == ReachUnknown {
		return fmt.Errorf(
			"antibypass: network gating is on but the downstream gateway at %s resolves as %s; "+
				"move it onto a private network reachable only from this gateway, or disable gating",
			downstreamURL, reach)
	}
	return nil
}

// BypassRisk reduces a reachability class to the operator-facing risk label.
func BypassRisk(r Reachability) string {
	if r == ReachLoopback || r == ReachPrivate {
		return "low"
	}
	return "high"
}

// Resistant reports whether any anti-bypass measure is active.
func (c Config) Resistant() bool {
	return c.NetworkGating || c.TokenHardening
}

// Score computes the 0-100 bypass resistance score.
func (c Config) Score() model.BypassScore {
	score := 0
	if c.NetworkGating {
		score += 50
	}
	if c.TokenHardening {
		score += 40
	}
	if c.CredentialsStrict {
		score += 10
	}
	return model.BypassScore{
		Score:    score,
		MaxScore: 100,
		Level:    securityLevel(score),
		Factors: map[string]bool{
			"network_gating":     c.NetworkGating,
			"token_hardening":    c.TokenHardening,
			"credentials_strict": c.CredentialsStrict,
		},
	}
}

func securityLevel(score int) string {
	switch {
	case score >= 90:
		return "excellent"
	case score >= 70:
		return "good"
	case score >= 50:
		return "moderate"
	case score >= 20:
		return "weak"
	default:
		return "critical"
	}
}

// Recommendations lists config changes that would raise the score.
func (c Config) Recommendations() []string {
	var recs []string
	if !c.Resistant() {
		recs = append(recs, "enable network gating or token hardening")
	}
	if c.TokenHardening && !c.CredentialsStrict {
		recs = append(recs, "enable strict credential mode to complete token hardening")
	}
	if !c.NetworkGating {
		recs = append(recs, "place the downstream gateway on a private network and enable network gating")
	}
	return recs
}
