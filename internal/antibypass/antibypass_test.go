package antibypass_test

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edon-ai/edon/internal/antibypass"
)

// fakeResolver maps hostnames to fixed addresses.
type fakeResolver struct {
	addrs map[string][]string
}

func (f *fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	ips, ok := f.addrs[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	out := make([]net.IPAddr, 0, len(ips))
	for _, s := range ips {
		out = append(out, net.IPAddr{IP: net.ParseIP(s)})
	}
	return out, nil
}

func TestClassifyIP(t *testing.T) {
	tests := []struct {
		ip   string
		want antibypass.Reachability
	}{
		{"127.0.0.1", antibypass.ReachLoopback},
		{"::1", antibypass.ReachLoopback},
		{"10.0.0.5", antibypass.ReachPrivate},
		{"192.168.1.10", antibypass.ReachPrivate},
		{"172.16.0.1", antibypass.ReachPrivate},
		{"169.254.1.1", antibypass.ReachPrivate},
		{"8.8.8.8", antibypass.ReachPublic},
		{"2001:4860:4860::8888", antibypass.ReachPublic},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, antibypass.ClassifyIP(net.ParseIP(tc.ip)), tc.ip)
	}
	assert.Equal(t, antibypass.ReachUnknown, antibypass.ClassifyIP(nil))
}

func TestClassifyHost(t *testing.T) {
	ctx := context.Background()
	resolver := &fakeResolver{addrs: map[string][]string{
		"internal-only.example": {"10.1.2.3"},
		"split-horizon.example": {"10.1.2.3", "203.0.113.9"},
	}}

	assert.Equal(t, antibypass.ReachLoopback, antibypass.ClassifyHost(ctx, resolver, "localhost"))
	assert.Equal(t, antibypass.ReachLoopback, antibypass.ClassifyHost(ctx, resolver, "127.0.0.1"))
	assert.Equal(t, antibypass.ReachPrivate, antibypass.ClassifyHost(ctx, resolver, "gateway.internal"))
	assert.Equal(t, antibypass.ReachPrivate, antibypass.ClassifyHost(ctx, resolver, "bot.local"))
	assert.Equal(t, antibypass.ReachPrivate, antibypass.ClassifyHost(ctx, resolver, "internal-only.example"))
	assert.Equal(t, antibypass.ReachUnknown, antibypass.ClassifyHost(ctx, resolver, "does-not-resolve.example"))
	assert.Equal(t, antibypass.ReachUnknown, antibypass.ClassifyHost(ctx, resolver, ""))

	// One public A record makes the host public.
	assert.Equal(t, antibypass.ReachPublic, antibypass.ClassifyHost(ctx, resolver, "split-horizon.example"))
}

func TestClassifyURL(t *testing.T) {
	ctx := context.Background()
	resolver := &fakeResolver{addrs: map[string][]string{}}

	assert.Equal(t, antibypass.ReachLoopback,
		antibypass.ClassifyURL(ctx, resolver, "http://localhost:18789"))
	assert.Equal(t, antibypass.ReachPrivate,
		antibypass.ClassifyURL(ctx, resolver, "https://bot.internal/api"))
	assert.Equal(t, antibypass.ReachUnknown,
		antibypass.ClassifyURL(ctx, resolver, "://not-a-url"))
}

func TestCheckStartupGating(t *testing.T) {
	ctx := context.Background()
	resolver := &fakeResolver{addrs: map[string][]string{
		"exposed.example": {"203.0.113.9"},
	}}

	gated := antibypass.Config{NetworkGating: true}

	// Public downstream with gating on is a startup failure.
	err := gated.CheckStartup(ctx, resolver, "https://exposed.example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network gating")

	// Unresolvable downstream fails too.
	require.Error(t, gated.CheckStartup(ctx, resolver, "https://ghost.example"))

	// Loopback passes.
	require.NoError(t, gated.CheckStartup(ctx, resolver, "http://localhost:18789"))

	// No gating, no check.
	open := antibypass.Config{}
	require.NoError(t, open.CheckStartup(ctx, resolver, "https://exposed.example"))

	// No downstream configured, nothing to gate.
	require.NoError(t, gated.CheckStartup(ctx, resolver, ""))
}

func TestBypassRisk(t *testing.T) {
	assert.Equal(t, "low", antibypass.BypassRisk(antibypass.ReachLoopback))
	assert.Equal(t, "low", antibypass.BypassRisk(antibypass.ReachPrivate))
	assert.Equal(t, "high", antibypass.BypassRisk(antibypass.ReachPublic))
	assert.Equal(t, "high", antibypass.BypassRisk(antibypass.ReachUnknown))
}

func TestScore(t *testing.T) {
	tests := []struct {
		cfg   antibypass.Config
		score int
		level string
	}{
		{antibypass.Config{NetworkGating: true, TokenHardening: true, CredentialsStrict: true}, 100, "excellent"},
		{antibypass.Config{NetworkGating: true, TokenHardening: true}, 90, "excellent"},
		{antibypass.Config{NetworkGating: true, CredentialsStrict: true}, 60, "moderate"},
		{antibypass.Config{TokenHardening: true}, 40, "weak"},
		{antibypass.Config{CredentialsStrict: true}, 10, "critical"},
		{antibypass.Config{}, 0, "critical"},
	}
	for _, tc := range tests {
		s := tc.cfg.Score()
		assert.Equal(t, tc.score, s.Score)
		assert.Equal(t, tc.level, s.Level)
		assert.Equal(t, 100, s.MaxScore)
		assert.Equal(t, tc.cfg.NetworkGating, s.Factors["network_gating"])
	}
}

func TestRecommendations(t *testing.T) {
	recs := antibypass.Config{}.Recommendations()
	assert.NotEmpty(t, recs)

	recs = antibypass.Config{TokenHardening: true}.Recommendations()
	require.NotEmpty(t, recs)
	assert.Contains(t, recs[0], "strict credential")

	recs = antibypass.Config{NetworkGating: true, TokenHardening: true, CredentialsStrict: true}.Recommendations()
	assert.Empty(t, recs)
}
