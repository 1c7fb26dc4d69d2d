package tmsearch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var gatewayNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestGateway(cache MatchCache, tokens TokenProvider) *Gateway {
	g := NewGateway(cache, tokens, GatewayConfig{})
	g.now = func() time.Time { return gatewayNow }
	return g
}

func daysAgo(n int) string {
	return gatewayNow.Add(-time.Duration(n) * 24 * time.Hour).Format(time.RFC3339)
}

func TestGatewayFreshRecordsSkipLiveSearch(t *testing.T) {
	cache := &fakeCache{matches: map[string]map[string]RawRecord{
		"wallets": {
			"uspto":        {Term: "wallets", Source: SourceUSPTO, MatchType: MatchFull, SearchDate: daysAgo(2)},
			"mgs-nice-on":  {Term: "wallets", Source: SourceMGSNiceOn, MatchType: MatchFull, SearchDate: daysAgo(3)},
			"mgs-nice-off": {Term: "wallets", Source: SourceMGSNiceOff, MatchType: MatchNone, SearchDate: daysAgo(4)},
		},
	}}
	res, err := newTestGateway(cache, staticToken("tok")).Check(context.Background(), []string{"wallets"})
	require.NoError(t, err)
	require.Empty(t, res.USPTOTerms)
	require.Empty(t, res.MGSTasks)
	require.Len(t, res.Records, 3)
	require.Equal(t, []string{"tok"}, cache.tokens)
}

func TestGatewayStaleVariantsNeedRefresh(t *testing.T) {
	cache := &fakeCache{matches: map[string]map[string]RawRecord{
		"belts": {
			"uspto":       {Term: "belts", Source: SourceUSPTO, MatchType: MatchFull, SearchDate: daysAgo(45)},
			"mgs-nice-on": {Term: "belts", Source: SourceMGSNiceOn, MatchType: MatchFull, SearchDate: daysAgo(1)},
		},
	}}
	res, err := newTestGateway(cache, staticToken("tok")).Check(context.Background(), []string{"belts"})
	require.NoError(t, err)
	require.Equal(t, []string{"belts"}, res.USPTOTerms)
	require.Equal(t, []SearchTask{{Term: "belts", NeedsNiceOn: false, NeedsNiceOff: true}}, res.MGSTasks)
	// Stale records are still reported.
	require.Len(t, res.Records, 2)
}

func TestGatewayLookupFailureNeedsEverything(t *testing.T) {
	cache := &fakeCache{errs: map[string]error{"legal services": errBoom}}
	res, err := newTestGateway(cache, staticToken("tok")).Check(context.Background(), []string{"legal services", "nothing cached"})
	require.NoError(t, err)
	require.Equal(t, []string{"legal services", "nothing cached"}, res.USPTOTerms)
	require.Equal(t, []SearchTask{
		{Term: "legal services", NeedsNiceOn: true, NeedsNiceOff: true},
		{Term: "nothing cached", NeedsNiceOn: true, NeedsNiceOff: true},
	}, res.MGSTasks)
	require.Empty(t, res.Records)
}

func TestGatewayTokenFailureFailsBatch(t *testing.T) {
	cache := &fakeCache{}
	_, err := newTestGateway(cache, failingToken(errBoom)).Check(context.Background(), []string{"wallets"})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Empty(t, cache.tokens, "no cache query without a token")

	_, err = newTestGateway(cache, staticToken("  ")).Check(context.Background(), []string{"wallets"})
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Empty(t, cache.tokens)
}

func TestGatewayUnauthorizedReplyFailsBatch(t *testing.T) {
	cache := &fakeCache{errs: map[string]error{"wallets": NewUnauthorizedError("Unauthorized", nil)}}
	_, err := newTestGateway(cache, staticToken("stale")).Check(context.Background(), []string{"belts", "wallets"})
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Equal(t, CodeUnauthorized, ErrorCode(err))
}

func TestGatewayDeduplicatesTerms(t *testing.T) {
	res, err := newTestGateway(&fakeCache{}, staticToken("tok")).Check(context.Background(), []string{"Hats", "hats"})
	require.NoError(t, err)
	require.Equal(t, []string{"Hats"}, res.USPTOTerms)
	require.Len(t, res.MGSTasks, 1)
}

func TestGatewayEmptyInputNeedsNoToken(t *testing.T) {
	res, err := newTestGateway(&fakeCache{}, failingToken(errBoom)).Check(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, res.USPTOTerms)
}

func TestGatewayTokenTimeoutFailsBatch(t *testing.T) {
	cache := &fakeCache{}
	g := NewGateway(cache, hangingToken(), GatewayConfig{TokenTimeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := g.Check(context.Background(), []string{"wallets", "belts"})
	require.ErrorIs(t, err, ErrUnauthorized)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 2*time.Second)
	require.Zero(t, cache.lookups())
}

func TestGatewayCacheTimeoutNeedsEverything(t *testing.T) {
	cache := &fakeCache{
		hang: map[string]bool{"wallets": true},
		matches: map[string]map[string]RawRecord{
			"belts": {
				"uspto":        {Term: "belts", Source: SourceUSPTO, MatchType: MatchFull, SearchDate: daysAgo(1)},
				"mgs-nice-on":  {Term: "belts", Source: SourceMGSNiceOn, MatchType: MatchFull, SearchDate: daysAgo(1)},
				"mgs-nice-off": {Term: "belts", Source: SourceMGSNiceOff, MatchType: MatchFull, SearchDate: daysAgo(1)},
			},
		},
	}
	g := NewGateway(cache, staticToken("tok"), GatewayConfig{CacheTimeout: 20 * time.Millisecond})
	g.now = func() time.Time { return gatewayNow }

	res, err := g.Check(context.Background(), []string{"wallets", "belts"})
	require.NoError(t, err)
	require.Equal(t, []string{"wallets"}, res.USPTOTerms)
	require.Equal(t, []SearchTask{{Term: "wallets", NeedsNiceOn: true, NeedsNiceOff: true}}, res.MGSTasks)
	require.Len(t, res.Records, 3)
	require.Equal(t, 2, cache.lookups())
}
