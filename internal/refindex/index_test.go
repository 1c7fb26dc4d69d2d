package refindex

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testEntries() []Entry {
	return []Entry{
		{TermID: "001", Description: "Shoes", Status: StatusDeleted},
		{TermID: "002", Description: "Athletic shoes", Status: StatusActive},
		{TermID: "003", Description: "Shoe polish", Status: StatusActive},
		{TermID: "004", Description: "   ", Status: StatusActive},
		{TermID: "005", Description: "Shoe laces", Status: StatusActive},
		{TermID: "006", Description: "Running shoes for athletes", Status: StatusActive},
	}
}

func TestNormalizeCaseAndWhitespace(t *testing.T) {
	require.Equal(t, Normalize("widget"), Normalize("  Widget "))
	require.Equal(t, "", Normalize(" \t "))
}

func TestBuildSkipsEmptyDescriptions(t *testing.T) {
	idx := Build(testEntries())
	require.Equal(t, 5, idx.Len())
}

func TestLookupExactIsCaseInsensitive(t *testing.T) {
	idx := Build([]Entry{{TermID: "1", Description: "Widget", Status: StatusActive}})
	a, okA := idx.LookupExact("Widget ")
	b, okB := idx.LookupExact("widget")
	require.True(t, okA)
	require.True(t, okB)
	require.Equal(t, a, b)

	_, ok := idx.LookupExact("")
	require.False(t, ok)
}

func TestLookupPrefixFirstInDatasetOrder(t *testing.T) {
	idx := Build(testEntries())
	e, ok := idx.LookupPrefix("shoe")
	require.True(t, ok)
	// "Shoes" comes first in the file even though "Shoe laces" is shorter to match.
	require.Equal(t, "001", e.TermID)

	e, ok = idx.LookupPrefix("shoe l")
	require.True(t, ok)
	require.Equal(t, "005", e.TermID)
}

func TestLookupSubstringFirstInDatasetOrder(t *testing.T) {
	idx := Build(testEntries())
	e, ok := idx.LookupSubstring("shoes")
	require.True(t, ok)
	require.Equal(t, "001", e.TermID)

	e, ok = idx.LookupSubstring("athletes")
	require.True(t, ok)
	require.Equal(t, "006", e.TermID)

	_, ok = idx.LookupSubstring("bicycles")
	require.False(t, ok)
}

func TestLookupsAreIdempotent(t *testing.T) {
	idx := Build(testEntries())
	for i := 0; i < 3; i++ {
		e, ok := idx.LookupPrefix("athletic")
		require.True(t, ok)
		require.Equal(t, "002", e.TermID)
		e, ok = idx.LookupSubstring("polish")
		require.True(t, ok)
		require.Equal(t, "003", e.TermID)
	}
}

func TestDecodeAcceptsNumericIDsAndStatusForms(t *testing.T) {
	in := `[
		{"termId": 12345, "description": "Leather wallets", "status": "A"},
		{"termId": "T-9", "description": "Shoes", "status": "deleted"},
		{"termId": null, "description": "Hats", "status": ""}
	]`
	entries, err := Decode(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "12345", entries[0].TermID)
	require.Equal(t, StatusActive, entries[0].Status)
	require.Equal(t, "T-9", entries[1].TermID)
	require.True(t, entries[1].Deleted())
	require.Equal(t, "", entries[2].TermID)
	require.Equal(t, StatusActive, entries[2].Status)
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"not":"an array"}`))
	require.Error(t, err)
}
