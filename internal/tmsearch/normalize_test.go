package tmsearch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInferMatchTypeFromLegacyStatus(t *testing.T) {
	cases := map[string]MatchType{
		"Full match found (Term ID: 009-123, Class 9)": MatchFull,
		"Deleted description found":                    MatchDeleted,
		"No match found":                               MatchNone,
		"MGS No Match (NICE On)":                       MatchNone,
		"Partial match: Downloadable software":         MatchPartial,
		"Something unexpected":                         MatchPartial,
	}
	for in, want := range cases {
		require.Equal(t, want, InferMatchType(in), in)
	}
}

func TestExtractTermIDAndClass(t *testing.T) {
	s := "Full match found. Term ID: 009-T123, Class 9"
	require.Equal(t, "009-T123", ExtractTermID(s))
	require.Equal(t, "9", ExtractClassNumber(s))
	require.Equal(t, "", ExtractTermID("No match found"))
	require.Equal(t, "", ExtractClassNumber("No match found"))
}

func TestNormalizeBackfillsLegacyFullMatch(t *testing.T) {
	item, ok := Normalize(RawRecord{
		SearchTerm: "Leather wallets",
		Source:     SourceUSPTO,
		StatusText: "Full match found. Term ID: 018-42, Class 18",
	})
	require.True(t, ok)
	require.Equal(t, "Leather wallets", item.Term)
	require.Equal(t, "USPTO", item.Source)
	require.Equal(t, MatchFull, item.MatchType)
	require.Equal(t, "018-42", item.TermID)
	require.Equal(t, "18", item.ClassNumber)
}

func TestNormalizeKeepsExplicitFields(t *testing.T) {
	item, ok := Normalize(RawRecord{
		Term:        "Leather wallets",
		Source:      SourceMGSNiceOn,
		MatchType:   MatchFull,
		TermID:      "018-1",
		ClassNumber: "18",
		StatusText:  "Full match found. Term ID: 999, Class 1",
	})
	require.True(t, ok)
	require.Equal(t, "MGS (NICE On)", item.Source)
	require.Equal(t, "018-1", item.TermID)
	require.Equal(t, "18", item.ClassNumber)
}

func TestNormalizeDropsIncompleteRecords(t *testing.T) {
	_, ok := Normalize(RawRecord{Source: SourceUSPTO, MatchType: MatchFull})
	require.False(t, ok, "missing term")

	_, ok = Normalize(RawRecord{Term: "x", MatchType: MatchFull})
	require.False(t, ok, "missing source")

	_, ok = Normalize(RawRecord{Term: "x", Source: SourceUSPTO})
	require.False(t, ok, "no derivable match type")
}

func TestNormalizeLocalRecords(t *testing.T) {
	item, ok := Normalize(RawRecord{Term: "shoes", Source: SourceLocal, Status: "D", Description: "Shoes"})
	require.True(t, ok)
	require.Equal(t, MatchDeleted, item.MatchType)
	require.Equal(t, "Shoes", item.Description)
	require.Equal(t, "D", item.OriginalStatus)

	item, ok = Normalize(RawRecord{Term: "shoe", Source: SourceLocalTemplate, DescriptionExample: "Shoe laces", Status: "A"})
	require.True(t, ok)
	require.Equal(t, MatchPartial, item.MatchType)
	require.Equal(t, "Shoe laces", item.DescriptionExample)
	require.Empty(t, item.Description)
}

func TestRawRecordAcceptsNumericIDs(t *testing.T) {
	var rec RawRecord
	err := json.Unmarshal([]byte(`{"term":"wallets","source":"mgs-nice-off","termId":12345,"classNumber":18,"isVague":null}`), &rec)
	require.NoError(t, err)
	require.Equal(t, "12345", rec.TermID)
	require.Equal(t, "18", rec.ClassNumber)
	require.Nil(t, rec.IsVague)
	require.Equal(t, SourceMGSNiceOff, rec.Source)
}
