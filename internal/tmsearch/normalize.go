package tmsearch

import (
	"log"
	"regexp"
	"strings"
)

const defaultStatusText = "Status unavailable"

var (
	termIDRe = regexp.MustCompile(`Term ID: ([\w-]+)`)
	classRe  = regexp.MustCompile(`Class (\d+)`)
)

// InferMatchType derives a match type from the free-text status written by
// older stage scripts that did not emit matchType.
func InferMatchType(statusText string) MatchType {
	s := strings.TrimSpace(statusText)
	switch {
	case strings.HasPrefix(s, "Full match found"):
		return MatchFull
	case strings.HasPrefix(s, "Deleted description found"):
		return MatchDeleted
	case s == "No match found", strings.HasPrefix(s, "MGS No Match"):
		return MatchNone
	default:
		return MatchPartial
	}
}

// ExtractTermID pulls "Term ID: X" out of a legacy status message.
func ExtractTermID(statusText string) string {
	if m := termIDRe.FindStringSubmatch(statusText); len(m) == 2 {
		return m[1]
	}
	return ""
}

// ExtractClassNumber pulls "Class N" out of a legacy status message.
func ExtractClassNumber(statusText string) string {
	if m := classRe.FindStringSubmatch(statusText); len(m) == 2 {
		return m[1]
	}
	return ""
}

func parseMatchType(s MatchType) (MatchType, bool) {
	switch MatchType(strings.ToLower(strings.TrimSpace(string(s)))) {
	case MatchFull:
		return MatchFull, true
	case MatchPartial:
		return MatchPartial, true
	case MatchDeleted:
		return MatchDeleted, true
	case MatchNone:
		return MatchNone, true
	}
	return "", false
}

func localDeleted(raw RawRecord) bool {
	if raw.IsDeleted != nil && *raw.IsDeleted {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(raw.Status), "D") || raw.MatchType == MatchDeleted
}

// Normalize converts a raw record into its canonical form. It returns false
// when term, source or a match type cannot be established.
func Normalize(raw RawRecord) (Item, bool) {
	term := raw.TermValue()
	source := Source(strings.TrimSpace(string(raw.Source)))
	if term == "" || source == "" {
		log.Printf("tmsearch normalize_skip reason=missing_fields term=%q source=%q", term, source)
		return Item{}, false
	}

	statusText := strings.TrimSpace(raw.StatusText)
	if statusText == "" && !source.IsLocalExact() && !source.IsLocalInexact() {
		statusText = strings.TrimSpace(raw.Status)
	}
	if statusText == "" {
		statusText = defaultStatusText
	}

	var matchType MatchType
	switch {
	case source.IsLocalExact():
		matchType = MatchFull
		if localDeleted(raw) {
			matchType = MatchDeleted
		}
	case source.IsLocalInexact():
		matchType = MatchPartial
	default:
		mt, ok := parseMatchType(raw.MatchType)
		if !ok && strings.TrimSpace(string(raw.MatchType)) != "" {
			log.Printf("tmsearch normalize_unknown_match_type term=%q source=%s match_type=%q", term, source, raw.MatchType)
		}
		if !ok && statusText != defaultStatusText {
			mt, ok = InferMatchType(statusText), true
		}
		if !ok {
			log.Printf("tmsearch normalize_skip reason=no_match_type term=%q source=%s", term, source)
			return Item{}, false
		}
		matchType = mt
	}

	termID := strings.TrimSpace(raw.TermID)
	classNumber := strings.TrimSpace(raw.ClassNumber)
	if matchType == MatchFull {
		if termID == "" {
			termID = ExtractTermID(statusText)
		}
		if classNumber == "" {
			classNumber = ExtractClassNumber(statusText)
		}
	}

	item := Item{
		Term:               term,
		Source:             source.Label(),
		OriginalSource:     source,
		Status:             statusText,
		MatchType:          matchType,
		TermID:             termID,
		ClassNumber:        classNumber,
		IsVague:            raw.IsVague,
		VaguenessReasoning: raw.VaguenessReasoning,
		SearchDate:         raw.SearchDate,
		IsDeleted:          raw.IsDeleted,
	}
	if source.IsLocalExact() {
		item.OriginalStatus = strings.TrimSpace(raw.Status)
		item.Description = raw.Description
	} else {
		item.DescriptionExample = raw.DescriptionExample
		if item.DescriptionExample == "" && !source.IsLocalInexact() {
			item.DescriptionExample = raw.Description
		}
	}
	return item, true
}
