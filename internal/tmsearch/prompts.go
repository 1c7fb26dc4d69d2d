package tmsearch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"regexp"
	"strings"
)

const suggestionSystemPrompt = "You are an expert assistant helping users refine trademark descriptions to meet USPTO ID Manual standards and classify them according to the NICE classification. Return strict JSON only."

var (
	classificationRe  = regexp.MustCompile(`(?i)Classification:\s*:?\s*(Vague|Not Vague)`)
	reasoningLabelRe  = regexp.MustCompile(`(?s)Reasoning:\s*\[AI's Explanation\]\s*(.+)`)
	reasoningRe       = regexp.MustCompile(`(?s)Reasoning:\s*(.+)`)
	suggestionsListRe = regexp.MustCompile(`(?s)\[\s*\{.*\}\s*\]`)
)

func vaguenessPrompt(term string) string {
	return fmt.Sprintf(`You are a United States Trademark Examiner. Your task is to analyze trademark descriptions and determine if they are likely to be considered vague and unacceptable according to USPTO guidelines.

A vague trademark description is one that is:
- Overly broad, encompassing too many unrelated goods or services.
- Indefinite or unclear in meaning.
- Primarily describes the function or purpose of goods/services rather than the goods/services themselves.
- Lacks clarity or uses jargon unfamiliar to the general public.

Here are some examples of vague and non-vague descriptions:
Vague Example 1: 'Goods and services in Class 9'
Not Vague Example 1: 'Downloadable software for editing videos'
Vague Example 2: 'Miscellaneous products'
Not Vague Example 2: 'Leather wallets'

Now, analyze the following trademark description and first, clearly classify it as either "Vague" or "Not Vague". Then, briefly explain your reasoning based on the criteria for vagueness outlined above.

Trademark Description: %s

Classification: [Vague or Not Vague]
Reasoning: [your explanation]`, term)
}

func suggestionPrompt(term, reason, example string) string {
	lines := []string{
		fmt.Sprintf("The user provided the description: %q", term),
		fmt.Sprintf("This description was flagged as potentially vague for the following reason: %q", reason),
	}
	if example != "" {
		lines = append(lines,
			fmt.Sprintf("During the search, the following related example description was found: %q", example),
			fmt.Sprintf("Based on the vagueness reason AND the provided example, suggest 3-5 alternative phrasings for %q. Each alternative MUST start with the exact phrase: %q. Keep the alternatives specific, distinct, likely acceptable and relevant to the original term, following USPTO ID Manual style.", term, example),
		)
	} else {
		lines = append(lines,
			fmt.Sprintf("Based on the vagueness reason, suggest 3-5 alternative phrasings for %q that are more specific and likely to be acceptable, following the style and specificity found in the USPTO ID Manual.", term),
		)
	}
	lines = append(lines,
		"For each suggestion, determine the single most appropriate NICE class number (1-45).",
		`Format your response ONLY as a JSON list of objects with a "suggestion" key (string) and a "class" key (integer or null if unclassifiable).`,
		`Example: [{"suggestion": "Downloadable software for accounting purposes", "class": 9}, {"suggestion": "Business management consulting services", "class": 35}]`,
	)
	return strings.Join(lines, "\n\n")
}

// ParseVagueness reads the examiner-style reply. Without an explicit
// classification line it falls back to scanning for "vague" / "not vague".
func ParseVagueness(text string) Vagueness {
	out := Vagueness{Reasoning: "No reasoning provided."}
	classification := ""
	if m := classificationRe.FindStringSubmatch(text); len(m) == 2 {
		classification = strings.TrimSpace(m[1])
	} else {
		lower := strings.ToLower(text)
		vaguePos := strings.Index(lower, "vague")
		notVaguePos := strings.Index(lower, "not vague")
		switch {
		case vaguePos < 0:
			classification = "Not Vague"
		case notVaguePos >= 0 && notVaguePos < vaguePos:
			classification = "Not Vague"
		default:
			classification = "Vague"
		}
	}
	out.IsVague = strings.EqualFold(classification, "vague")

	if m := reasoningLabelRe.FindStringSubmatch(text); len(m) == 2 {
		out.Reasoning = strings.TrimSpace(m[1])
	} else if m := reasoningRe.FindStringSubmatch(text); len(m) == 2 {
		out.Reasoning = strings.TrimSpace(m[1])
	}
	return out
}

// ParseSuggestions extracts the JSON list from the model reply. Entries
// missing either key are skipped; a class outside 1-45 becomes nil.
func ParseSuggestions(text string) ([]Suggestion, error) {
	m := suggestionsListRe.FindString(stripCodeFences(text))
	if m == "" {
		return nil, errors.New("failed to parse AI response: no JSON list found")
	}
	var items []map[string]any
	if err := json.Unmarshal([]byte(m), &items); err != nil {
		return nil, fmt.Errorf("failed to parse AI response: %w", err)
	}
	out := make([]Suggestion, 0, len(items))
	for _, item := range items {
		text, hasText := item["suggestion"]
		cls, hasClass := item["class"]
		if !hasText || !hasClass {
			log.Printf("tmsearch suggestion_skip reason=missing_keys item=%v", item)
			continue
		}
		s := Suggestion{Text: fmt.Sprint(text)}
		if f, ok := cls.(float64); ok && f == math.Trunc(f) && f >= 1 && f <= 45 {
			n := int(f)
			s.Class = &n
		}
		out = append(out, s)
	}
	return out, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		}
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}
