package tmsearch

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	DefaultStalenessWindow = 30 * 24 * time.Hour
	DefaultTokenTimeout    = 10 * time.Second
	DefaultCacheTimeout    = 15 * time.Second
	DefaultAITimeout       = 60 * time.Second
	DefaultLLMModel        = "claude-sonnet-4-5"
)

// Source tags identify the producer of a raw record.
type Source string

const (
	SourceLocal         Source = "local" // legacy tag for exact local hits
	SourceLocalExact    Source = "local-exact"
	SourceLocalTemplate Source = "local-template"
	SourceLocalPartial  Source = "local-partial"
	SourceUSPTO         Source = "uspto"
	SourceMGSNiceOn     Source = "mgs-nice-on"
	SourceMGSNiceOff    Source = "mgs-nice-off"
)

func (s Source) IsLocalExact() bool { return s == SourceLocalExact || s == SourceLocal }

func (s Source) IsLocalInexact() bool { return s == SourceLocalTemplate || s == SourceLocalPartial }

func (s Source) IsMGS() bool { return strings.HasPrefix(string(s), "mgs-") }

// Label is the human-facing name shown next to a result.
func (s Source) Label() string {
	switch s {
	case SourceUSPTO:
		return "USPTO"
	case SourceMGSNiceOn:
		return "MGS (NICE On)"
	case SourceMGSNiceOff:
		return "MGS (NICE Off)"
	case SourceLocal, SourceLocalExact:
		return "local"
	default:
		return string(s)
	}
}

type MatchType string

const (
	MatchFull    MatchType = "full"
	MatchPartial MatchType = "partial"
	MatchDeleted MatchType = "deleted"
	MatchNone    MatchType = "none"
)

// RawRecord is a result as received from any producer. Field names follow the
// wire format shared by the stage processes and the match cache.
type RawRecord struct {
	Term               string    `json:"term,omitempty"`
	SearchTerm         string    `json:"searchterm,omitempty"`
	Source             Source    `json:"source"`
	MatchType          MatchType `json:"matchType,omitempty"`
	Status             string    `json:"status,omitempty"`
	StatusText         string    `json:"statusText,omitempty"`
	Description        string    `json:"description,omitempty"`
	DescriptionExample string    `json:"descriptionExample,omitempty"`
	TermID             string    `json:"termId,omitempty"`
	ClassNumber        string    `json:"classNumber,omitempty"`
	IsVague            *bool     `json:"isVague"`
	VaguenessReasoning string    `json:"vaguenessReasoning,omitempty"`
	SearchDate         string    `json:"searchDate,omitempty"`
	IsDeleted          *bool     `json:"isDeleted,omitempty"`
}

// UnmarshalJSON accepts termId and classNumber written as numbers, which
// some stage scripts emit.
func (r *RawRecord) UnmarshalJSON(b []byte) error {
	type alias RawRecord
	aux := struct {
		*alias
		TermID      json.RawMessage `json:"termId"`
		ClassNumber json.RawMessage `json:"classNumber"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	r.TermID = flexString(aux.TermID)
	r.ClassNumber = flexString(aux.ClassNumber)
	return nil
}

func flexString(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return strings.TrimSpace(str)
	}
	return s
}

// TermValue returns term, falling back to the legacy searchterm field.
func (r RawRecord) TermValue() string {
	if t := strings.TrimSpace(r.Term); t != "" {
		return t
	}
	return strings.TrimSpace(r.SearchTerm)
}

// Key identifies a record within a session: lowercased term plus source tag.
func (r RawRecord) Key() string {
	return recordKey(r.TermValue(), r.Source)
}

func recordKey(term string, source Source) string {
	return strings.ToLower(term) + "-" + string(source)
}

// SearchedAt parses SearchDate; the zero time means unknown.
func (r RawRecord) SearchedAt() time.Time {
	s := strings.TrimSpace(r.SearchDate)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Item is the canonical normalized form of a RawRecord.
type Item struct {
	Term               string    `json:"term"`
	Source             string    `json:"source"`
	OriginalSource     Source    `json:"originalSource"`
	Status             string    `json:"status"`
	OriginalStatus     string    `json:"originalStatus,omitempty"`
	MatchType          MatchType `json:"matchType"`
	Description        string    `json:"description,omitempty"`
	DescriptionExample string    `json:"descriptionExample,omitempty"`
	TermID             string    `json:"termId,omitempty"`
	ClassNumber        string    `json:"classNumber,omitempty"`
	IsVague            *bool     `json:"isVague"`
	VaguenessReasoning string    `json:"vaguenessReasoning,omitempty"`
	SearchDate         string    `json:"searchDate,omitempty"`
	IsDeleted          *bool     `json:"isDeleted,omitempty"`
}

// SearchTask is one MGS unit of work. The JSON form is the MGS stage input.
type SearchTask struct {
	Term         string `json:"term"`
	NeedsNiceOn  bool   `json:"needsNiceOn"`
	NeedsNiceOff bool   `json:"needsNiceOff"`
}

func fullMGSTasks(terms []string) []SearchTask {
	out := make([]SearchTask, 0, len(terms))
	for _, t := range terms {
		out = append(out, SearchTask{Term: t, NeedsNiceOn: true, NeedsNiceOff: true})
	}
	return out
}

type Category string

const (
	CategoryFull       Category = "full_matches"
	CategoryAcceptable Category = "acceptable"
	CategoryVague      Category = "vague"
	CategoryOther      Category = "other"
)

// CategorySet holds the four display buckets.
type CategorySet struct {
	FullMatches []Item `json:"fullMatches"`
	Acceptable  []Item `json:"acceptable"`
	Vague       []Item `json:"vague"`
	Other       []Item `json:"other"`
}

func (c *CategorySet) bucket(cat Category) *[]Item {
	switch cat {
	case CategoryFull:
		return &c.FullMatches
	case CategoryAcceptable:
		return &c.Acceptable
	case CategoryVague:
		return &c.Vague
	default:
		return &c.Other
	}
}

func (c CategorySet) Len() int {
	return len(c.FullMatches) + len(c.Acceptable) + len(c.Vague) + len(c.Other)
}

type StatusType string

const (
	StatusIdle      StatusType = "idle"
	StatusPreparing StatusType = "preparing"
	StatusSearching StatusType = "searching"
	StatusSuccess   StatusType = "success"
	StatusError     StatusType = "error"
	StatusCancelled StatusType = "cancelled"
)

// Status is the structured message handed to presentation in place of raw
// errors.
type Status struct {
	Type    StatusType `json:"type"`
	Message string     `json:"message"`
}

// Suggestion is one AI proposed rewording. Class is the NICE class (1-45)
// when the model could place it.
type Suggestion struct {
	Text  string `json:"suggestion"`
	Class *int   `json:"class"`
}

type SuggestionRecord struct {
	Term        string       `json:"term"`
	Suggestions []Suggestion `json:"suggestions"`
	IsLoading   bool         `json:"isLoading"`
	Error       string       `json:"error,omitempty"`
}

// Vagueness is the outcome of an AI vagueness check.
type Vagueness struct {
	IsVague   bool   `json:"isVague"`
	Reasoning string `json:"vaguenessReasoning"`
}

func boolPtr(b bool) *bool { return &b }
