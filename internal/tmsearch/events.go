package tmsearch

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"
	"time"
)

// Stage names one external search process.
type Stage string

const (
	StageUSPTO Stage = "uspto"
	StageMGS   Stage = "mgs"
)

type EventType string

const (
	EventProgress EventType = "progress"
	EventResult   EventType = "result"
	EventError    EventType = "error"
	// EventComplete is the stage's search_time report, emitted once the
	// stage has finished all its terms.
	EventComplete EventType = "search_time"
)

// Event is one parsed line from a stage's output stream.
type Event struct {
	Type        EventType
	Stage       Stage
	Progress    float64
	CurrentTerm string
	// Record carries the result for EventResult, and term/source of the
	// failure for EventError.
	Record  RawRecord
	Message string
	Elapsed time.Duration
}

type wireEvent struct {
	Type        string          `json:"type"`
	Value       json.RawMessage `json:"value"`
	CurrentTerm string          `json:"currentTerm"`
	Term        string          `json:"term"`
	Source      string          `json:"source"`
	Message     string          `json:"message"`
}

var errSkipEvent = errors.New("skip event")

// ParseEvent decodes a single stdout line from stage. Blank lines and
// cancellation placeholders return errSkipEvent.
func ParseEvent(line []byte, stage Stage) (Event, error) {
	line = []byte(strings.TrimSpace(string(line)))
	if len(line) == 0 {
		return Event{}, errSkipEvent
	}
	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return Event{}, fmt.Errorf("decode stage event: %w", err)
	}
	ev := Event{Stage: stage}
	switch w.Type {
	case "progress":
		ev.Type = EventProgress
		p, err := parseNumber(w.Value)
		if err != nil {
			return Event{}, fmt.Errorf("progress value: %w", err)
		}
		ev.Progress = p
		ev.CurrentTerm = w.CurrentTerm
	case "result":
		var rec RawRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return Event{}, fmt.Errorf("decode result: %w", err)
		}
		if strings.EqualFold(string(rec.MatchType), "cancelled") {
			return Event{}, errSkipEvent
		}
		if rec.Source == "" {
			rec.Source = Source(stage)
		}
		ev.Type = EventResult
		ev.Record = rec
	case "error":
		ev.Type = EventError
		ev.Message = w.Message
		source := Source(w.Source)
		if source == "" {
			source = Source(stage)
		}
		ev.Record = RawRecord{Term: w.Term, Source: source, StatusText: w.Message}
	case "search_time", "mgs-search-time":
		ev.Type = EventComplete
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			p, nerr := parseNumber(w.Value)
			if nerr != nil {
				return Event{}, fmt.Errorf("search_time value: %w", err)
			}
			s = strconv.FormatFloat(p, 'f', -1, 64)
		}
		d, err := ParseElapsed(s)
		if err != nil {
			return Event{}, err
		}
		ev.Elapsed = d
	default:
		return Event{}, fmt.Errorf("unknown event type %q", w.Type)
	}
	return ev, nil
}

func parseNumber(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// ParseElapsed reads durations written as "12.34 seconds".
func ParseElapsed(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "seconds")
	s = strings.TrimSuffix(s, "second")
	s = strings.TrimSpace(strings.TrimSuffix(s, "s"))
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse elapsed %q: %w", s, err)
	}
	return time.Duration(math.Round(secs * float64(time.Second))), nil
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return sc
}

// ReadEvents parses r line by line and sends each event on out. Malformed
// lines are logged and skipped.
func ReadEvents(r io.Reader, stage Stage, out chan<- Event) error {
	sc := newLineScanner(r)
	for sc.Scan() {
		ev, err := ParseEvent(sc.Bytes(), stage)
		if errors.Is(err, errSkipEvent) {
			continue
		}
		if err != nil {
			log.Printf("tmsearch stage_line_skipped stage=%s err=%q", stage, err.Error())
			continue
		}
		out <- ev
	}
	return sc.Err()
}

// ReadStderr turns every non-debug stderr line into an error event.
func ReadStderr(r io.Reader, stage Stage, out chan<- Event) error {
	sc := newLineScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.Contains(line, "DEBUG:") {
			continue
		}
		ev := Event{Type: EventError, Stage: stage, Message: line, Record: RawRecord{Source: Source(stage), StatusText: line}}
		var w wireEvent
		if json.Unmarshal([]byte(line), &w) == nil && w.Message != "" {
			ev.Message = w.Message
			ev.Record.Term = w.Term
			ev.Record.StatusText = w.Message
			if w.Source != "" {
				ev.Record.Source = Source(w.Source)
			}
		}
		out <- ev
	}
	return sc.Err()
}
