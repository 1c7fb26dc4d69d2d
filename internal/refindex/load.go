package refindex

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

type rawEntry struct {
	TermID      json.RawMessage `json:"termId"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
}

// Load reads a JSON reference dataset from path and builds the index.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open reference data: %w", err)
	}
	defer f.Close()
	entries, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode reference data %s: %w", path, err)
	}
	idx := Build(entries)
	log.Printf("tmsearch reference_loaded path=%s rows=%d indexed=%d", path, len(entries), idx.Len())
	return idx, nil
}

// Decode parses the dataset, a JSON array of {termId, description, status}.
// termId may be a string or a number in older exports.
func Decode(r io.Reader) ([]Entry, error) {
	var raw []rawEntry
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raw))
	for _, re := range raw {
		out = append(out, Entry{
			TermID:      termIDString(re.TermID),
			Description: re.Description,
			Status:      ParseStatus(re.Status),
		})
	}
	return out, nil
}

// ParseStatus accepts the single letter codes and the spelled out forms.
// Anything unrecognized is treated as active.
func ParseStatus(s string) Status {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "D", "DELETED":
		return StatusDeleted
	default:
		return StatusActive
	}
}

func termIDString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
