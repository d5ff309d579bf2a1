package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ReplayFilter holds filtering criteria for replaying a session or caller.
// Empty fields do not filter.
type ReplayFilter struct {
	SessionID string
	CallerID  string
	From      time.Time // zero value = no lower bound
	To        time.Time // zero value = no upper bound
}

func (f ReplayFilter) match(rec Record) bool {
	if f.SessionID != "" && rec.SessionID != f.SessionID {
		return false
	}
	if f.CallerID != "" && rec.CallerID != f.CallerID {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, rec.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

// ReplaySummary holds outcome counts for a replayed range.
type ReplaySummary struct {
	Total          int    `json:"total"`
	AllowCount     int    `json:"allow_count"`
	WarnCount      int    `json:"warn_count"`
	BlockCount     int    `json:"block_count"`
	SafeguardCount int    `json:"safeguard_count"`
	FirstTimestamp string `json:"first_timestamp"`
	LastTimestamp  string `json:"last_timestamp"`
}

// ReplayResult holds filtered records and their summary.
type ReplayResult struct {
	Filter  ReplayFilter  `json:"-"`
	Records []Record      `json:"records"`
	Summary ReplaySummary `json:"summary"`
}

// Replay reads the audit log and returns records matching the filter.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{Filter: filter}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // skip malformed lines
		}
		if !filter.match(rec) {
			continue
		}
		result.Records = append(result.Records, rec)
		updateSummary(&result.Summary, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return result, nil
}

func updateSummary(s *ReplaySummary, rec Record) {
	s.Total++
	switch rec.Outcome {
	case "allow":
		s.AllowCount++
	case "warn":
		s.WarnCount++
	case "block":
		s.BlockCount++
	}
	if rec.Safeguard {
		s.SafeguardCount++
	}
	if s.FirstTimestamp == "" {
		s.FirstTimestamp = rec.Timestamp
	}
	s.LastTimestamp = rec.Timestamp
}
