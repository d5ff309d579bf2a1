package detect

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ppiankov/safetygate/internal/model"
)

// PatternType identifies the category of identifier-like data.
type PatternType string

const (
	PatternEmail PatternType = "email"
	PatternPhone PatternType = "phone"
	PatternGovID PatternType = "government_id"
	PatternCard  PatternType = "card_number"
)

// Match is a single occurrence of identifier-like data.
type Match struct {
	Type  PatternType
	Start int
	End   int
}

// Every quantifier is bounded so match cost stays linear in the prefix.
var (
	emailRe = regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]{1,64}@[a-zA-Z0-9\-]{1,63}(?:\.[a-zA-Z0-9\-]{1,63}){0,8}\.[a-zA-Z]{2,24}\b`)

	// Optional country code, 3-digit area (optionally parenthesized), 3-4 split.
	phoneRe = regexp.MustCompile(`(?:\+\d{1,3}[ .\-]?)?(?:\(\d{3}\)|\d{3})[ .\-]?\d{3}[ .\-]\d{4}\b`)

	// US SSN form.
	govIDRe = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)

	// 13-19 digits with optional single space or dash separators.
	cardRe = regexp.MustCompile(`\b(?:\d[ \-]?){12,18}\d\b`)
)

// PII flags identifier-like substrings in a bounded prefix. Reasons name
// categories only, never the matched values.
type PII struct {
	Prefix int
}

// Name implements Detector.
func (PII) Name() string { return "pii" }

// Evaluate implements Detector.
func (p PII) Evaluate(in Input) model.Verdict {
	limit := p.Prefix
	if limit <= 0 {
		limit = DefaultPIIPrefix
	}
	body := in.Body
	if len(body) > limit {
		body = body[:limit]
	}

	cats := Categories(Scan(string(body)))
	if len(cats) == 0 {
		return model.PassVerdict(p.Name())
	}
	return model.NewVerdict(p.Name(), model.Flag, model.ReasonPIIFlag,
		"identifier-like content: "+strings.Join(cats, ","),
		0.5+0.1*float64(len(cats)))
}

// Scan finds identifier-like substrings sorted by position.
func Scan(text string) []Match {
	var matches []Match
	taken := func(start, end int) bool {
		for _, m := range matches {
			if start < m.End && end > m.Start {
				return true
			}
		}
		return false
	}
	add := func(typ PatternType, start, end int) {
		if !taken(start, end) {
			matches = append(matches, Match{Type: typ, Start: start, End: end})
		}
	}

	// Most specific first so a card number is not also reported as a phone.
	for _, loc := range cardRe.FindAllStringIndex(text, -1) {
		if precededByDigit(text, loc[0]) {
			continue
		}
		if luhnValid(text[loc[0]:loc[1]]) {
			add(PatternCard, loc[0], loc[1])
		}
	}
	for _, loc := range govIDRe.FindAllStringIndex(text, -1) {
		add(PatternGovID, loc[0], loc[1])
	}
	for _, loc := range emailRe.FindAllStringIndex(text, -1) {
		add(PatternEmail, loc[0], loc[1])
	}
	for _, loc := range phoneRe.FindAllStringIndex(text, -1) {
		if precededByDigit(text, loc[0]) {
			continue
		}
		add(PatternPhone, loc[0], loc[1])
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Start < matches[j].Start
	})
	return matches
}

// Categories returns the distinct match types, sorted.
func Categories(matches []Match) []string {
	seen := make(map[PatternType]bool)
	var out []string
	for _, m := range matches {
		if !seen[m.Type] {
			seen[m.Type] = true
			out = append(out, string(m.Type))
		}
	}
	sort.Strings(out)
	return out
}

func precededByDigit(text string, i int) bool {
	return i > 0 && text[i-1] >= '0' && text[i-1] <= '9'
}

func luhnValid(s string) bool {
	var digits []int
	for _, c := range s {
		if c >= '0' && c <= '9' {
			digits = append(digits, int(c-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func (m Match) String() string {
	return fmt.Sprintf("%s[%d:%d]", m.Type, m.Start, m.End)
}
