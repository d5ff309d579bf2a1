package model

import "strings"

// AgeBracket is a coarse developmental age bracket. Sensitive: it is kept
// in session state but never serialized into logs, audit records or responses.
type AgeBracket int

const (
	AgeUnknown AgeBracket = iota
	AgeChild
	AgeTeen
	AgeAdult
)

// ParseAgeBracket maps a claim value to a bracket. Anything unrecognized
// is AgeUnknown.
func ParseAgeBracket(s string) AgeBracket {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "child", "under13":
		return AgeChild
	case "teen", "13-17":
		return AgeTeen
	case "adult", "18+":
		return AgeAdult
	default:
		return AgeUnknown
	}
}

// SafeguardLevel is the developmental safeguard applied to a session.
// Ordered: higher is stricter.
type SafeguardLevel string

const (
	SafeguardStandard SafeguardLevel = "standard"
	SafeguardElevated SafeguardLevel = "elevated"
	SafeguardStrict   SafeguardLevel = "strict"
)

// SafeguardFor returns the safeguard level for a bracket.
// Unknown age gets the strictest level.
func SafeguardFor(b AgeBracket) SafeguardLevel {
	switch b {
	case AgeAdult:
		return SafeguardStandard
	case AgeTeen:
		return SafeguardElevated
	default:
		return SafeguardStrict
	}
}

// Active reports whether any developmental safeguard beyond standard applies.
func (l SafeguardLevel) Active() bool {
	return l == SafeguardElevated || l == SafeguardStrict
}
