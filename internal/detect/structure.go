package detect

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"

	"github.com/ppiankov/safetygate/internal/model"
)

// Structure rejects input that is empty, not UTF-8, contains NUL bytes,
// or claims to be JSON and is not.
type Structure struct{}

// Name implements Detector.
func (Structure) Name() string { return "structure" }

// Evaluate implements Detector.
func (s Structure) Evaluate(in Input) model.Verdict {
	switch {
	case len(bytes.TrimSpace(in.Body)) == 0:
		return s.reject("empty input")
	case !utf8.Valid(in.Body):
		return s.reject("input is not valid UTF-8")
	case bytes.IndexByte(in.Body, 0) >= 0:
		return s.reject("input contains NUL bytes")
	case in.IsJSON() && !json.Valid(in.Body):
		return s.reject("malformed JSON body")
	}
	return model.PassVerdict(s.Name())
}

func (s Structure) reject(reason string) model.Verdict {
	return model.NewVerdict(s.Name(), model.Reject, model.ReasonInputRejected, reason, 1)
}
