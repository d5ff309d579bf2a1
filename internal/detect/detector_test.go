package detect

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ppiankov/safetygate/internal/model"
)

func TestStructure(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		reject      bool
	}{
		{"plain text", "hello there", "text/plain", false},
		{"empty", "", "", true},
		{"whitespace only", " \n\t ", "", true},
		{"invalid utf8", "ab\xff\xfe", "", true},
		{"nul byte", "ab\x00cd", "", true},
		{"valid json", `{"q":"hi"}`, "application/json", false},
		{"json with charset", `{"q":"hi"}`, "application/json; charset=utf-8", false},
		{"malformed json", `{"q":`, "application/json", true},
		{"json-looking text", `{"q":`, "text/plain", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Structure{}.Evaluate(Input{Body: []byte(tt.body), ContentType: tt.contentType})
			if v.Rejected() != tt.reject {
				t.Errorf("reject=%v, want %v (%+v)", v.Rejected(), tt.reject, v)
			}
			if tt.reject && v.Category != model.ReasonInputRejected {
				t.Errorf("expected input_rejected category, got %q", v.Category)
			}
		})
	}
}

// pseudoRandom returns deterministic high-entropy bytes.
func pseudoRandom(n int) []byte {
	out := make([]byte, 0, n)
	seed := sha256.Sum256([]byte("safetygate"))
	for len(out) < n {
		seed = sha256.Sum256(seed[:])
		out = append(out, seed[:]...)
	}
	return out[:n]
}

func TestEntropyFlagsBase64(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString(pseudoRandom(3000))
	v := Entropy{Threshold: DefaultEntropyThreshold}.Evaluate(Input{Body: []byte(payload)})
	if !v.Flagged() {
		t.Fatalf("expected flag, got %+v", v)
	}
	if v.Category != model.ReasonEntropyFlag {
		t.Errorf("expected entropy_flag, got %q", v.Category)
	}
}

func TestEntropyPassesProse(t *testing.T) {
	prose := strings.Repeat("The quick brown fox jumps over the lazy dog while the cat sleeps. ", 20)
	v := Entropy{}.Evaluate(Input{Body: []byte(prose)})
	if v.Outcome != model.Pass {
		t.Errorf("expected pass for prose, got %+v", v)
	}
}

func TestEntropyNeverRejects(t *testing.T) {
	v := Entropy{Threshold: 0.1}.Evaluate(Input{Body: pseudoRandom(8192)})
	if v.Rejected() {
		t.Error("entropy must never reject")
	}
}

func TestEntropyIgnoresShortInput(t *testing.T) {
	v := Entropy{}.Evaluate(Input{Body: []byte("x9$Qz!")})
	if v.Outcome != model.Pass {
		t.Errorf("expected pass for short input, got %+v", v)
	}
}

func TestShannonEntropy(t *testing.T) {
	if h, n := ShannonEntropy(nil, 10); h != 0 || n != 0 {
		t.Errorf("empty input: got %v/%d", h, n)
	}
	if h, _ := ShannonEntropy([]byte("aaaa"), 10); h != 0 {
		t.Errorf("uniform input: got %v", h)
	}
	if h, _ := ShannonEntropy([]byte("abab"), 10); h != 1 {
		t.Errorf("two symbols: got %v", h)
	}
	if _, n := ShannonEntropy([]byte(strings.Repeat("é", 100)), 10); n != 10 {
		t.Errorf("expected prefix of 10 runes, got %d", n)
	}
}

func TestSetShortCircuitsOnReject(t *testing.T) {
	set := NewSet(Config{MaxBodyBytes: 16})
	verdicts, rejected := set.Run(Input{Body: []byte("   ")})
	if !rejected {
		t.Fatal("expected reject")
	}
	got := make([]string, len(verdicts))
	for i, v := range verdicts {
		got[i] = v.Detector + ":" + string(v.Outcome)
	}
	want := []string{"length:pass", "structure:reject"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("verdicts mismatch (-want +got):\n%s", diff)
	}
}

func TestSetRunsAllOnClean(t *testing.T) {
	set := NewSet(DefaultConfig())
	verdicts, rejected := set.Run(Input{Body: []byte("what is the capital of France?")})
	if rejected {
		t.Fatal("unexpected reject")
	}
	if diff := cmp.Diff(set.Names(), []string{"length", "structure", "entropy", "pii"}); diff != "" {
		t.Errorf("names mismatch:\n%s", diff)
	}
	for _, v := range verdicts {
		if v.Outcome != model.Pass {
			t.Errorf("expected pass from %s, got %+v", v.Detector, v)
		}
	}
}
