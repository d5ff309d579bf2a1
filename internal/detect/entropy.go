package detect

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/ppiankov/safetygate/internal/model"
)

// Entropy flags input whose per-rune Shannon entropy over a bounded
// prefix exceeds Threshold. It never rejects: high entropy alone is
// only evidence of obfuscation.
type Entropy struct {
	Threshold float64
	Prefix    int
	MinRunes  int
}

// Name implements Detector.
func (Entropy) Name() string { return "entropy" }

// Evaluate implements Detector.
func (e Entropy) Evaluate(in Input) model.Verdict {
	prefix, minRunes, threshold := e.Prefix, e.MinRunes, e.Threshold
	if prefix <= 0 {
		prefix = DefaultEntropyPrefix
	}
	if minRunes <= 0 {
		minRunes = DefaultEntropyMinRunes
	}
	if threshold <= 0 {
		threshold = DefaultEntropyThreshold
	}

	h, n := ShannonEntropy(in.Body, prefix)
	if n < minRunes || h <= threshold {
		return model.PassVerdict(e.Name())
	}
	return model.NewVerdict(e.Name(), model.Flag, model.ReasonEntropyFlag,
		fmt.Sprintf("entropy %.2f bits/char over %d chars exceeds %.2f", h, n, threshold),
		0.5+(h-threshold)/2)
}

// ShannonEntropy returns bits per rune over at most limit runes of b,
// and the number of runes counted. Empty input has zero entropy.
func ShannonEntropy(b []byte, limit int) (float64, int) {
	counts := make(map[rune]int)
	n := 0
	for len(b) > 0 && n < limit {
		r, size := utf8.DecodeRune(b)
		b = b[size:]
		counts[r]++
		n++
	}
	if n == 0 {
		return 0, 0
	}

	total := float64(n)
	var h float64
	for _, c := range counts {
		p := float64(c) / total
		h -= p * math.Log2(p)
	}
	return h, n
}
