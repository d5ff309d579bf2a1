package detect

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ppiankov/safetygate/internal/model"
)

// ErrBodyTooLarge is wrapped by Read when the body exceeds the limit.
var ErrBodyTooLarge = errors.New("request body exceeds limit")

// ErrLengthMismatch is wrapped by Read when the body length differs
// from the declared content length.
var ErrLengthMismatch = errors.New("request body length does not match declared length")

// LengthBound enforces the maximum body size. Read is the primary entry
// point: it never buffers more than Max+1 bytes.
type LengthBound struct {
	Max int64
}

// Name implements Detector.
func (LengthBound) Name() string { return "length" }

// Evaluate checks an already materialized body.
func (l LengthBound) Evaluate(in Input) model.Verdict {
	if int64(len(in.Body)) > l.max() {
		return l.reject(fmt.Sprintf("body of %d bytes exceeds %d", len(in.Body), l.max()))
	}
	return model.PassVerdict(l.Name())
}

// Read consumes r up to the limit. declared < 0 means no content length
// was declared. A declared length above the limit is rejected without
// reading. Otherwise reading stops at the first byte past the limit.
func (l LengthBound) Read(r io.Reader, declared int64) ([]byte, model.Verdict, error) {
	maxBytes := l.max()
	if declared > maxBytes {
		err := model.NewError(model.KindInput, "detect.length",
			fmt.Errorf("%w: declared %d > %d", ErrBodyTooLarge, declared, maxBytes))
		return nil, l.reject(fmt.Sprintf("declared length %d exceeds %d", declared, maxBytes)), err
	}
	if r == nil {
		r = eofReader{}
	}

	limit := maxBytes
	if declared >= 0 {
		limit = declared
	}
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, l.reject("body read failed"),
			model.NewError(model.KindInput, "detect.length", fmt.Errorf("read body: %w", err))
	}

	n := int64(len(body))
	switch {
	case n > maxBytes:
		return nil, l.reject(fmt.Sprintf("body exceeds %d bytes", maxBytes)),
			model.NewError(model.KindInput, "detect.length", fmt.Errorf("%w: %d", ErrBodyTooLarge, maxBytes))
	case declared >= 0 && n != declared:
		return nil, l.reject("body length does not match declared length"),
			model.NewError(model.KindInput, "detect.length",
				fmt.Errorf("%w: declared %d, read at least %d", ErrLengthMismatch, declared, n))
	}
	return body, model.PassVerdict(l.Name()), nil
}

// ReadContext is Read bounded by ctx. When ctx ends before the read
// completes it returns a timeout error without waiting for the reader.
// The pending read finishes in the background; callers that own the
// underlying connection should also bound it with a read deadline.
func (l LengthBound) ReadContext(ctx context.Context, r io.Reader, declared int64) ([]byte, model.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, l.abandoned(), model.NewError(model.KindTimeout, "detect.length", err)
	}

	type result struct {
		body []byte
		v    model.Verdict
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, v, err := l.Read(r, declared)
		done <- result{body, v, err}
	}()

	select {
	case res := <-done:
		return res.body, res.v, res.err
	case <-ctx.Done():
		return nil, l.abandoned(),
			model.NewError(model.KindTimeout, "detect.length", fmt.Errorf("read body: %w", ctx.Err()))
	}
}

func (l LengthBound) max() int64 {
	if l.Max <= 0 {
		return DefaultMaxBodyBytes
	}
	return l.Max
}

func (l LengthBound) abandoned() model.Verdict {
	return model.NewVerdict(l.Name(), model.Reject, model.ReasonTimeout, "body read exceeded deadline", 1)
}

func (l LengthBound) reject(reason string) model.Verdict {
	return model.NewVerdict(l.Name(), model.Reject, model.ReasonInputRejected, reason, 1)
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
