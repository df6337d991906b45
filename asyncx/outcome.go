package asyncx

import (
	"context"
	"encoding/json"
	"errors"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return "permanent: " + e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler outcome that retrying cannot fix, such as a
// missing target entity or a malformed payload. The processor completes the
// job as a no-op instead of scheduling another attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was produced by Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

type resultKey struct{}

type resultBox struct {
	value any
}

func withResultBox(ctx context.Context) (context.Context, *resultBox) {
	box := &resultBox{}
	return context.WithValue(ctx, resultKey{}, box), box
}

// SetResult attaches a JSON-encodable result to the running job. It is stored
// on the job record when the attempt completes and ignored otherwise.
func SetResult(ctx context.Context, v any) {
	if box, ok := ctx.Value(resultKey{}).(*resultBox); ok {
		box.value = v
	}
}

func (b *resultBox) encode() *string {
	if b == nil || b.value == nil {
		return nil
	}
	raw, err := json.Marshal(b.value)
	if err != nil {
		return nil
	}
	s := string(raw)
	return &s
}
