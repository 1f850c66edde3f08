package decompose

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrFallbackRequired signals that local decomposition cannot produce a
// plan and the caller should route the utterance to the external LLM
// fallback. It is a recoverable signal, not a hard failure.
var ErrFallbackRequired = errors.New("decomposition confidence below threshold, LLM fallback required")

// UnresolvedFieldError reports a referenced natural-language field with
// no canonical mapping. Decomposition aborts rather than silently
// dropping the field.
type UnresolvedFieldError struct {
	Token string
}

func (e *UnresolvedFieldError) Error() string {
	return fmt.Sprintf("no canonical field mapping for %q", e.Token)
}

// AmbiguousQueryError reports contradictory entities, e.g. two different
// aggregation verbs in one utterance. It is surfaced, never guessed at.
type AmbiguousQueryError struct {
	Reason string
}

func (e *AmbiguousQueryError) Error() string {
	return "ambiguous query: " + e.Reason
}

// FallbackRequired reports whether err means the caller should invoke
// the LLM fallback path instead of failing the user-facing query.
func FallbackRequired(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFallbackRequired) {
		return true
	}
	var unresolved *UnresolvedFieldError
	if errors.As(err, &unresolved) {
		return true
	}
	var ambiguous *AmbiguousQueryError
	return errors.As(err, &ambiguous)
}
