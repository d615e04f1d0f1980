package escrow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/telvault/escrow/pkg/models"
)

var (
	ErrEscrowNotFound  = errors.New("escrow not found")
	ErrDisputeNotFound = errors.New("dispute not found")
	ErrTerminalState   = errors.New("escrow already in terminal state")
	ErrInvalidState    = errors.New("invalid state for transition")
)

// Outcome classifies the result of a lifecycle transition. Expected
// conditions (duplicate delivery, missing rows, bad input) are outcomes,
// not errors, so callers are forced to handle each case.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeDuplicate        Outcome = "duplicate"         // already applied, no side effects this time
	OutcomeValidationFailed Outcome = "validation_failed" // input rejected before persistence
	OutcomeNotFound         Outcome = "not_found"
	OutcomeConflict         Outcome = "conflict" // wrong state for the requested transition
	OutcomeError            Outcome = "error"    // recoverable persistence failure, retry later
)

// Result is the uniform return of lifecycle and dispute operations
type Result struct {
	Outcome    Outcome        `json:"outcome"`
	Escrow     *models.Escrow `json:"escrow,omitempty"`
	Message    string         `json:"message,omitempty"`
	Violations []string       `json:"violations,omitempty"`
}

// OK reports whether the operation applied (fresh or idempotent replay)
func (r *Result) OK() bool {
	return r.Outcome == OutcomeSuccess || r.Outcome == OutcomeDuplicate
}

func success(e *models.Escrow) *Result {
	return &Result{Outcome: OutcomeSuccess, Escrow: e}
}

func duplicate(e *models.Escrow, msg string) *Result {
	return &Result{Outcome: OutcomeDuplicate, Escrow: e, Message: msg}
}

func notFound(msg string) *Result {
	return &Result{Outcome: OutcomeNotFound, Message: msg}
}

func conflict(e *models.Escrow, msg string) *Result {
	return &Result{Outcome: OutcomeConflict, Escrow: e, Message: msg}
}

func failure(msg string) *Result {
	return &Result{Outcome: OutcomeError, Message: msg}
}

// ValidationError carries every violation found in a request, not just the
// first one
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Violations, "; "))
}

func validationFailed(violations []string) *Result {
	return &Result{Outcome: OutcomeValidationFailed, Message: "validation failed", Violations: violations}
}
