// Package apperror provides coded application errors for the ride matcher.
// Each error carries a code, a severity and optional details, and maps onto
// a gRPC status so that the health/admin surface can report it unchanged.
package apperror

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	// Input
	CodeInvalidInput    ErrorCode = "INVALID_INPUT"
	CodeInvalidTrip     ErrorCode = "INVALID_TRIP"
	CodeInvalidTable    ErrorCode = "INVALID_TABLE"
	CodeInvalidConfig   ErrorCode = "INVALID_CONFIG"
	CodeUnknownSolver   ErrorCode = "UNKNOWN_SOLVER"
	CodeEmptySnapshot   ErrorCode = "EMPTY_SNAPSHOT"
	CodeNilInput        ErrorCode = "NIL_INPUT"
	CodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// External distance provider
	CodeOracleFailure ErrorCode = "ORACLE_FAILURE"

	// Matching
	CodeInfeasible         ErrorCode = "INFEASIBLE"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeReducedCost        ErrorCode = "NEGATIVE_REDUCED_COST"
	CodeNonIntegral        ErrorCode = "NON_INTEGRAL_OBJECTIVE"
	CodeInvariantViolation ErrorCode = "INVARIANT_VIOLATION"

	// Post-hoc checks
	CodeDuplicateMatch      ErrorCode = "DUPLICATE_MATCH"
	CodeDuplicateDriver     ErrorCode = "DUPLICATE_DRIVER"
	CodeDuplicatePassenger  ErrorCode = "DUPLICATE_PASSENGER"
	CodeTimeWindowViolation ErrorCode = "TIME_WINDOW_VIOLATION"
	CodeClosureViolation    ErrorCode = "CLOSURE_VIOLATION"
	CodeFlowImbalance       ErrorCode = "FLOW_IMBALANCE"

	// General
	CodeInternal    ErrorCode = "INTERNAL"
	CodeNotFound    ErrorCode = "NOT_FOUND"
	CodeUnavailable ErrorCode = "UNAVAILABLE"
)

// Severity defines the criticality level of an error.
type Severity int

const (
	// SeverityWarning is reported but does not stop the interval.
	SeverityWarning Severity = iota
	// SeverityError requires attention.
	SeverityError
	// SeverityCritical aborts the interval.
	SeverityCritical
)

// String returns the string representation of the Severity.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Error is a coded application error.
type Error struct {
	Code     ErrorCode
	Message  string
	Field    string
	Details  map[string]any
	Cause    error
	Severity Severity
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field: %s)", msg, e.Field)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// GRPCStatus converts the error into a gRPC status.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.grpcCode(), e.Message)
}

func (e *Error) grpcCode() codes.Code {
	switch e.Code {
	case CodeInvalidInput, CodeInvalidTrip, CodeInvalidTable, CodeInvalidConfig,
		CodeUnknownSolver, CodeEmptySnapshot, CodeNilInput, CodeInvalidArgument:
		return codes.InvalidArgument

	case CodeOracleFailure, CodeUnavailable:
		return codes.Unavailable

	case CodeTimeout:
		return codes.DeadlineExceeded

	case CodeNotFound:
		return codes.NotFound

	case CodeInfeasible:
		return codes.FailedPrecondition

	case CodeReducedCost, CodeNonIntegral, CodeInvariantViolation, CodeDuplicateMatch,
		CodeDuplicateDriver, CodeDuplicatePassenger, CodeTimeWindowViolation,
		CodeClosureViolation, CodeFlowImbalance:
		return codes.DataLoss

	default:
		return codes.Internal
	}
}

func newError(code ErrorCode, message string, severity Severity) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Details:  make(map[string]any),
		Severity: severity,
	}
}

// New creates an error with SeverityError.
func New(code ErrorCode, message string) *Error {
	return newError(code, message, SeverityError)
}

// Newf is New with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return newError(code, fmt.Sprintf(format, args...), SeverityError)
}

// NewWithField creates an error bound to an input field.
func NewWithField(code ErrorCode, message, field string) *Error {
	e := newError(code, message, SeverityError)
	e.Field = field
	return e
}

// NewWarning creates an error with SeverityWarning.
func NewWarning(code ErrorCode, message string) *Error {
	return newError(code, message, SeverityWarning)
}

// NewCritical creates an error with SeverityCritical.
func NewCritical(code ErrorCode, message string) *Error {
	return newError(code, message, SeverityCritical)
}

// Wrap attaches a code and message to an underlying error.
func Wrap(cause error, code ErrorCode, message string) *Error {
	e := newError(code, message, SeverityError)
	e.Cause = cause
	return e
}

// WithDetails adds a key-value pair to the details map.
func (e *Error) WithDetails(key string, value any) *Error {
	e.Details[key] = value
	return e
}

// WithField sets the field associated with the error.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithSeverity overrides the severity.
func (e *Error) WithSeverity(s Severity) *Error {
	e.Severity = s
	return e
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Code extracts the ErrorCode from an error, CodeInternal for foreign errors.
func Code(err error) ErrorCode {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// ToGRPC converts any error into a gRPC status error.
func ToGRPC(err error) error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.GRPCStatus().Err()
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	return status.Error(codes.Internal, err.Error())
}

// FromGRPC converts a gRPC error into an *Error.
func FromGRPC(err error) *Error {
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok {
		return New(CodeInternal, err.Error())
	}

	var code ErrorCode
	switch st.Code() {
	case codes.InvalidArgument:
		code = CodeInvalidArgument
	case codes.NotFound:
		code = CodeNotFound
	case codes.DeadlineExceeded:
		code = CodeTimeout
	case codes.Unavailable:
		code = CodeUnavailable
	case codes.FailedPrecondition:
		code = CodeInfeasible
	default:
		code = CodeInternal
	}

	return New(code, st.Message())
}

// IsWarning reports whether err is an application warning.
func IsWarning(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Severity == SeverityWarning
	}
	return false
}

// IsCritical reports whether err is a critical application error.
func IsCritical(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Severity == SeverityCritical
	}
	return false
}

// Predefined errors. Compare with errors.Is or Is(err, code).
var (
	ErrMatchingTimeout = NewCritical(CodeTimeout, "match building did not finish in time")
	ErrEmptySnapshot   = New(CodeEmptySnapshot, "snapshot has no drivers or no passengers")
	ErrNilTables       = New(CodeNilInput, "tables are nil")
	ErrNilOracle       = New(CodeNilInput, "distance oracle is nil")
	ErrUnknownSolver   = New(CodeUnknownSolver, "unknown solver")
	ErrTargetMissed    = New(CodeInfeasible, "profit target cannot be reached")
)

// ValidationErrors aggregates the results of several checks.
type ValidationErrors struct {
	Errors   []*Error
	Warnings []*Error
}

// NewValidationErrors creates an empty collection.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Errors:   make([]*Error, 0),
		Warnings: make([]*Error, 0),
	}
}

// Add appends err to Errors or Warnings depending on its severity.
func (v *ValidationErrors) Add(err *Error) {
	if err.Severity == SeverityWarning {
		v.Warnings = append(v.Warnings, err)
	} else {
		v.Errors = append(v.Errors, err)
	}
}

// AddError creates and adds an error.
func (v *ValidationErrors) AddError(code ErrorCode, message string) {
	v.Errors = append(v.Errors, New(code, message))
}

// AddWarning creates and adds a warning.
func (v *ValidationErrors) AddWarning(code ErrorCode, message string) {
	v.Warnings = append(v.Warnings, NewWarning(code, message))
}

// HasErrors reports whether any error was collected.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// HasWarnings reports whether any warning was collected.
func (v *ValidationErrors) HasWarnings() bool {
	return len(v.Warnings) > 0
}

// IsValid is true when there are no errors; warnings do not count.
func (v *ValidationErrors) IsValid() bool {
	return !v.HasErrors()
}

// Count returns how many errors carry the given code.
func (v *ValidationErrors) Count(code ErrorCode) int {
	n := 0
	for _, e := range v.Errors {
		if e.Code == code {
			n++
		}
	}
	return n
}

// Merge appends everything from other.
func (v *ValidationErrors) Merge(other *ValidationErrors) {
	if other == nil {
		return
	}
	v.Errors = append(v.Errors, other.Errors...)
	v.Warnings = append(v.Warnings, other.Warnings...)
}

// Err returns nil when valid, otherwise an INVARIANT_VIOLATION error
// wrapping the first collected error.
func (v *ValidationErrors) Err() error {
	if v.IsValid() {
		return nil
	}
	return Wrap(v.Errors[0], CodeInvariantViolation,
		fmt.Sprintf("%d invariant violation(s)", len(v.Errors)))
}

// ErrorMessages returns the messages of all collected errors.
func (v *ValidationErrors) ErrorMessages() []string {
	messages := make([]string, len(v.Errors))
	for i, err := range v.Errors {
		messages[i] = err.Error()
	}
	return messages
}

// WarningMessages returns the messages of all collected warnings.
func (v *ValidationErrors) WarningMessages() []string {
	messages := make([]string, len(v.Warnings))
	for i, warn := range v.Warnings {
		messages[i] = warn.Message
	}
	return messages
}
