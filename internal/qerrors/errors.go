// Package qerrors implements the closed error taxonomy the scenario engine
// uses to classify every fatal condition: config/data validation, fit
// failures, resource limits, numerical failures, drift, and missing
// features. Every error carries enough structure for a CLI caller to print
// field/value/constraint/remediation and to choose a process exit code.
package qerrors

import (
	"fmt"
	"time"
)

// Kind is the top-level closed taxonomy from spec section 7.
type Kind string

const (
	KindConfig          Kind = "ConfigError"
	KindData            Kind = "DataError"
	KindFit             Kind = "FitError"
	KindResourceLimit   Kind = "ResourceLimitError"
	KindNumeric         Kind = "NumericError"
	KindDrift           Kind = "DriftError"
	KindMissingFeature  Kind = "MissingFeatureError"
)

// SubKind further tags FitError, NumericError and DriftError as required.
type SubKind string

const (
	SubNone SubKind = ""

	// FitError sub-kinds.
	SubInsufficientData SubKind = "InsufficientData"
	SubNonConvergence   SubKind = "NonConvergence"
	SubNonStationary    SubKind = "NonStationary"
	SubImplausibleParams SubKind = "ImplausibleParams"

	// NumericError sub-kinds.
	SubBankruptcy SubKind = "Bankruptcy"
	SubOverflow   SubKind = "Overflow"
	SubInvalidIV  SubKind = "InvalidIV"

	// DriftError sub-kinds.
	SubSchemaDrift       SubKind = "SchemaDrift"
	SubCountDrift        SubKind = "CountDrift"
	SubDistributionDrift SubKind = "DistributionDrift"
)

// Error is the concrete error type carried through the engine. It always
// names the offending field, the value observed, the constraint that was
// violated, and a suggested remediation, per spec section 7.
type Error struct {
	Kind        Kind
	Sub         SubKind
	Field       string
	Value       interface{}
	Constraint  string
	Remediation string
	Message     string
	Timestamp   time.Time
	RunID       string
	ConfigID    string
	Cause       error
}

func (e *Error) Error() string {
	tag := string(e.Kind)
	if e.Sub != SubNone {
		tag = fmt.Sprintf("%s:%s", e.Kind, e.Sub)
	}
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field=%s value=%v constraint=%q remediation=%q)",
			tag, e.Message, e.Field, e.Value, e.Constraint, e.Remediation)
	}
	return fmt.Sprintf("[%s] %s", tag, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Tag returns the stable machine-readable tag, e.g. "FitError:NonStationary".
func (e *Error) Tag() string {
	if e.Sub != SubNone {
		return fmt.Sprintf("%s:%s", e.Kind, e.Sub)
	}
	return string(e.Kind)
}

// WithRun attaches run/config identifiers for structured logging.
func (e *Error) WithRun(runID, configID string) *Error {
	e.RunID = runID
	e.ConfigID = configID
	return e
}

// New builds a bare Error of the given kind/subkind.
func New(kind Kind, sub SubKind, message string) *Error {
	return &Error{Kind: kind, Sub: sub, Message: message, Timestamp: time.Now()}
}

// Newf builds a bare Error with a formatted message.
func Newf(kind Kind, sub SubKind, format string, args ...interface{}) *Error {
	return New(kind, sub, fmt.Sprintf(format, args...))
}

// WithField attaches the field/value/constraint/remediation quadruple.
func (e *Error) WithField(field string, value interface{}, constraint, remediation string) *Error {
	e.Field = field
	e.Value = value
	e.Constraint = constraint
	e.Remediation = remediation
	return e
}

// Wrap wraps a lower-level error into the taxonomy.
func Wrap(kind Kind, sub SubKind, message string, cause error) *Error {
	err := New(kind, sub, message)
	err.Cause = cause
	return err
}

// As extracts an *Error from err, mirroring errors.As without requiring the
// caller to import the standard errors package just for this.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}

// ExitCode maps an error to the process exit code fixed by spec section 6.
//
//	0 success, 2 config/validation, 3 data error, 4 resource limit,
//	5 numerical failure, 6 partial completion, 1 unclassified.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	e, ok := As(err)
	if !ok {
		return 1
	}
	switch e.Kind {
	case KindConfig, KindMissingFeature:
		return 2
	case KindData, KindDrift:
		return 3
	case KindResourceLimit:
		return 4
	case KindFit, KindNumeric:
		return 5
	default:
		return 1
	}
}

// ExitCodePartial is returned by the grid command when its report is
// Partial: the grid was interrupted before every config ran.
const ExitCodePartial = 6
