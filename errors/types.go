// Package errors provides structured error types for the trust proxy core.
// Every error surfaced across package boundaries carries a Kind (from
// spec.md §7), a human-readable message, an optional actionable suggestion,
// and the underlying cause — adapted from the teacher's SentinelError,
// re-pointed at this system's error taxonomy instead of AWS error codes.
package errors

// Kind enumerates the error taxonomy from spec.md §7. Callers switch on
// Kind rather than comparing error strings.
type Kind string

const (
	// KindNotFound indicates the referenced entity does not exist.
	KindNotFound Kind = "NOT_FOUND"
	// KindInvalidArgument indicates malformed or missing caller input.
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	// KindPolicyViolation indicates a scope, limit, or expiry violation.
	KindPolicyViolation Kind = "POLICY_VIOLATION"
	// KindEscalationRequired indicates a BREAK_GLASS outcome — not an
	// exception, an expected decision shape callers must handle.
	KindEscalationRequired Kind = "ESCALATION_REQUIRED"
	// KindConflictState indicates an illegal break-glass state transition.
	KindConflictState Kind = "CONFLICT_STATE"
	// KindCryptoFailure indicates an encryption, signing, or TOTP failure.
	KindCryptoFailure Kind = "CRYPTO_FAILURE"
	// KindStorageFailure indicates a persistence-layer failure.
	KindStorageFailure Kind = "STORAGE_FAILURE"
	// KindTimeout indicates a latency-budget deadline was exceeded.
	KindTimeout Kind = "TIMEOUT"
	// KindUnauthenticated indicates a failed inbound signature check.
	KindUnauthenticated Kind = "UNAUTHENTICATED"
)

// TrustError is the structured error interface implemented by this package.
type TrustError interface {
	error
	Unwrap() error
	Kind() Kind
	Suggestion() string
	Context() map[string]string
}

type trustError struct {
	kind       Kind
	message    string
	suggestion string
	context    map[string]string
	cause      error
}

func (e *trustError) Error() string        { return e.message }
func (e *trustError) Unwrap() error        { return e.cause }
func (e *trustError) Kind() Kind           { return e.kind }
func (e *trustError) Suggestion() string   { return e.suggestion }
func (e *trustError) Context() map[string]string { return e.context }

// New creates a TrustError of the given kind.
func New(kind Kind, message, suggestion string, cause error) TrustError {
	return &trustError{
		kind:       kind,
		message:    message,
		suggestion: suggestion,
		context:    make(map[string]string),
		cause:      cause,
	}
}

// WithContext returns a copy of err with an additional context key/value.
func WithContext(err TrustError, key, value string) TrustError {
	existing := err.Context()
	merged := make(map[string]string, len(existing)+1)
	for k, v := range existing {
		merged[k] = v
	}
	merged[key] = value
	return &trustError{
		kind:       err.Kind(),
		message:    err.Error(),
		suggestion: err.Suggestion(),
		context:    merged,
		cause:      err.Unwrap(),
	}
}

// As extracts a TrustError from err, if it is one.
func As(err error) (TrustError, bool) {
	if err == nil {
		return nil, false
	}
	te, ok := err.(TrustError)
	return te, ok
}

// KindOf returns the Kind of err, or "" if err is not a TrustError.
func KindOf(err error) Kind {
	if te, ok := As(err); ok {
		return te.Kind()
	}
	return ""
}

// NotFound, InvalidArgument, PolicyViolation, ConflictState, CryptoFailure,
// StorageFailure, Timeout, and Unauthenticated are constructors for the
// common case of no extra suggestion text.
func NotFound(message string, cause error) TrustError {
	return New(KindNotFound, message, "", cause)
}

func InvalidArgument(message string) TrustError {
	return New(KindInvalidArgument, message, "", nil)
}

func PolicyViolation(message, suggestion string) TrustError {
	return New(KindPolicyViolation, message, suggestion, nil)
}

func ConflictState(message string) TrustError {
	return New(KindConflictState, message, "", nil)
}

func CryptoFailure(message string, cause error) TrustError {
	return New(KindCryptoFailure, message, "check the configured key material", cause)
}

func StorageFailure(message string, cause error) TrustError {
	return New(KindStorageFailure, message, "retry once the backing store is reachable", cause)
}

func Timeout(message string) TrustError {
	return New(KindTimeout, message, "", nil)
}

func Unauthenticated(message string) TrustError {
	return New(KindUnauthenticated, message, "verify the signing secret matches the provider configuration", nil)
}
