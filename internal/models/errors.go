package models

import "fmt"

// ErrorKind classifies pipeline failures
type ErrorKind int

const (
	// KindInitialization means the similarity store could not be prepared
	KindInitialization ErrorKind = iota + 1
	// KindIngestion means a document or batch could not be ingested
	KindIngestion
	// KindRetrieval means a query could not be served by the store
	KindRetrieval
	// KindGeneration means the generative model call failed
	KindGeneration
)

func (k ErrorKind) String() string {
	switch k {
	case KindInitialization:
		return "initialization"
	case KindIngestion:
		return "ingestion"
	case KindRetrieval:
		return "retrieval"
	case KindGeneration:
		return "generation"
	default:
		return "unknown"
	}
}

// Error is a classified pipeline error. Match the class with errors.Is against
// the Err* sentinels below.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// Sentinels for errors.Is
var (
	ErrInitialization = &Error{Kind: KindInitialization}
	ErrIngestion      = &Error{Kind: KindIngestion}
	ErrRetrieval      = &Error{Kind: KindRetrieval}
	ErrGeneration     = &Error{Kind: KindGeneration}
)

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s error: %s", e.Kind, e.Op)
	default:
		return fmt.Sprintf("%s error", e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// InitializationError wraps err as an initialization failure
func InitializationError(op string, err error) error {
	return &Error{Kind: KindInitialization, Op: op, Err: err}
}

// IngestionError wraps err as an ingestion failure
func IngestionError(op string, err error) error {
	return &Error{Kind: KindIngestion, Op: op, Err: err}
}

// RetrievalError wraps err as a retrieval failure
func RetrievalError(op string, err error) error {
	return &Error{Kind: KindRetrieval, Op: op, Err: err}
}

// GenerationError wraps err as a generation failure
func GenerationError(op string, err error) error {
	return &Error{Kind: KindGeneration, Op: op, Err: err}
}
