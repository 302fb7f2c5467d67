// Package errors provides structured error handling for Quiver.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Index and store I/O errors
//   - 3XX: External provider errors (embedding, reranking, database)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates index and store I/O errors.
	CategoryIO Category = "IO"
	// CategoryProvider indicates external provider errors.
	CategoryProvider Category = "PROVIDER"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityError indicates the operation failed.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid = "ERR_101_CONFIG_INVALID"

	// Index and store I/O errors (200-299)
	ErrCodeIndexIO      = "ERR_201_INDEX_IO"
	ErrCodeCorruptIndex = "ERR_202_CORRUPT_INDEX"
	ErrCodeIndexLocked  = "ERR_203_INDEX_LOCKED"

	// Provider errors (300-399)
	ErrCodeBackendUnavailable = "ERR_301_BACKEND_UNAVAILABLE"
	ErrCodeEmbeddingFailed    = "ERR_302_EMBEDDING_FAILED"
	ErrCodeRerankFailed       = "ERR_303_RERANK_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_403_QUERY_EMPTY"
	ErrCodeDuplicateDocument = "ERR_404_DUPLICATE_DOCUMENT"
	ErrCodeEmptyContent      = "ERR_405_EMPTY_CONTENT"
	ErrCodeDocumentNotFound  = "ERR_406_DOCUMENT_NOT_FOUND"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeOrphanedVectors = "ERR_502_ORPHANED_VECTORS"
)

// categoryFromCode extracts the category from an error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryProvider
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode derives severity from an error code.
// Empty content and orphaned vectors are warnings: the former is a valid
// zero-chunk ingestion, the latter is surfaced for monitoring but does not
// fail the enclosing operation.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeEmptyContent, ErrCodeOrphanedVectors:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether operations failing with this code may be
// retried. Only provider-side failures are retryable; validation and
// consistency errors are not.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeBackendUnavailable, ErrCodeEmbeddingFailed, ErrCodeRerankFailed:
		return true
	default:
		return false
	}
}
