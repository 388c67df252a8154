package constant

const (
	// DefaultErrorTitle is the fallback error title used in HTTP error responses
	// when no specific title is provided.
	DefaultErrorTitle = "request_failed"
	// DefaultInternalErrorMessage is the fallback message for unclassified server errors.
	DefaultInternalErrorMessage = "An internal error occurred"
)
