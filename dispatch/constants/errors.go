package constant

import "errors"

var (
	// ErrTransactionNotFound maps to dispatch error code 0001.
	ErrTransactionNotFound = errors.New("0001")
	// ErrInvalidOperation maps to dispatch error code 0002.
	ErrInvalidOperation = errors.New("0002")
	// ErrInvalidTarget maps to dispatch error code 0003.
	ErrInvalidTarget = errors.New("0003")
	// ErrInvalidDependency maps to dispatch error code 0004.
	ErrInvalidDependency = errors.New("0004")
	// ErrTransactionNotCancellable maps to dispatch error code 0005.
	ErrTransactionNotCancellable = errors.New("0005")
	// ErrPoolerNotRunning maps to dispatch error code 0006.
	ErrPoolerNotRunning = errors.New("0006")
	// ErrBackendUnavailable maps to dispatch error code 0007.
	ErrBackendUnavailable = errors.New("0007")
	// ErrInvalidRequestBody maps to dispatch error code 0008.
	ErrInvalidRequestBody = errors.New("0008")
)
