package runtime

// PanicPolicy decides what happens after a panic has been recovered and recorded.
type PanicPolicy int

const (
	// KeepRunning swallows the panic once it has been logged and recorded.
	KeepRunning PanicPolicy = iota
	// CrashProcess re-panics after recording.
	CrashProcess
)

// String returns the policy name.
func (p PanicPolicy) String() string {
	switch p {
	case KeepRunning:
		return "KeepRunning"
	case CrashProcess:
		return "CrashProcess"
	default:
		return "Unknown"
	}
}
