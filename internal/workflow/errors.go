package workflow

import "fmt"

// FailureKind classifies why a run failed. The panel does not distinguish
// kinds; they exist for logs and metrics.
type FailureKind string

const (
	FailureBoot    FailureKind = "boot"
	FailureMount   FailureKind = "mount"
	FailureInstall FailureKind = "install"
	FailureRun     FailureKind = "run"
	FailureCrash   FailureKind = "crash"
	FailureUnknown FailureKind = "unknown"
)

// Failure is the error a failed run settles with.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil && f.Err.Error() != f.Message {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }
