package loop

import "fmt"

// FatalError ends the loop. The CLI prints it as "voice-loop error: <msg>"
// and exits with status 2. Every other turn failure is reported and the loop
// moves on.
type FatalError struct {
	Msg string
	Err error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func fatalf(format string, args ...any) *FatalError {
	return &FatalError{Msg: fmt.Sprintf(format, args...)}
}
