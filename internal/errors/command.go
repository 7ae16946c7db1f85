package errors

import (
	"errors"
	"fmt"
	"strings"
)

// CommandError carries the full observable outcome of a failed
// subprocess: the rendered command line, working directory, exit code,
// and captured output. It wraps ErrCommandFailed so callers can match
// the category with errors.Is and recover the detail with errors.As.
type CommandError struct {
	Command    string
	Cwd        string
	ReturnCode int
	Stdout     string
	Stderr     string
}

// NewCommandError builds a CommandError for a non-zero exit.
func NewCommandError(command, cwd string, returnCode int, stdout, stderr string) *CommandError {
	return &CommandError{
		Command:    command,
		Cwd:        cwd,
		ReturnCode: returnCode,
		Stdout:     stdout,
		Stderr:     stderr,
	}
}

// Error implements the error interface. The message mirrors what
// operators see in failure logs: the command plus whichever stream
// carried output.
func (e *CommandError) Error() string {
	detail := strings.TrimSpace(e.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(e.Stdout)
	}
	if detail == "" {
		return fmt.Sprintf("command failed (%s): exit status %d", e.Command, e.ReturnCode)
	}
	return fmt.Sprintf("command failed (%s): %s", e.Command, detail)
}

// Unwrap returns the ErrCommandFailed sentinel.
func (e *CommandError) Unwrap() error {
	return ErrCommandFailed
}

// AsCommandError extracts a *CommandError from an error chain.
// Returns nil when the chain carries no command failure.
func AsCommandError(err error) *CommandError {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr
	}
	return nil
}
