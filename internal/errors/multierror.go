package errors

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// MultiError collects the errors of several independent steps, such as the tasks
// joined by a runtime close. The zero value is nil; Append allocates.
type MultiError struct {
	inner *multierror.Error
}

// Append returns errs extended by every non-nil error in more.
func (errs *MultiError) Append(more ...error) *MultiError {
	inner := new(multierror.Error)
	if errs != nil && errs.inner != nil {
		inner.Errors = append(inner.Errors, errs.inner.Errors...)
	}
	for _, err := range more {
		if err != nil {
			inner = multierror.Append(inner, err)
		}
	}
	inner.ErrorFormat = listFormat
	return &MultiError{inner: inner}
}

// ErrorOrNil returns errs as an error, or nil when nothing was collected.
func (errs *MultiError) ErrorOrNil() error {
	if errs.Len() == 0 {
		return nil
	}
	return errs
}

// Len returns the number of collected errors.
func (errs *MultiError) Len() int {
	if errs == nil || errs.inner == nil {
		return 0
	}
	return len(errs.inner.Errors)
}

func (errs *MultiError) Error() string {
	if errs.Len() == 0 {
		return ""
	}
	return errs.inner.Error()
}

// Unwrap exposes the collected errors to Is and As.
func (errs *MultiError) Unwrap() []error {
	if errs.Len() == 0 {
		return nil
	}
	return errs.inner.WrappedErrors()
}

// listFormat renders one bullet per error, indenting continuation lines.
func listFormat(list []error) string {
	var b strings.Builder
	if len(list) == 1 {
		b.WriteString("error occurred:\n")
	} else {
		fmt.Fprintf(&b, "%d errors occurred:\n", len(list))
	}
	for _, err := range list {
		lines := strings.Split(strings.ReplaceAll(err.Error(), "\r\n", "\n"), "\n")
		fmt.Fprintf(&b, "\n* %s", lines[0])
		for _, line := range lines[1:] {
			fmt.Fprintf(&b, "\n  %s", line)
		}
		b.WriteString("\n")
	}
	return b.String()
}
