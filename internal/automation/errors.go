package automation

import (
	"context"
	"errors"
	"fmt"
)

// NavigationError means the login page could not be loaded at all. Nothing
// was filled or submitted.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// Timeout reports whether the navigation failed by exceeding its deadline.
func (e *NavigationError) Timeout() bool { return errors.Is(e.Err, context.DeadlineExceeded) }

// AutomationError means field interaction broke after the page had loaded.
// Stage names the step of the flow that failed.
type AutomationError struct {
	Stage string
	Err   error
}

func (e *AutomationError) Error() string {
	return fmt.Sprintf("automation failed at %s: %v", e.Stage, e.Err)
}

func (e *AutomationError) Unwrap() error { return e.Err }

// Timeout reports whether the step failed by exceeding its deadline.
func (e *AutomationError) Timeout() bool { return errors.Is(e.Err, context.DeadlineExceeded) }
