package helper

import "fmt"

// NewError wraps err with the action that failed, keeping it
// reachable for errors.Is and errors.As.
func NewError(action string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", action, err)
}
