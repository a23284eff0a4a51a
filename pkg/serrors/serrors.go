package serrors

import "fmt"

// Base is a coded error. Code is stable across releases and safe to match on;
// Message is for humans, Details is optional operator guidance.
type Base struct {
	Code    string
	Message string
	Details string
}

func NewError(code, message, details string) *Base {
	return &Base{
		Code:    code,
		Message: message,
		Details: details,
	}
}

func (e *Base) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Base) Is(target error) bool {
	other, ok := target.(*Base)
	if !ok {
		return false
	}
	return e.Code == other.Code
}
