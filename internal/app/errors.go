package app

import "fmt"

// DomainError is the error shape the HTTP layer knows how to render.
// Status picks the response code, Code is a stable machine-readable
// identifier, and Details carries optional structured context.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// domainError is the only constructor; service methods never build a
// DomainError literal directly.
func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}
