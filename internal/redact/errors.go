package redact

import "fmt"

// UnredactedDataError is returned by AssertNoSensitiveData when a value
// still carries data matching an enabled rule. Storage write paths treat
// this as a hard refusal, never a warning.
type UnredactedDataError struct {
	RuleName string
	JSONPath string
}

func (e *UnredactedDataError) Error() string {
	return fmt.Sprintf("redact: unredacted sensitive data: rule %q at %s", e.RuleName, e.JSONPath)
}
