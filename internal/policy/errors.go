package policy

import "fmt"

// PermissionDeniedError is returned by Check when the effective level is
// below the domain's required level.
type PermissionDeniedError struct {
	Action   string
	Required Level
	Current  Level
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("Permission denied for %q: requires level %d, current level is %d", e.Action, int(e.Required), int(e.Current))
}

// Code identifies the error kind for API consumers.
func (e *PermissionDeniedError) Code() string { return "PERMISSION_DENIED" }

// CodeConfirmationRequired tags pending-confirmation responses.
const CodeConfirmationRequired = "CONFIRMATION_REQUIRED"
