package app

import (
	"errors"
	"fmt"

	"momflow/pkg/auth"
	"momflow/pkg/store"
	"momflow/pkg/workflow"
)

// Error classes. Handlers map them to status codes with errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrDataIntegrity = errors.New("data integrity error")
)

var (
	// ErrInvalidCredentials is returned when the supplied credentials do not match.
	// The message is shown to end users and must not enable account enumeration.
	ErrInvalidCredentials = fmt.Errorf("%w: Incorrect email address or password", ErrUnauthorized)

	ErrEmailAndPasswordRequired = fmt.Errorf("%w: email and password required", ErrValidation)
	ErrEmailAlreadyExists       = fmt.Errorf("%w: email already exists", ErrConflict)
	ErrTitleRequired            = fmt.Errorf("%w: title required", ErrValidation)
	ErrAttachmentTooLarge       = fmt.Errorf("%w: attachment too large", ErrValidation)
)

// DependencyError marks a failure of a collaborator (notifications, mail, PDF,
// object storage). After a committed transition it is logged, never returned.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

func dependencyError(dep string, err error) error {
	if err == nil {
		return nil
	}
	return &DependencyError{Dependency: dep, Err: err}
}

// classify tags errors from the workflow and store layers with an error class.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrForbidden), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict), errors.Is(err, ErrDataIntegrity):
		return err
	case errors.Is(err, workflow.ErrCommentRequired), errors.Is(err, workflow.ErrUnknownAction),
		errors.Is(err, auth.ErrWeakPassword):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	case errors.Is(err, workflow.ErrPermissionDenied):
		return fmt.Errorf("%w: %w", ErrForbidden, err)
	case errors.Is(err, workflow.ErrInvalidTransition), errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrDuplicate):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, workflow.ErrCorruptMomNumber):
		return fmt.Errorf("%w: %w", ErrDataIntegrity, err)
	}
	return err
}
