package rbac

import "errors"

var (
	// ErrForbidden means the caller is authenticated but the engine or
	// an assignment rule said no.
	ErrForbidden = errors.New("rbac: forbidden")

	// ErrPendingApproval and ErrInactiveUser explain why an otherwise
	// valid credential may not be used.
	ErrPendingApproval = errors.New("rbac: account pending approval")
	ErrInactiveUser    = errors.New("rbac: account deactivated")
)
