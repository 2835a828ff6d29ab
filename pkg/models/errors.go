package models

import "errors"

// Common errors for store operations.
var (
	// User errors
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateUser      = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Listener errors
	ErrListenerNotFound  = errors.New("listener not found")
	ErrDuplicateListener = errors.New("listener already exists")

	// Permission errors
	ErrPermissionNotFound = errors.New("listener permission not found")

	// Virtual path errors
	ErrVirtualPathNotFound  = errors.New("virtual path not found")
	ErrDuplicateVirtualPath = errors.New("virtual path already exists")
)
