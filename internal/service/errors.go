package service

import "errors"

// Domain errors returned by AuthService.  They describe caller mistakes or
// expired state; none of them is retried.  Anything else coming out of the
// service is a storage or infrastructure fault.
var (
	// ErrDuplicateAccount is returned by Register when the account name is taken.
	ErrDuplicateAccount = errors.New("account already registered")

	// ErrAccountNotFound is returned by Login for an unknown account name.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidCredentials is returned by Login when the password does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrMissingDeviceID is returned by Login and Refresh when the caller
	// did not identify its device.
	ErrMissingDeviceID = errors.New("device id is required")

	// ErrForbidden is returned by Logout when the caller holds no session on the device.
	ErrForbidden = errors.New("forbidden")

	// ErrMissingRefreshToken is returned by Refresh when no token was presented.
	ErrMissingRefreshToken = errors.New("refresh token not found")

	// ErrInvalidRefreshToken covers unknown, superseded, expired and badly
	// signed refresh tokens alike.
	ErrInvalidRefreshToken = errors.New("refresh token is not valid")

	// ErrInvalidAccessToken is returned when an access token does not verify
	// against its session secret.
	ErrInvalidAccessToken = errors.New("access token is not valid")
)
