package app

import "errors"

// ErrProfileNotFound is returned when the principal has no profiles row.
var ErrProfileNotFound = errors.New("profile not found")

const (
	maxTitleLength   = 200
	maxContentLength = 100000
)
