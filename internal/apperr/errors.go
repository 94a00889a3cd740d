// Package apperr defines the sentinel error kinds shared across the wiki core.
package apperr

import "errors"

var (
	// ErrNotFound means a requested URL has no backing file.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists means a page already occupies the requested URL.
	ErrAlreadyExists = errors.New("already exists")
	// ErrMissingMeta means an accessed metadata key is absent.
	ErrMissingMeta = errors.New("missing metadata key")
	// ErrInvalidPattern means a search term did not compile as a regexp.
	ErrInvalidPattern = errors.New("invalid search pattern")
)
