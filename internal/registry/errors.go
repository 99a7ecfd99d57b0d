package registry

import "errors"

var (
	ErrImageReference = errors.New("invalid image reference")
	ErrAuth           = errors.New("registry authentication failed")
	ErrManifest       = errors.New("manifest resolution failed")
	ErrBlobFetch      = errors.New("blob fetch failed")
)
