package sandbox

import "errors"

var (
	ErrSandboxSetup = errors.New("sandbox setup failed")
)
