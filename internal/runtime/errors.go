package runtime

import "errors"

var (
	ErrSpawn      = errors.New("failed to spawn command")
	ErrStreamRead = errors.New("failed to read command output")
	ErrWait       = errors.New("failed to wait for command")
)
