package isolation

import "errors"

var (
	ErrConfinement     = errors.New("filesystem confinement failed")
	ErrAlreadyConfined = errors.New("process already confined")
	ErrNamespace       = errors.New("namespace isolation failed")
)
