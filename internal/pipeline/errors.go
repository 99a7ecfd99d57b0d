package pipeline

import "errors"

var (
	ErrPipeline = errors.New("pipeline failed")
)
