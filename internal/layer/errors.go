package layer

import "errors"

var (
	ErrExtraction = errors.New("layer extraction failed")
)
