package placement

import "errors"

var (
	ErrInvalidPlacementConfig = errors.New("invalid placement config")
	ErrMissingHostList        = errors.New("remote placement requires a host list")
)
