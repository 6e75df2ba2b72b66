package simulator

import "errors"

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrInvalidInput  = errors.New("invalid job input")
	ErrUnknownKind   = errors.New("unknown executor")
	ErrSimulatorDown = errors.New("simulator is shut down")
)
