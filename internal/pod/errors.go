package pod

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the supervisor and dispatch engine. Callers match
// with errors.Is.
var (
	ErrSpawn          = errors.New("pod spawn failed")
	ErrHandshake      = errors.New("pod handshake failed")
	ErrTerminated     = errors.New("pod terminated unexpectedly")
	ErrTimeout        = errors.New("pod invoke deadline expired")
	ErrCancelled      = errors.New("pod unloaded while call pending")
	ErrEnvelopeDecode = errors.New("envelope decode failed")
	ErrFormatDecode   = errors.New("payload decode failed")
	ErrFormatEncode   = errors.New("payload encode failed")
)

// PodError is an error reply from the pod itself: a status set containing
// "error" with ex-message and decoded ex-data.
type PodError struct {
	Message string
	Data    any
}

func (e *PodError) Error() string {
	return fmt.Sprintf("pod error: %s", e.Message)
}
