package podium

import (
	"errors"

	"github.com/mattjoyce/podium/internal/pod"
	"github.com/mattjoyce/podium/internal/resolver"
)

// Error kinds. Dispatch and supervisor kinds come from the pod engine,
// resolver kinds from the registry resolver; the facade adds the two
// registration errors. Match with errors.Is.
var (
	ErrPodSpawn       = pod.ErrSpawn
	ErrPodHandshake   = pod.ErrHandshake
	ErrPodTerminated  = pod.ErrTerminated
	ErrPodTimeout     = pod.ErrTimeout
	ErrPodCancelled   = pod.ErrCancelled
	ErrEnvelopeDecode = pod.ErrEnvelopeDecode
	ErrFormatDecode   = pod.ErrFormatDecode
	ErrFormatEncode   = pod.ErrFormatEncode

	ErrChecksumMismatch    = resolver.ErrChecksumMismatch
	ErrPlatformUnsupported = resolver.ErrPlatformUnsupported
	ErrManifestMissing     = resolver.ErrManifestMissing

	// ErrNoActivePod means handler registration happened outside any pod
	// context and without an explicit pod id.
	ErrNoActivePod = errors.New("no active pod")

	// ErrWrongFormat means handler registration targeted a format the pod
	// did not negotiate.
	ErrWrongFormat = errors.New("pod uses a different payload format")

	// ErrPodNotFound means the given pod id is not loaded.
	ErrPodNotFound = errors.New("pod not found")
)

// PodError is an error reply from the pod: message plus decoded ex-data.
type PodError = pod.PodError
