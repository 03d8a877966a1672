package domain

import "errors"

var (
	ErrPermissionDenied      = errors.New("permission denied")
	ErrDeviceUnavailable     = errors.New("device unavailable")
	ErrDeviceBusy            = errors.New("device busy")
	ErrNegotiationFailed     = errors.New("negotiation failed")
	ErrNegotiationInProgress = errors.New("negotiation in progress")
	ErrTransportDisconnected = errors.New("transport disconnected")
	ErrStaleSignal           = errors.New("stale signal")
	ErrInvalidTransition     = errors.New("invalid transition")
	ErrNoActiveCall          = errors.New("no active call")
	ErrLinkClosed            = errors.New("link closed")
	ErrStopped               = errors.New("coordinator stopped")
	ErrUnknownMode           = errors.New("unknown call mode")
	ErrUnknownChat           = errors.New("unknown chat")
)

// ReasonOf maps an error onto the reason reported on the wire and in the projection.
func ReasonOf(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrPermissionDenied):
		return ReasonPermissionDenied
	case errors.Is(err, ErrDeviceUnavailable), errors.Is(err, ErrDeviceBusy):
		return ReasonDeviceUnavailable
	case errors.Is(err, ErrNegotiationFailed):
		return ReasonNegotiationFailed
	case errors.Is(err, ErrTransportDisconnected):
		return ReasonTransportLost
	default:
		return ReasonInternal
	}
}
