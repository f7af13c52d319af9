package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and engine adapters return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources or requests:
// - ErrNotFound: row or index does not exist in the store/engine
// - ErrConflict: uniqueness or compare-and-set condition lost
// - ErrExpired: token past its expiry horizon
// - ErrInvalidState: resource in wrong state for requested operation
// - ErrInvalidArgument: caller-supplied input failed validation
// - ErrUnavailable: store or engine temporarily unreachable
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrExpired         = errors.New("expired")
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnavailable     = errors.New("unavailable")
)
