package service

import (
	"errors"

	"github.com/MKhiriev/go-activesync-state/internal/store"
	"github.com/MKhiriev/go-activesync-state/internal/synckey"
)

var (
	ErrInvalidSyncKey = synckey.ErrInvalidFormat
	ErrStateGone      = store.ErrStateGone
	ErrDeviceNotFound = store.ErrDeviceNotFound
	ErrNotImplemented = store.ErrNotImplemented

	// ErrStaleState means the backend changed the collection since the
	// state was loaded. The client retries with the same key.
	ErrStaleState = errors.New("backend state changed since state was loaded")

	ErrNotLoaded               = errors.New("sync state not loaded")
	ErrDeviceNotLoaded         = errors.New("device not loaded")
	ErrInvalidState            = errors.New("operation not allowed in current session state")
	ErrCollisionExhausted      = synckey.ErrCollisionExhausted
	ErrPingStateNotInitialized = errors.New("ping state not initialized")
)
