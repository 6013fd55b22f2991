// Package utils provides general-purpose helper utilities
// used across different parts of the application.
// Includes tools for working with context, type-safe keys, series id
// generation and per-key locking.
package utils

import (
	"context"
)

// contextKey is a private type for context keys.
// Using a dedicated type instead of a plain string prevents key collisions
// with other packages that may use string-based keys in the context.
type contextKey string

// String returns the string representation of the context key.
// Implements the fmt.Stringer interface.
func (c contextKey) String() string {
	return string(c)
}

// DeviceCtxKey is the key used to store the device identity of a sync
// request in the context.
var DeviceCtxKey = contextKey("device")

// DeviceIdentity names the device and user a request runs for.
type DeviceIdentity struct {
	DeviceID string
	User     string
}

// WithDevice returns a copy of ctx carrying the device identity.
//
// Example:
//
//	ctx = utils.WithDevice(ctx, "SEC1234", "alice")
func WithDevice(ctx context.Context, deviceID, user string) context.Context {
	return context.WithValue(ctx, DeviceCtxKey, DeviceIdentity{DeviceID: deviceID, User: user})
}

// GetDeviceFromContext retrieves the device identity from the context.
//
// Returns the identity and an ok flag:
//   - ok == true: value is found and has the correct type
//   - ok == false: value is missing or has an unexpected type
func GetDeviceFromContext(ctx context.Context) (DeviceIdentity, bool) {
	id, ok := ctx.Value(DeviceCtxKey).(DeviceIdentity)
	return id, ok
}
