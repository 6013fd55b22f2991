// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package utils

import (
	"context"
	"testing"
)

func TestContextKeyString(t *testing.T) {
	key := contextKey("testKey")
	if key.String() != "testKey" {
		t.Errorf("expected 'testKey', got '%s'", key.String())
	}
}

func TestDeviceCtxKey(t *testing.T) {
	if DeviceCtxKey.String() != "device" {
		t.Errorf("expected 'device', got '%s'", DeviceCtxKey.String())
	}
}

func TestGetDeviceFromContext_Success(t *testing.T) {
	ctx := WithDevice(context.Background(), "SEC1234", "alice")

	id, ok := GetDeviceFromContext(ctx)

	if !ok {
		t.Fatal("expected ok=true, got false")
	}
	if id.DeviceID != "SEC1234" || id.User != "alice" {
		t.Errorf("unexpected identity %+v", id)
	}
}

func TestGetDeviceFromContext_Missing(t *testing.T) {
	id, ok := GetDeviceFromContext(context.Background())

	if ok {
		t.Fatal("expected ok=false, got true")
	}
	if id != (DeviceIdentity{}) {
		t.Errorf("expected zero identity, got %+v", id)
	}
}

func TestGetDeviceFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DeviceCtxKey, "SEC1234")

	_, ok := GetDeviceFromContext(ctx)

	if ok {
		t.Fatal("expected ok=false for wrong type, got true")
	}
}
