// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package synckey

import (
	"context"
	"errors"
	"fmt"

	"github.com/MKhiriev/go-activesync-state/internal/utils"
)

// ErrCollisionExhausted is returned when every freshly generated series id
// was already in use.
var ErrCollisionExhausted = errors.New("sync key collision retries exhausted")

// DefaultMaxAttempts is used when a Generator is built with a non-positive limit.
const DefaultMaxAttempts = 5

// SeriesChecker reports whether a series uid ({uuid}) is already used by
// some stored state.
type SeriesChecker func(ctx context.Context, uid string) (bool, error)

// Generator mints new sync keys.
type Generator struct {
	maxAttempts int
	newUUID     func() string
}

// NewGenerator returns a Generator that gives up after maxAttempts collisions.
func NewGenerator(maxAttempts int) *Generator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Generator{
		maxAttempts: maxAttempts,
		newUUID:     utils.NewUUIDGenerator().Generate,
	}
}

// NewSeries returns the first key ({uuid}1) of a series no stored state
// uses yet.
func (g *Generator) NewSeries(ctx context.Context, inUse SeriesChecker) (Key, error) {
	for range g.maxAttempts {
		k := Key{UUID: g.newUUID(), Counter: 1}
		if inUse == nil {
			return k, nil
		}
		used, err := inUse(ctx, k.UID())
		if err != nil {
			return Key{}, fmt.Errorf("checking sync key series: %w", err)
		}
		if !used {
			return k, nil
		}
	}
	return Key{}, fmt.Errorf("%w after %d attempts", ErrCollisionExhausted, g.maxAttempts)
}

// Mint returns the key that follows current, or the first key of a new
// series when current is empty.
func (g *Generator) Mint(ctx context.Context, current string, inUse SeriesChecker) (Key, error) {
	if current == "" {
		return g.NewSeries(ctx, inUse)
	}
	k, err := Parse(current)
	if err != nil {
		return Key{}, err
	}
	return k.Next(), nil
}
