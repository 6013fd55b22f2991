// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package synckey implements the {uuid}counter sync cursor used by
// ActiveSync clients to acknowledge a generation of synchronized state.
//
// A key is made of a series id (the braced uuid) and a counter that grows
// by exactly one on every successful request. The series is what garbage
// collection and collision checks key on.
package synckey

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrInvalidFormat is returned for any string that is not {GUID}N.
var ErrInvalidFormat = errors.New("invalid sync key format")

var keyPattern = regexp.MustCompile(`^\{([0-9A-Za-z-]+)\}([0-9]+)$`)

// Key is a parsed sync key.
type Key struct {
	UUID    string
	Counter int64
}

// Parse splits s into its uuid and counter.
func Parse(s string) (Key, error) {
	m := keyPattern.FindStringSubmatch(s)
	if m == nil {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	n, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: %w", ErrInvalidFormat, s, err)
	}
	return Key{UUID: m[1], Counter: n}, nil
}

// Format builds the string form of a key.
func Format(uuid string, counter int64) string {
	return "{" + uuid + "}" + strconv.FormatInt(counter, 10)
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return Format(k.UUID, k.Counter)
}

// UID returns the braced series part of the key.
func (k Key) UID() string {
	return "{" + k.UUID + "}"
}

// Next returns the following key in the same series.
func (k Key) Next() Key {
	return Key{UUID: k.UUID, Counter: k.Counter + 1}
}

// Previous returns the key of the prior generation. It is only meaningful
// when Counter > 1.
func (k Key) Previous() Key {
	return Key{UUID: k.UUID, Counter: k.Counter - 1}
}

// IsFirstInSeries reports whether the key starts a new series.
func (k Key) IsFirstInSeries() bool {
	return k.Counter == 1
}

// Next parses s and returns the string form of the following key.
func Next(s string) (string, error) {
	k, err := Parse(s)
	if err != nil {
		return "", err
	}
	return k.Next().String(), nil
}

// Counter returns the counter of s.
func Counter(s string) (int64, error) {
	k, err := Parse(s)
	if err != nil {
		return 0, err
	}
	return k.Counter, nil
}

// UID returns the braced series part of s.
func UID(s string) (string, error) {
	k, err := Parse(s)
	if err != nil {
		return "", err
	}
	return k.UID(), nil
}

// IsFirstInSeries reports whether s has counter 1.
func IsFirstInSeries(s string) (bool, error) {
	k, err := Parse(s)
	if err != nil {
		return false, err
	}
	return k.IsFirstInSeries(), nil
}
