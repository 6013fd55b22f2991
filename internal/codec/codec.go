// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package codec serializes snapshots and pending change lists into the
// opaque blobs kept by every state store backend.
//
// A blob is a fixed header followed by the payload:
//
//	magic "ASST" | version (1) | compression (1) | raw length (4, BE) | blake3 (16) | payload
//
// The payload is the CBOR Core Deterministic encoding of the value,
// optionally compressed. The checksum covers the uncompressed bytes.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// Version is the envelope version written by Encode.
const Version byte = 1

const (
	checksumSize = 16
	headerSize   = 4 + 1 + 1 + 4 + checksumSize
)

// MaxPayloadSize bounds the uncompressed payload of a blob. Decode checks
// the size stored in the header against it before allocating.
const MaxPayloadSize = 64 << 20

var magic = []byte("ASST")

var (
	ErrShortBlob          = errors.New("state blob too short")
	ErrBadMagic           = errors.New("state blob has unknown magic")
	ErrUnsupportedVersion = errors.New("unsupported state blob version")
	ErrChecksumMismatch   = errors.New("state blob checksum mismatch")
	ErrBlobTooLarge       = errors.New("state blob payload too large")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Codec encodes values with a fixed compression setting.
type Codec struct {
	compression Compression
}

// New returns a Codec compressing with c.
func New(c Compression) *Codec {
	return &Codec{compression: c}
}

// Encode serializes v into a blob.
func (c *Codec) Encode(v any) ([]byte, error) {
	return Encode(v, c.compression)
}

// Decode reads a blob produced by any Codec into v.
func (c *Codec) Decode(data []byte, v any) error {
	return Decode(data, v)
}

// Encode serializes v using compression c. Payloads that do not shrink are
// stored uncompressed.
func Encode(v any, c Compression) ([]byte, error) {
	raw, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}
	if len(raw) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBlobTooLarge, len(raw))
	}

	payload, err := compress(raw, c)
	switch {
	case errors.Is(err, errIncompressible):
		payload, c = raw, CompressionNone
	case err != nil:
		return nil, err
	}

	sum := blake3.Sum256(raw)

	var buf bytes.Buffer
	buf.Grow(headerSize + len(payload))
	buf.Write(magic)
	buf.WriteByte(Version)
	buf.WriteByte(byte(c))
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(raw)))
	buf.Write(sum[:checksumSize])
	buf.Write(payload)

	return buf.Bytes(), nil
}

// Decode parses a blob and unmarshals its payload into v.
func Decode(data []byte, v any) error {
	if len(data) < headerSize {
		return ErrShortBlob
	}
	if !bytes.Equal(data[:4], magic) {
		return ErrBadMagic
	}
	if data[4] != Version {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, data[4])
	}
	c := Compression(data[5])
	rawLen := int(binary.BigEndian.Uint32(data[6:10]))
	if rawLen > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes", ErrBlobTooLarge, rawLen)
	}
	want := data[10:headerSize]

	raw, err := decompress(data[headerSize:], c, rawLen)
	if err != nil {
		return err
	}

	sum := blake3.Sum256(raw)
	if !bytes.Equal(sum[:checksumSize], want) {
		return ErrChecksumMismatch
	}

	if err := decMode.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("codec: unmarshal: %w", err)
	}
	return nil
}
