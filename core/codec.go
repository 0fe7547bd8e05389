package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Marshal serializes an envelope to its self-describing JSON record form.
func Marshal(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a persisted record back into an envelope and validates
// the required fields.
func Unmarshal(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Canonicalize returns the RFC 8785 (JCS) canonical JSON form of the
// envelope: sorted keys, no insignificant whitespace. This is the byte form
// over which signatures and content hashes are computed.
func Canonicalize(env Envelope) ([]byte, error) {
	data, err := Marshal(env)
	if err != nil {
		return nil, err
	}
	canonical, err := jcs.Transform(data)
	if err != nil {
		return nil, fmt.Errorf("canonicalize envelope: %w", err)
	}
	return canonical, nil
}

// ContentHash computes the sha256 digest of the canonical envelope form,
// prefixed with the algorithm. Two envelopes with identical content always
// hash identically regardless of field order at serialization time.
func ContentHash(env Envelope) (string, error) {
	canonical, err := Canonicalize(env)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
