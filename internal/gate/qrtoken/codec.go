package qrtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/colonia-access/gatekeeper/internal/gate/types"
)

// Payload layout (version 1), 34 bytes before the MAC:
//
//	[0]     version
//	[1]     purpose (1 = vehicular, 2 = pedestrian)
//	[2:18]  token id (UUID bytes)
//	[18:26] issuedAt, unix seconds, big endian
//	[26:34] expiresAt, unix seconds, big endian
//	[34:44] HMAC-SHA256(key, payload[0:34]) truncated to 10 bytes
//
// The whole thing base64url-encodes to 59 characters, well inside what a
// low-version QR symbol holds, and carries everything needed to validate
// the token with no remote lookup.
const (
	Version1 = 0x01

	payloadLen = 34
	macLen     = 10
	totalLen   = payloadLen + macLen

	// MaxEncodedLen is the hard bound on the encoded string. QR version 3
	// with medium error correction holds 61 byte-mode characters; staying
	// under it keeps the printed code readable by cheap scanners.
	MaxEncodedLen = 61
)

var (
	ErrMalformed          = errors.New("qrtoken: malformed payload")
	ErrIntegrityMismatch  = errors.New("qrtoken: integrity mismatch")
	ErrUnsupportedVersion = errors.New("qrtoken: unsupported payload version")
)

const (
	purposeVehicular  = 0x01
	purposePedestrian = 0x02
)

// Codec encodes and decodes QR token payloads with a shared integrity key.
type Codec struct {
	key []byte
}

// New returns a codec for the given key. Keys shorter than 16 bytes are
// refused; the key is what makes a forged payload detectable.
func New(key []byte) (*Codec, error) {
	if len(key) < 16 {
		return nil, errors.New("qrtoken: integrity key must be at least 16 bytes")
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Codec{key: k}, nil
}

// Encode produces the QR-embeddable string for a token. Encoding is
// deterministic: the same token and key always yield the same string.
func (c *Codec) Encode(t types.AccessToken) (string, error) {
	id, err := uuid.Parse(t.ID)
	if err != nil {
		return "", fmt.Errorf("qrtoken: token id is not a UUID: %w", err)
	}

	var pb byte
	switch t.Purpose {
	case types.PurposeVehicular:
		pb = purposeVehicular
	case types.PurposePedestrian:
		pb = purposePedestrian
	default:
		return "", fmt.Errorf("qrtoken: unknown purpose %q", t.Purpose)
	}

	if !t.ExpiresAt.After(t.IssuedAt) {
		return "", errors.New("qrtoken: expiresAt must be after issuedAt")
	}

	buf := make([]byte, totalLen)
	buf[0] = Version1
	buf[1] = pb
	copy(buf[2:18], id[:])
	binary.BigEndian.PutUint64(buf[18:26], uint64(t.IssuedAt.Unix()))
	binary.BigEndian.PutUint64(buf[26:34], uint64(t.ExpiresAt.Unix()))
	copy(buf[payloadLen:], c.mac(buf[:payloadLen]))

	encoded := base64.RawURLEncoding.EncodeToString(buf)
	if len(encoded) > MaxEncodedLen {
		// Fixed layout makes this unreachable; the guard keeps the
		// QR-capacity contract honest if the layout ever grows.
		return "", fmt.Errorf("qrtoken: encoded payload %d chars exceeds %d", len(encoded), MaxEncodedLen)
	}
	return encoded, nil
}

// Decode parses and verifies an encoded payload. The returned token has
// Status zeroed: lifecycle state belongs to the local store, not the code.
func (c *Codec) Decode(encoded string) (types.AccessToken, error) {
	if len(encoded) == 0 || len(encoded) > MaxEncodedLen {
		return types.AccessToken{}, ErrMalformed
	}

	buf, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return types.AccessToken{}, ErrMalformed
	}
	if len(buf) != totalLen {
		return types.AccessToken{}, ErrMalformed
	}

	// Version gates the MAC check: a future layout may authenticate
	// differently, so an unknown version is reported as such rather
	// than as tampering.
	if buf[0] != Version1 {
		return types.AccessToken{}, ErrUnsupportedVersion
	}

	if !hmac.Equal(buf[payloadLen:], c.mac(buf[:payloadLen])) {
		return types.AccessToken{}, ErrIntegrityMismatch
	}

	var purpose types.Purpose
	switch buf[1] {
	case purposeVehicular:
		purpose = types.PurposeVehicular
	case purposePedestrian:
		purpose = types.PurposePedestrian
	default:
		return types.AccessToken{}, ErrMalformed
	}

	var id uuid.UUID
	copy(id[:], buf[2:18])

	issued := time.Unix(int64(binary.BigEndian.Uint64(buf[18:26])), 0).UTC()
	expires := time.Unix(int64(binary.BigEndian.Uint64(buf[26:34])), 0).UTC()
	if !expires.After(issued) {
		return types.AccessToken{}, ErrMalformed
	}

	return types.AccessToken{
		ID:        id.String(),
		IssuedAt:  issued,
		ExpiresAt: expires,
		Purpose:   purpose,
	}, nil
}

func (c *Codec) mac(payload []byte) []byte {
	h := hmac.New(sha256.New, c.key)
	h.Write(payload)
	return h.Sum(nil)[:macLen]
}
