// Package blob persists the vault's single sealed document.
//
// On disk a blob is: magic "STWV" | version (uint64, big endian) | sealed
// payload. The 12-byte header is also the AEAD additional data, so editing
// the version out-of-band breaks decryption. Saves carry the version the
// writer loaded and fail with sentinel.ErrConflict if the stored version
// moved in the meantime.
package blob

import (
	"context"
	"encoding/binary"
	"fmt"

	"steward/pkg/platform/sentinel"
)

// Magic prefixes every vault file.
var Magic = [4]byte{'S', 'T', 'W', 'V'}

// HeaderSize is the length of magic plus version.
const HeaderSize = 12

// Blob is one persisted generation of the vault.
type Blob struct {
	Version uint64
	Sealed  []byte
}

// Store is implemented by blob backends.
type Store interface {
	// Load returns sentinel.ErrNotFound when nothing has been saved.
	Load(ctx context.Context) (Blob, error)
	// Save writes b if the stored version equals expected (0 when empty).
	Save(ctx context.Context, b Blob, expected uint64) error
	// Salt returns the key derivation salt, sentinel.ErrNotFound if unset.
	Salt(ctx context.Context) ([]byte, error)
	// InitSalt stores salt once; a second call fails with sentinel.ErrConflict.
	InitSalt(ctx context.Context, salt []byte) error
}

// AAD returns the header bytes for version, used as additional data.
func AAD(version uint64) []byte {
	h := make([]byte, HeaderSize)
	copy(h, Magic[:])
	binary.BigEndian.PutUint64(h[4:], version)
	return h
}

// Encode renders b in file form.
func Encode(b Blob) []byte {
	return append(AAD(b.Version), b.Sealed...)
}

// Decode parses file form.
func Decode(data []byte) (Blob, error) {
	if len(data) < HeaderSize || [4]byte(data[:4]) != Magic {
		return Blob{}, fmt.Errorf("vault file header invalid: %w", sentinel.ErrCorrupted)
	}
	return Blob{
		Version: binary.BigEndian.Uint64(data[4:HeaderSize]),
		Sealed:  append([]byte(nil), data[HeaderSize:]...),
	}, nil
}

func checkNext(b Blob, expected uint64) error {
	if b.Version != expected+1 {
		return fmt.Errorf("blob version %d does not follow %d: %w", b.Version, expected, sentinel.ErrInvalidState)
	}
	return nil
}
