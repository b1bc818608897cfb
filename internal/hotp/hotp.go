// Package hotp validates RFC 4226 counter-based one-time passwords against a
// primary hardware credential and up to two backups.
package hotp

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
)

// DefaultDigits is the code length YubiKey-style tokens emit.
const DefaultDigits = 6

var powers = [...]uint32{1, 10, 100, 1000, 10000, 100000, 1000000, 10000000, 100000000}

// Generate computes the HOTP value for secret at counter using HMAC-SHA1 and
// dynamic truncation. digits must be 6, 7 or 8.
func Generate(secret []byte, counter uint64, digits int) (string, error) {
	if digits < 6 || digits > 8 {
		return "", fmt.Errorf("unsupported digit count %d", digits)
	}
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%0*d", digits, bin%powers[digits]), nil
}
