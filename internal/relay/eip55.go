package relay

import (
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/sha3"
)

var ErrInvalidAddress = errors.New("invalid address")

// ChecksumAddress returns the EIP-55 mixed-case form of a 20-byte hex
// address. The 0x prefix is optional on input and always present on output.
func ChecksumAddress(address string) (string, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(address, "0x"), "0X")
	if len(raw) != 40 {
		return "", ErrInvalidAddress
	}
	lower := strings.ToLower(raw)
	if _, err := hex.DecodeString(lower); err != nil {
		return "", ErrInvalidAddress
	}

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := make([]byte, 0, 42)
	out = append(out, '0', 'x')
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		// Nibble i of the digest decides the case of character i.
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if c >= 'a' && c <= 'f' && nibble&0x0f >= 8 {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out), nil
}
