// Package idgen mints and parses Sandchest resource ids: a short
// prefix followed by a fixed 22-character base62 encoding of a 16-byte
// UUIDv7.
package idgen

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
const encodedLength = 22

// Resource id prefixes.
const (
	SandboxPrefix  = "sb_"
	ExecPrefix     = "ex_"
	SessionPrefix  = "sess_"
	ArtifactPrefix = "art_"
	ImagePrefix    = "img_"
	ProfilePrefix  = "prof_"
	NodePrefix     = "node_"
	ProjectPrefix  = "proj_"
)

var sixtyTwo = big.NewInt(62)

// GenerateUUIDv7 returns a fresh UUIDv7 as raw 16 bytes.
func GenerateUUIDv7() [16]byte {
	u := uuid.Must(uuid.NewV7())
	var b [16]byte
	copy(b[:], u[:])
	return b
}

// Base62Encode encodes 16 bytes as a fixed-length 22-character base62
// string, treating the input as a big-endian 128-bit integer.
func Base62Encode(bytes [16]byte) string {
	num := new(big.Int).SetBytes(bytes[:])
	out := make([]byte, encodedLength)
	rem := new(big.Int)
	for i := encodedLength - 1; i >= 0; i-- {
		num.DivMod(num, sixtyTwo, rem)
		out[i] = alphabet[rem.Int64()]
	}
	return string(out)
}

// Base62Decode decodes a 22-character base62 string back to 16 bytes.
func Base62Decode(s string) ([16]byte, error) {
	var out [16]byte
	if len(s) != encodedLength {
		return out, fmt.Errorf("idgen: expected %d characters, got %d", encodedLength, len(s))
	}
	num := new(big.Int)
	for i := 0; i < len(s); i++ {
		c := s[i]
		var idx int64
		switch {
		case c >= '0' && c <= '9':
			idx = int64(c - '0')
		case c >= 'A' && c <= 'Z':
			idx = int64(c-'A') + 10
		case c >= 'a' && c <= 'z':
			idx = int64(c-'a') + 36
		default:
			return out, fmt.Errorf("idgen: invalid base62 character: %c", c)
		}
		num.Mul(num, sixtyTwo)
		num.Add(num, big.NewInt(idx))
	}
	b := num.Bytes()
	if len(b) > 16 {
		return out, fmt.Errorf("idgen: decoded value overflows 16 bytes")
	}
	copy(out[16-len(b):], b)
	return out, nil
}

// GenerateID returns a fresh prefixed id: {prefix}{base62(uuidv7)}.
func GenerateID(prefix string) string {
	return BytesToID(prefix, GenerateUUIDv7())
}

// BytesToID encodes raw bytes to a prefixed id.
func BytesToID(prefix string, bytes [16]byte) string {
	return prefix + Base62Encode(bytes)
}

// ParseID splits a prefixed id back into its prefix (including the
// trailing underscore) and raw 16 bytes.
func ParseID(id string) (prefix string, bytes [16]byte, err error) {
	idx := -1
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '_' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", bytes, fmt.Errorf("idgen: invalid id format: missing prefix separator")
	}
	prefix = id[:idx+1]
	bytes, err = Base62Decode(id[idx+1:])
	return prefix, bytes, err
}

// IDToBytes strips the prefix and decodes the raw 16 bytes.
func IDToBytes(id string) ([16]byte, error) {
	_, bytes, err := ParseID(id)
	return bytes, err
}
