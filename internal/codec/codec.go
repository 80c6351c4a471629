// Package codec implements the byte-level transforms of the Growatt v6
// wire format: the XOR descrambler and the hex/ASCII helpers the message
// decoder builds on.
package codec

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// HeaderLen is the number of leading bytes left untouched by Unscramble.
const HeaderLen = 8

// keystream is XORed, repeating, against every byte from HeaderLen onward.
var keystream = []byte("Growatt")

// ErrShortFrame is returned when a frame is too short to contain a header.
var ErrShortFrame = errors.New("codec: frame shorter than header")

// ErrBadHex is returned when HexToBytes is given a string that isn't valid
// hex (odd length or a non-hex-digit byte).
var ErrBadHex = errors.New("codec: invalid hex string")

// Unscramble reverses the datalogger's XOR scrambling. The first HeaderLen
// bytes are copied verbatim; every byte after that is XORed against
// keystream, repeating from the start of the keystream at byte HeaderLen.
// The same function scrambles and unscrambles: XOR is its own inverse.
func Unscramble(data []byte) ([]byte, error) {
	if len(data) < HeaderLen {
		return nil, fmt.Errorf("%w: %d bytes instead of %d", ErrShortFrame, len(data), HeaderLen)
	}

	out := make([]byte, len(data))
	copy(out, data[:HeaderLen])

	for i := HeaderLen; i < len(data); i++ {
		out[i] = data[i] ^ keystream[(i-HeaderLen)%len(keystream)]
	}

	return out, nil
}

// BytesToASCII maps each byte to the rune of the same ordinal value
// (Latin-1), the way the reference decoder casts raw serial-number and
// string-fragment bytes to characters without treating them as UTF-8.
func BytesToASCII(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

// HexToBytes decodes a hex string such as one read from a decrypt-mode
// message file. It rejects odd-length or non-hex input.
func HexToBytes(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHex, err)
	}
	return b, nil
}

// BytesToHex is the inverse of HexToBytes, used when logging or
// round-tripping raw frames.
func BytesToHex(b []byte) string {
	return hex.EncodeToString(b)
}
