// Package rkey implements the sortable base32 codec used by record keys.
//
// A record key is 13 characters from a 32-symbol alphabet. Each character
// carries 5 bits, most significant first. The leading 11 characters encode
// a creation timestamp in microseconds since the Unix epoch; the trailing
// 2 characters encode a per-writer clock identifier that disambiguates keys
// minted in the same microsecond.
package rkey

import (
	"errors"
	"fmt"
	"strings"
)

// Alphabet is the sortable base32 alphabet. Lexical order of encoded
// strings of equal length matches numeric order.
const Alphabet = "234567abcdefghijklmnopqrstuvwxyz"

// KeyLen is the length of a well-formed record key.
const KeyLen = 13

// clockLen is the number of trailing characters holding the clock id.
const clockLen = 2

// ErrInvalidCharacter is returned by Decode for characters outside Alphabet.
var ErrInvalidCharacter = errors.New("rkey: invalid character")

// ErrMalformedKey is returned by Parse for keys that are not exactly
// KeyLen alphanumeric characters.
var ErrMalformedKey = errors.New("rkey: malformed key")

var decodeTable = func() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		t[Alphabet[i]] = int8(i)
	}
	return t
}()

// Encode returns the base32 representation of v. Zero encodes as the single
// character "2" (the zero digit) so that every value has a non-empty form.
func Encode(v uint64) string {
	if v == 0 {
		return Alphabet[:1]
	}
	var buf [13]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = Alphabet[v%32]
		v /= 32
	}
	return string(buf[i:])
}

// Decode parses s as a base32 value. s must be non-empty; 13 characters is
// the longest input that fits in 64 bits.
func Decode(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty input", ErrInvalidCharacter)
	}
	if len(s) > 13 || (len(s) == 13 && decodeTable[s[0]] > 15) {
		return 0, fmt.Errorf("rkey: %q overflows 64 bits", s)
	}
	var v uint64
	for i := 0; i < len(s); i++ {
		d := decodeTable[s[i]]
		if d < 0 {
			return 0, fmt.Errorf("%w %q at offset %d", ErrInvalidCharacter, s[i], i)
		}
		v = v<<5 | uint64(d)
	}
	return v, nil
}

// Key is a decoded record key.
type Key struct {
	Micros  int64  // embedded creation time, microseconds since epoch
	ClockID uint64 // per-writer discriminator
}

// Millis returns the embedded timestamp in milliseconds, the unit used for
// all ordering.
func (k Key) Millis() int64 { return k.Micros / 1000 }

// WellFormed reports whether s has the record key shape: exactly KeyLen
// ASCII letters or digits. A well-formed key may still fail to Decode.
func WellFormed(s string) bool {
	if len(s) != KeyLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z') {
			return false
		}
	}
	return true
}

// Parse splits a record key into its timestamp and clock id.
func Parse(s string) (Key, error) {
	if !WellFormed(s) {
		return Key{}, fmt.Errorf("%w: %q", ErrMalformedKey, s)
	}
	ts, err := Decode(s[:KeyLen-clockLen])
	if err != nil {
		return Key{}, err
	}
	clk, err := Decode(s[KeyLen-clockLen:])
	if err != nil {
		return Key{}, err
	}
	return Key{Micros: int64(ts), ClockID: clk}, nil
}

// New builds a record key from a microsecond timestamp and clock id,
// left-padding each part with the zero digit.
func New(micros int64, clockID uint64) string {
	ts := Encode(uint64(micros))
	clk := Encode(clockID % (32 * 32))
	return pad(ts, KeyLen-clockLen) + pad(clk, clockLen)
}

func pad(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat(Alphabet[:1], n-len(s)) + s
}
