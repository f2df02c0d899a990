package otp

import (
	"math/rand/v2"
	"strconv"
)

const (
	Length  = 6
	lowest  = 100000
	highest = 999999
)

// Generator returns a fresh verification code.
type Generator func() string

// Generate returns a 6 digit code sampled uniformly from [100000, 999999].
// Codes are short lived and delivered by email so math/rand is enough.
func Generate() string {
	return strconv.Itoa(lowest + rand.IntN(highest-lowest+1))
}

// Valid reports whether s looks like a code produced by Generate.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
