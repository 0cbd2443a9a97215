package internal

import (
	"crypto/rand"
	"runtime"
)

// MemClr wipes a buffer with zeroes.
func MemClr(buf []byte) {
	clear(buf)
}

// FillRandom overwrites a buffer with cryptographically-secure random bytes.
func FillRandom(buf []byte) {
	fillRandom(buf, rand.Read)
}

func fillRandom(buf []byte, r func([]byte) (int, error)) {
	if _, err := r(buf); err != nil {
		panic(err)
	}

	// Prevent dead store elimination in case a caller wants the backing array
	// randomized even if no longer used. See https://github.com/golang/go/issues/33325
	runtime.KeepAlive(buf)
}

// GetRandBytes returns a slice of the specified length filled with
// cryptographically-secure random bytes.
func GetRandBytes(n int) []byte {
	buf := make([]byte, n)
	FillRandom(buf)

	return buf
}
