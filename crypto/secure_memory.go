package crypto

import (
	"crypto/subtle"
	"errors"
	"runtime"
)

// SecureWipe attempts to securely erase the contents of a byte slice
// containing sensitive data. It returns an error if the byte slice is nil.
//
// This function uses subtle.XORBytes to perform a constant-time XOR operation
// that the compiler cannot optimize away. XORing data with itself (x XOR x = 0)
// securely zeros the data while providing resistance to compiler optimizations.
func SecureWipe(data []byte) error {
	if data == nil {
		log.Warn("cannot wipe nil data")
		return errors.New("cannot wipe nil data")
	}

	// Overwrite the data with zeros using XOR operation
	// subtle.XORBytes performs constant-time XOR that compilers cannot optimize away
	// XORing data with itself: x XOR x = 0
	subtle.XORBytes(data, data, data)

	// Prevent compiler from optimizing out the zeroing
	runtime.KeepAlive(data)

	return nil
}

// ZeroBytes erases the contents of a byte slice containing sensitive data.
// This is a convenience function that ignores the error from SecureWipe.
func ZeroBytes(data []byte) {
	_ = SecureWipe(data)
}

// WipeAll securely erases a group of related secrets, such as an SRTP
// master key together with its salt. Nil slices in the group are
// skipped; the first wipe error is returned after every buffer has been
// attempted.
func WipeAll(bufs ...[]byte) error {
	var firstErr error
	for _, b := range bufs {
		if b == nil {
			continue
		}
		if err := SecureWipe(b); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
