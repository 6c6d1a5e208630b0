package download

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrChecksumMismatch is wrapped by every failed verification.
var ErrChecksumMismatch = errors.New("checksum mismatch")

type checksumError struct {
	expected string
	actual   string
}

func (e *checksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected %s, got %s", e.expected, e.actual)
}

func (e *checksumError) Unwrap() error { return ErrChecksumMismatch }

func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyFileChecksum checks path against a hex sha256. An empty expectation
// always passes.
func VerifyFileChecksum(path, expectedSHA256 string) error {
	expected := strings.ToLower(strings.TrimSpace(expectedSHA256))
	if expected == "" {
		return nil
	}

	actual, err := FileSHA256(path)
	if err != nil {
		return err
	}
	if actual != expected {
		return &checksumError{expected: expected, actual: actual}
	}
	return nil
}
