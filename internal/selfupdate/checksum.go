package selfupdate

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// CalculateSHA256 returns the hex SHA-256 of everything read from r.
func CalculateSHA256(r io.Reader) (string, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", errors.Wrap(err, "failed to read data for checksum")
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

// FileChecksum opens path through fs and returns its SHA-256.
func FileChecksum(fs FileSystem, path string) (string, error) {
	file, err := fs.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open file: %s", path)
	}
	defer file.Close()

	return CalculateSHA256(file)
}

// SameContent reports whether a and b hold identical bytes.
func SameContent(fs FileSystem, a, b string) (bool, error) {
	sumA, err := FileChecksum(fs, a)
	if err != nil {
		return false, err
	}
	sumB, err := FileChecksum(fs, b)
	if err != nil {
		return false, err
	}
	return sumA == sumB, nil
}
