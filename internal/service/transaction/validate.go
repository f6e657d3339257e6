package transaction

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	domain "github.com/oshokin/discord-installer/internal/domain/install"
)

var errEmptyArchive = errors.New("archive has no members")

// ArchiveInfo summarizes a validated archive.
type ArchiveInfo struct {
	// Members is the number of tar entries.
	Members int
	// Size is the compressed size in bytes.
	Size int64
	// SHA256 is the hex digest of the compressed archive.
	SHA256 string
}

// ValidateArchive lists the gzip-compressed tar at path and hashes it.
// Any failure wraps domain.ErrValidation.
func ValidateArchive(path string) (ArchiveInfo, error) {
	file, err := os.Open(path) //nolint:gosec // Path comes from the locator or the downloader.
	if err != nil {
		return ArchiveInfo{}, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	defer func() {
		_ = file.Close()
	}()

	hash := sha256.New()
	counted := &countingReader{reader: io.TeeReader(file, hash)}

	members, err := countMembers(counted)
	if err != nil {
		return ArchiveInfo{}, fmt.Errorf("%w: %s: %w", domain.ErrValidation, path, err)
	}

	// Hash trailing padding too.
	if _, err = io.Copy(io.Discard, counted); err != nil {
		return ArchiveInfo{}, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	return ArchiveInfo{
		Members: members,
		Size:    counted.n,
		SHA256:  hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

func countMembers(r io.Reader) (int, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return 0, err
	}

	defer func() {
		_ = gz.Close()
	}()

	reader := tar.NewReader(gz)
	members := 0

	for {
		_, err = reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return 0, err
		}

		members++
	}

	if members == 0 {
		return 0, errEmptyArchive
	}

	return members, nil
}

type countingReader struct {
	reader io.Reader
	n      int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	c.n += int64(n)

	return n, err
}
