package transaction

import (
	"bytes"
	"crypto"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	domain "github.com/oshokin/discord-installer/internal/domain/install"
)

// ArtifactMode is the owner-only executable mode of a written transaction.
const ArtifactMode os.FileMode = 0o700

// ArtifactPath returns where the transaction for spec is written inside dir.
func ArtifactPath(spec domain.TransactionSpec, dir string) string {
	return filepath.Join(dir, "discord-install-"+spec.AttemptID+".sh")
}

// WriteArtifact writes script under dir with checksum verification and returns its path.
// The file is readable and executable by its owner only.
func WriteArtifact(spec domain.TransactionSpec, script []byte, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}

	path := ArtifactPath(spec, dir)

	target, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, ArtifactMode)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}

	if err = target.Close(); err != nil {
		return "", err
	}

	checksum := sha256.Sum256(script)

	options := goupdate.Options{
		TargetPath: path,
		TargetMode: ArtifactMode,
		Checksum:   checksum[:],
		Hash:       crypto.SHA256,
	}

	if err = goupdate.Apply(bytes.NewReader(script), options); err != nil {
		_ = os.Remove(path)

		return "", fmt.Errorf("write artifact: %w", err)
	}

	_ = os.Remove(filepath.Join(dir, "."+filepath.Base(path)+".old"))

	if err = os.Chmod(path, ArtifactMode); err != nil {
		_ = os.Remove(path)

		return "", err
	}

	return path, nil
}
