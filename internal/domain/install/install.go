package install

import (
	"regexp"
	"time"
)

// versionTagPattern is the shape every version tag must have.
var versionTagPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*$`)

// ArchiveCandidate is a downloaded or locally discovered archive believed to
// contain the application.
type ArchiveCandidate struct {
	// Path is the absolute path of the archive.
	Path string
	// SizeBytes is the archive size on disk.
	SizeBytes int64
	// VersionTag is the version parsed from the file name, if any.
	VersionTag string
	// ModTime is the archive modification time.
	ModTime time.Time
}

// Clone returns a copy of the candidate.
func (c *ArchiveCandidate) Clone() *ArchiveCandidate {
	if c == nil {
		return nil
	}

	cloned := *c

	return &cloned
}

// VersionInfo is the latest release as advertised by the vendor endpoint.
type VersionInfo struct {
	// ResolvedURL is the final URL after following redirects.
	ResolvedURL string
	// VersionTag is the version token embedded in the archive file name.
	VersionTag string
}

// InstalledState describes what is currently deployed.
type InstalledState struct {
	// VersionTag is the installed version, empty if unknown.
	VersionTag string
	// Present is true when an installation was detected.
	Present bool
	// Root is the install root the installation was found under.
	Root string
}

// TransactionSpec is the fully-bound parameter set of one privileged transaction.
type TransactionSpec struct {
	// AttemptID identifies the installation attempt in logs.
	AttemptID string
	// ArchivePath is the archive to install.
	ArchivePath string
	// InstallRoot is the directory the application is deployed to.
	InstallRoot string
	// BackupRoot receives a copy of the previous installation.
	BackupRoot string
	// LogPath is the transaction's own log file.
	LogPath string
	// CreatedAt is the timestamp embedded in BackupRoot, LogPath and the rendered script.
	CreatedAt time.Time
}

// Action is what installing a candidate means for the current host.
type Action string

const (
	// ActionInstall deploys the application for the first time.
	ActionInstall Action = "install"
	// ActionUpdate replaces an existing installation.
	ActionUpdate Action = "update"
	// ActionDownloadAndInstall fetches the latest archive first.
	ActionDownloadAndInstall Action = "download and install"
)

// ActionFor returns the action label for the installed state.
func ActionFor(installed InstalledState, needsDownload bool) Action {
	switch {
	case installed.Present:
		return ActionUpdate
	case needsDownload:
		return ActionDownloadAndInstall
	default:
		return ActionInstall
	}
}

// IsValidVersionTag reports whether tag is a dotted numeric version.
func IsValidVersionTag(tag string) bool {
	return versionTagPattern.MatchString(tag)
}
