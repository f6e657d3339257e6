package install

import (
	goversion "github.com/hashicorp/go-version"
)

// Comparison is the relation between an installed version and a candidate version.
type Comparison int

const (
	// ComparisonUnknown means one of the versions is missing or unparsable.
	ComparisonUnknown Comparison = iota
	// ComparisonNewer means the candidate is newer than the installation.
	ComparisonNewer
	// ComparisonSame means both versions are equal.
	ComparisonSame
	// ComparisonOlder means the candidate would downgrade the installation.
	ComparisonOlder
)

// CompareVersions compares the installed version with a candidate version.
func CompareVersions(installed, candidate string) Comparison {
	if installed == "" || candidate == "" {
		return ComparisonUnknown
	}

	vInstalled, err := goversion.NewVersion(installed)
	if err != nil {
		return ComparisonUnknown
	}

	vCandidate, err := goversion.NewVersion(candidate)
	if err != nil {
		return ComparisonUnknown
	}

	switch vCandidate.Compare(vInstalled) {
	case 1:
		return ComparisonNewer
	case -1:
		return ComparisonOlder
	default:
		return ComparisonSame
	}
}

// Describe renders the comparison for status messages.
func (c Comparison) Describe(installed, candidate string) string {
	switch c {
	case ComparisonNewer:
		return "version " + candidate + " is newer than installed " + installed
	case ComparisonSame:
		return "version " + candidate + " is already installed"
	case ComparisonOlder:
		return "version " + candidate + " is older than installed " + installed
	default:
		return ""
	}
}
