package common

import "fmt"

const (
	major = 0
	minor = 1
	patch = 0

	// Versions from which stored state can be opened without migration.
	prevMajor = 0
	prevMinor = 1
	prevPatch = 0

	// Version is the current schema and API version of the service.
	Version = major*1_000_000 + minor*1_000 + patch

	// PrevVersion is the oldest stored schema version this build accepts.
	PrevVersion = prevMajor*1_000_000 + prevMinor*1_000 + prevPatch

	// ErrVersionMismatch is returned by CheckVersion in case of error.
	ErrVersionMismatch = "stored version mismatch"
)

// CheckVersion checks that state written by version `from` can be served by
// the current build: it must not be older than PrevVersion and not newer
// than Version.
func CheckVersion(from int) error {
	if from < PrevVersion {
		return fmt.Errorf("%s: expected >=%d, got %d", ErrVersionMismatch, PrevVersion, from)
	}
	if from > Version {
		return fmt.Errorf("%s: state is written by a newer version %d (current %d)", ErrVersionMismatch, from, Version)
	}
	return nil
}

// VersionString formats numeric version as 'vMAJOR.MINOR.PATCH'.
func VersionString(v int) string {
	return fmt.Sprintf("v%d.%d.%d", v/1_000_000, v/1_000%1_000, v%1_000)
}
