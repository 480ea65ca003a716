// Package buildinfo holds version metadata overridable at link time via
// -ldflags "-X github.com/asayers/tailsrv/internal/buildinfo.Version=...".
package buildinfo

var (
	Version = "dev"
	Commit  = "unknown"
)

// String returns the one-line string printed by --version.
func String() string {
	return "tailsrv " + Version + " (" + Commit + ")"
}
