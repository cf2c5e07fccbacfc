package version

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String renders the version with the short commit when one was stamped
// in at build time.
func String() string {
	if GitSHA == "unknown" {
		return Version
	}
	sha := GitSHA
	if len(sha) > 8 {
		sha = sha[:8]
	}
	return Version + "+" + sha
}
