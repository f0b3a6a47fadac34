// Package version reports which build of opsforge is running. The commit
// is resolved once at startup: an -ldflags override wins, then the VCS
// stamp embedded by the Go toolchain, then "dev".
package version

import "runtime/debug"

const appName = "opsforge"

// commit is injected with -ldflags "-X ...version.commit=<sha>" by image
// builds that ship the source without .git metadata.
var commit string

var resolved = resolve()

// Short returns the abbreviated commit hash, with a "-dirty" suffix for
// builds from a modified tree, or "dev" when no VCS stamp is available
// (go test, source tarballs).
func Short() string { return resolved }

// Full returns "opsforge/<commit>", the form used in the startup banner
// and in outbound User-Agent headers.
func Full() string { return appName + "/" + resolved }

func resolve() string {
	if commit != "" {
		return abbrev(commit)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	var rev, modified string
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			modified = s.Value
		}
	}
	if rev == "" {
		return "dev"
	}
	if modified == "true" {
		return abbrev(rev) + "-dirty"
	}
	return abbrev(rev)
}

func abbrev(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}
