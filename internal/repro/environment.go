package repro

import (
	"os/exec"
	"runtime"
	"strings"
)

// Environment captures the reproducibility envelope's machine/toolchain
// facts (spec section 4.9): OS, architecture, interpreter version, CPU
// count, and best-effort source-control revision.
type Environment struct {
	OS          string
	Arch        string
	GoVersion   string
	NumCPU      int
	CodeVersion string

	VCSRevision      string
	VCSDirty         bool
	VCSModifiedFiles []string
	VCSWarning       string
}

// CaptureEnvironment snapshots the current process's runtime facts and
// best-effort git revision. provider/semver/isoDate feed SourceVersion.
func CaptureEnvironment(provider, semver, isoDate string) Environment {
	env := Environment{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		GoVersion: runtime.Version(),
		NumCPU:    runtime.NumCPU(),
	}

	revision, dirty, modified, warning := captureVCS()
	env.VCSRevision = revision
	env.VCSDirty = dirty
	env.VCSModifiedFiles = modified
	env.VCSWarning = warning

	abbrev := revision
	if abbrev == "" {
		abbrev = "unknown"
	}
	env.CodeVersion = SourceVersion(provider, semver, isoDate, abbrev)
	return env
}

// captureVCS shells out to git for the current revision and dirty state.
// No VCS library exists anywhere in the reference pack, so os/exec is the
// only available route; this is the one place environment capture must
// fall back to a direct process call rather than a library.
func captureVCS() (revision string, dirty bool, modified []string, warning string) {
	out, err := exec.Command("git", "rev-parse", "--short", "HEAD").Output()
	if err != nil {
		return "", false, nil, "no VCS revision available: " + err.Error()
	}
	revision = strings.TrimSpace(string(out))

	statusOut, err := exec.Command("git", "status", "--porcelain").Output()
	if err != nil {
		return revision, false, nil, "revision found but status check failed: " + err.Error()
	}
	lines := strings.Split(strings.TrimRight(string(statusOut), "\n"), "\n")
	for _, l := range lines {
		if l == "" {
			continue
		}
		modified = append(modified, strings.TrimSpace(l[3:]))
	}
	return revision, len(modified) > 0, modified, ""
}

// SourceVersion formats the fixed identifier spec section 4.9 names:
// {provider}_{semver}_{iso8601_date}_{abbreviated_revision}.
func SourceVersion(provider, semver, isoDate, abbreviatedRevision string) string {
	return provider + "_" + semver + "_" + isoDate + "_" + abbreviatedRevision
}
