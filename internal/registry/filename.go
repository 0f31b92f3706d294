package registry

import (
	"strings"

	"github.com/frederic-klein/envex/internal/dist"
)

var sdistExtensions = []string{".tar.gz", ".tar.bz2", ".tar.xz", ".tgz", ".tar", ".zip"}

// Artifact is a parsed distribution file name.
type Artifact struct {
	Filename string
	Name     string // canonical project name
	Version  string
	Wheel    bool
	Tags     []Tag // wheels only
}

// ParseFilename recognises wheel and sdist names of project. Other files
// (eggs, installers, signatures) are reported as not ok.
func ParseFilename(project, filename string) (Artifact, bool) {
	if stem, ok := strings.CutSuffix(filename, ".whl"); ok {
		return parseWheel(filename, stem)
	}
	for _, ext := range sdistExtensions {
		if stem, ok := strings.CutSuffix(filename, ext); ok {
			return parseSdist(project, filename, stem)
		}
	}
	return Artifact{}, false
}

// parseWheel handles {name}-{version}(-{build})?-{python}-{abi}-{platform}.
func parseWheel(filename, stem string) (Artifact, bool) {
	parts := strings.Split(stem, "-")
	if len(parts) != 5 && len(parts) != 6 {
		return Artifact{}, false
	}
	n := len(parts)
	return Artifact{
		Filename: filename,
		Name:     dist.CanonicalName(parts[0]),
		Version:  parts[1],
		Wheel:    true,
		Tags:     ExpandTags(parts[n-3], parts[n-2], parts[n-1]),
	}, true
}

// parseSdist splits {name}-{version} where the name itself may contain
// dashes, using the expected project name to find the boundary.
func parseSdist(project, filename, stem string) (Artifact, bool) {
	want := dist.CanonicalName(project)
	for i := 0; i < len(stem); i++ {
		if stem[i] != '-' {
			continue
		}
		if dist.CanonicalName(stem[:i]) == want && i+1 < len(stem) {
			return Artifact{
				Filename: filename,
				Name:     want,
				Version:  stem[i+1:],
			}, true
		}
	}
	return Artifact{}, false
}
