package dist

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Distribution represents an installed Python distribution with its metadata.
type Distribution struct {
	Name           string   // canonical, e.g. "typing-extensions"
	Version        string   // e.g. "4.9.0"
	Requires       []string // raw Requires-Dist strings
	Files          []string // absolute, symlink-resolved owned files
	MetadataDir    string   // e.g. ".../site-packages/foo-1.0.dist-info"
	BaseDir        string   // directory MetadataDir lives in
	ConsoleScripts []string // entry point names from entry_points.txt
	Editable       bool     // installed with pip install -e
	DirectURL      string   // url of direct_url.json, e.g. "file:///src/proj"
}

// IsMetaPackage reports whether the distribution ships no runtime content:
// it owns no files, or every file lives inside its metadata directory.
func (d *Distribution) IsMetaPackage() bool {
	for _, f := range d.Files {
		if !IsMetadataPath(f) {
			return false
		}
	}
	return true
}

// IsMetadataPath reports whether any component of path is a packaging
// metadata directory.
func IsMetadataPath(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if strings.HasSuffix(part, ".dist-info") || strings.HasSuffix(part, ".egg-info") {
			return true
		}
	}
	return false
}

var separatorRun = regexp.MustCompile(`[-_.]+`)

// CanonicalName normalizes a distribution name so that separator and case
// variants compare equal: "Foo_Bar", "foo-bar" and "foo.bar" all become
// "foo-bar".
func CanonicalName(name string) string {
	return strings.ToLower(separatorRun.ReplaceAllString(strings.TrimSpace(name), "-"))
}

// SortedSet returns the distinct values of items in ascending order.
// The result is never nil so records compare equal regardless of how
// they were built.
func SortedSet(items ...[]string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, list := range items {
		for _, s := range list {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
