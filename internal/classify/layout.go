package classify

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/frederic-klein/envex/internal/dist"
	"github.com/frederic-klein/envex/internal/namespace"
)

// Extensions of compiled artifacts that are not portable between hosts.
// Bytecode caches are regenerated by the interpreter and do not count.
var compiledExtensions = map[string]bool{
	".so":    true,
	".pyd":   true,
	".dll":   true,
	".dylib": true,
}

// Directories console scripts are installed into, relative to the prefix.
var scriptDirs = map[string]bool{
	"bin":     true,
	"Scripts": true,
}

// IsCompiled reports whether path names a compiled extension or shared
// library.
func IsCompiled(path string) bool {
	return compiledExtensions[strings.ToLower(filepath.Ext(path))]
}

// containsCompiled reports whether path is, or is a directory containing,
// a compiled artifact. Missing paths contain nothing.
func containsCompiled(path string) bool {
	found := false
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && IsCompiled(p) {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

// moduleStem returns the module name part of a file name:
// "foo.py" -> "foo", "foo.cpython-311-x86_64-linux-gnu.so" -> "foo".
func moduleStem(base string) string {
	if i := strings.IndexByte(base, '.'); i >= 0 {
		return base[:i]
	}
	return base
}

// topLevelPath returns what has to be shipped for the top-level package of
// m: the top-level package directory, or the module file itself for a
// top-level module. It fails when the file layout does not match the
// dotted module name.
func topLevelPath(m *namespace.Module) (string, bool) {
	parts := strings.Split(m.Name, ".")
	for _, p := range parts {
		if p == "" {
			return "", false
		}
	}

	file := filepath.Clean(m.File)
	dir := filepath.Dir(file)

	// Number of package directories between the file and the top level.
	depth := len(parts) - 1
	switch {
	case m.IsPackage():
		depth = len(parts)
	case moduleStem(filepath.Base(file)) != parts[len(parts)-1]:
		return "", false
	}

	if depth == 0 {
		return file, true
	}
	for i := depth - 1; i >= 0; i-- {
		if filepath.Base(dir) != parts[i] {
			return "", false
		}
		if i > 0 {
			dir = filepath.Dir(dir)
		}
	}
	return dir, true
}

// distributionLayout splits the files of d into the top-level entries of
// its base directory, console scripts installed next to the environment,
// and files elsewhere that cannot be relocated.
func distributionLayout(d *dist.Distribution) (paths, scripts, bad []string) {
	entryPoints := make(map[string]bool, len(d.ConsoleScripts))
	for _, s := range d.ConsoleScripts {
		entryPoints[s] = true
	}

	for _, f := range d.Files {
		if top, ok := topLevelEntry(d.BaseDir, f); ok {
			if top != "__pycache__" {
				paths = append(paths, filepath.Join(d.BaseDir, top))
			}
			continue
		}
		base := filepath.Base(f)
		if scriptDirs[filepath.Base(filepath.Dir(f))] || entryPoints[strings.TrimSuffix(base, ".exe")] {
			scripts = append(scripts, f)
			continue
		}
		bad = append(bad, f)
	}
	return dist.SortedSet(paths), dist.SortedSet(scripts), dist.SortedSet(bad)
}

// topLevelEntry returns the first path component of f below base.
func topLevelEntry(base, f string) (string, bool) {
	rel, err := filepath.Rel(base, f)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	top, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return top, true
}
