package metadata

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// newSite lays out a small virtualenv-like tree and returns its prefix and
// site-packages directory.
func newSite(t *testing.T) (prefix, site string) {
	t.Helper()
	prefix = ResolvePath(t.TempDir())
	site = filepath.Join(prefix, "lib", "python3.11", "site-packages")

	// Regular wheel install with a console script
	writeFile(t, filepath.Join(site, "lzy_test_project", "__init__.py"), "")
	writeFile(t, filepath.Join(site, "lzy_test_project", "foo.py"), "")
	writeFile(t, filepath.Join(prefix, "bin", "lzy_test_project_bin"), "#!/usr/bin/env python\n")
	writeFile(t, filepath.Join(site, "lzy_test_project-3.0.0.dist-info", "METADATA"), `Metadata-Version: 2.1
Name: lzy_test_project
Version: 3.0.0
Summary: test
  continued summary
Requires-Dist: sampleproject (==3.0.0)
Requires-Dist: six ; python_version < "4"

Long description: not a header
`)
	writeFile(t, filepath.Join(site, "lzy_test_project-3.0.0.dist-info", "RECORD"), `lzy_test_project/__init__.py,sha256=abc,0
lzy_test_project/foo.py,sha256=def,0
../../../bin/lzy_test_project_bin,sha256=ghi,10
lzy_test_project-3.0.0.dist-info/METADATA,,
lzy_test_project-3.0.0.dist-info/RECORD,,
`)
	writeFile(t, filepath.Join(site, "lzy_test_project-3.0.0.dist-info", "entry_points.txt"), `[console_scripts]
lzy_test_project_bin = lzy_test_project:main

[gui_scripts]
lzy_gui = lzy_test_project:gui
`)

	// Meta-package: only metadata files
	writeFile(t, filepath.Join(site, "lzy_test_project_meta-1.0.dist-info", "METADATA"), `Name: lzy-test-project-meta
Version: 1.0
Requires-Dist: lzy-test-project
`)
	writeFile(t, filepath.Join(site, "lzy_test_project_meta-1.0.dist-info", "RECORD"), `lzy_test_project_meta-1.0.dist-info/METADATA,,
lzy_test_project_meta-1.0.dist-info/RECORD,,
`)

	// Legacy egg-info with installed-files.txt relative to the egg-info dir
	writeFile(t, filepath.Join(site, "legacy", "__init__.py"), "")
	writeFile(t, filepath.Join(site, "legacy-0.1-py3.11.egg-info", "PKG-INFO"), "Name: Legacy\nVersion: 0.1\n")
	writeFile(t, filepath.Join(site, "legacy-0.1-py3.11.egg-info", "installed-files.txt"), "../legacy/__init__.py\nPKG-INFO\n")

	// Single-file egg-info without any file list
	writeFile(t, filepath.Join(site, "flat-2.0-py3.11.egg-info"), "Name: flat\nVersion: 2.0\n")

	// Editable install
	writeFile(t, filepath.Join(site, "editable_pkg-0.1.dist-info", "METADATA"), "Name: editable-pkg\nVersion: 0.1\n")
	writeFile(t, filepath.Join(site, "editable_pkg-0.1.dist-info", "RECORD"), "__editable__.editable_pkg-0.1.pth,,\n")
	writeFile(t, filepath.Join(site, "editable_pkg-0.1.dist-info", "direct_url.json"), `{"url": "file:///src/editable", "dir_info": {"editable": true}}`)

	return prefix, site
}

func TestLoad(t *testing.T) {
	// Arrange
	prefix, site := newSite(t)

	// Act
	idx, err := Load(context.Background(), []string{site, filepath.Join(prefix, "missing")}, nil)

	// Assert
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if idx.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", idx.Len())
	}

	d, ok := idx.Distribution("LZY_test.project")
	if !ok {
		t.Fatal("Distribution() should accept any spelling of the name")
	}
	if d.Name != "lzy-test-project" || d.Version != "3.0.0" {
		t.Errorf("got %s %s, want lzy-test-project 3.0.0", d.Name, d.Version)
	}
	if diff := cmp.Diff([]string{"sampleproject (==3.0.0)", `six ; python_version < "4"`}, d.Requires); diff != "" {
		t.Errorf("Requires mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"lzy_gui", "lzy_test_project_bin"}, d.ConsoleScripts); diff != "" {
		t.Errorf("ConsoleScripts mismatch (-want +got):\n%s", diff)
	}
	if d.BaseDir != site {
		t.Errorf("BaseDir = %q, want %q", d.BaseDir, site)
	}

	owner, ok := idx.Lookup(filepath.Join(site, "lzy_test_project", "foo.py"))
	if !ok || owner != d {
		t.Errorf("Lookup(foo.py) = %v, %v; want lzy-test-project", owner, ok)
	}
	if owner, ok := idx.Lookup(filepath.Join(prefix, "bin", "lzy_test_project_bin")); !ok || owner != d {
		t.Errorf("Lookup(script) = %v, %v; want lzy-test-project", owner, ok)
	}
	if _, ok := idx.Lookup(filepath.Join(site, "nobody.py")); ok {
		t.Error("Lookup() should miss unowned files")
	}
}

func TestLoad_MetaPackagesAndLegacyLayouts(t *testing.T) {
	_, site := newSite(t)

	idx, err := Load(context.Background(), []string{site}, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name     string
		wantMeta bool
		wantEdit bool
		wantURL  string
	}{
		{"lzy-test-project", false, false, ""},
		{"lzy-test-project-meta", true, false, ""},
		{"legacy", false, false, ""},
		{"flat", true, false, ""},
		{"editable-pkg", false, true, "file:///src/editable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := idx.Distribution(tt.name)
			if !ok {
				t.Fatalf("Distribution(%q) not found", tt.name)
			}
			if got := d.IsMetaPackage(); got != tt.wantMeta {
				t.Errorf("IsMetaPackage() = %v, want %v", got, tt.wantMeta)
			}
			if d.Editable != tt.wantEdit {
				t.Errorf("Editable = %v, want %v", d.Editable, tt.wantEdit)
			}
			if d.DirectURL != tt.wantURL {
				t.Errorf("DirectURL = %q, want %q", d.DirectURL, tt.wantURL)
			}
		})
	}

	legacy, _ := idx.Distribution("legacy")
	if owner, ok := idx.Lookup(filepath.Join(site, "legacy", "__init__.py")); !ok || owner != legacy {
		t.Errorf("installed-files.txt entries should be owned by legacy, got %v", owner)
	}
}

func TestLoad_FirstDistributionWins(t *testing.T) {
	_, first := newSite(t)
	second := ResolvePath(t.TempDir())
	writeFile(t, filepath.Join(second, "lzy_test_project-9.9.dist-info", "METADATA"), "Name: lzy-test-project\nVersion: 9.9\n")

	idx, err := Load(context.Background(), []string{first, second}, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	d, _ := idx.Distribution("lzy-test-project")
	if d.Version != "3.0.0" {
		t.Errorf("Version = %q, want the first site's 3.0.0", d.Version)
	}
}

func TestLoad_UnusableFileLists(t *testing.T) {
	// Arrange
	site := ResolvePath(t.TempDir())
	writeFile(t, filepath.Join(site, "fallback", "__init__.py"), "")
	writeFile(t, filepath.Join(site, "fallback-1.0.dist-info", "METADATA"), "Name: fallback\nVersion: 1.0\n")
	writeFile(t, filepath.Join(site, "fallback-1.0.dist-info", "installed-files.txt"), "../fallback/__init__.py\n")
	writeFile(t, filepath.Join(site, "fallback-1.0.dist-info", "RECORD", "not-a-file"), "")
	writeFile(t, filepath.Join(site, "nolist-2.0.dist-info", "METADATA"), "Name: nolist\nVersion: 2.0\n")
	writeFile(t, filepath.Join(site, "nolist-2.0.dist-info", "RECORD", "not-a-file"), "")
	writeFile(t, filepath.Join(site, "nolist-2.0.dist-info", "installed-files.txt", "not-a-file"), "")

	// Act
	idx, err := Load(context.Background(), []string{site}, nil)

	// Assert
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if idx.Len() != 2 {
		t.Fatalf("Len() = %d, want both distributions kept", idx.Len())
	}
	fallback, _ := idx.Distribution("fallback")
	if owner, ok := idx.Lookup(filepath.Join(site, "fallback", "__init__.py")); !ok || owner != fallback {
		t.Errorf("installed-files.txt should be used when RECORD is unreadable, got %v", owner)
	}
	nolist, _ := idx.Distribution("nolist")
	if len(nolist.Files) != 0 || nolist.Version != "2.0" {
		t.Errorf("nolist = %+v, want version 2.0 without files", nolist)
	}
}

func TestShared_LoadsOnce(t *testing.T) {
	_, site := newSite(t)

	first, err := Shared(context.Background(), []string{site}, nil)
	if err != nil {
		t.Fatalf("Shared() error = %v", err)
	}
	second, err := Shared(context.Background(), []string{t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("Shared() error = %v", err)
	}

	if first != second {
		t.Error("Shared() built a second index")
	}
	if second.Len() != 5 {
		t.Errorf("Len() = %d, want the first call's 5 distributions", second.Len())
	}
}

func TestLoad_RestoresWorkingDirectory(t *testing.T) {
	_, site := newSite(t)
	before, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Load(context.Background(), []string{site}, nil); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Load(ctx, []string{site}, nil); err == nil {
		t.Error("Load() with a cancelled context should fail")
	}

	after, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if before != after {
		t.Errorf("working directory changed from %q to %q", before, after)
	}
}

func TestLoad_RelativeSitePath(t *testing.T) {
	_, site := newSite(t)
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	rel, err := filepath.Rel(wd, site)
	if err != nil {
		t.Skipf("no relative path to %s: %v", site, err)
	}

	idx, err := Load(context.Background(), []string{rel}, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if idx.Len() != 5 {
		t.Errorf("Len() = %d, want 5", idx.Len())
	}
}

func TestIndex_IsSiteDir(t *testing.T) {
	_, site := newSite(t)
	idx := NewIndex([]string{site})

	if !idx.IsSiteDir(site) {
		t.Errorf("IsSiteDir(%q) = false, want true", site)
	}
	if idx.IsSiteDir(filepath.Dir(site)) {
		t.Error("IsSiteDir(parent) = true, want false")
	}
}

func TestParseHeaders(t *testing.T) {
	input := "Name: pkg\nRequires-Dist: a\nrequires-dist: b>=1\nDescription: line one\n        line two\nbroken line\n\nName: body\n"

	h, err := ParseHeaders(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseHeaders() error = %v", err)
	}

	if got := h.Get("name"); got != "pkg" {
		t.Errorf("Get(name) = %q, want pkg", got)
	}
	if diff := cmp.Diff([]string{"a", "b>=1"}, h.Values("Requires-Dist")); diff != "" {
		t.Errorf("Values mismatch (-want +got):\n%s", diff)
	}
	if got := h.Get("Description"); got != "line one\nline two" {
		t.Errorf("continuation = %q", got)
	}
}

func TestNameVersionFromEntry(t *testing.T) {
	tests := []struct {
		entry, name, version string
	}{
		{"six-1.16.0.dist-info", "six", "1.16.0"},
		{"legacy-0.1-py3.11.egg-info", "legacy", "0.1"},
		{"bare.egg-info", "bare", ""},
	}
	for _, tt := range tests {
		t.Run(tt.entry, func(t *testing.T) {
			name, version := nameVersionFromEntry(tt.entry)
			if name != tt.name || version != tt.version {
				t.Errorf("got (%q, %q), want (%q, %q)", name, version, tt.name, tt.version)
			}
		})
	}
}
