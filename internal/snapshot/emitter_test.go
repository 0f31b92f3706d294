package snapshot

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/frederic-klein/envex/internal/dist"
)

func sampleSpec() *dist.EnvironmentSpec {
	return &dist.EnvironmentSpec{
		IndexURL:         "https://pypi.org/simple/",
		ExtraIndexURLs:   []string{"https://download.pytorch.org/whl/cu118"},
		RegistryPackages: map[string]string{"torch": "2.1.0+cu118", "numpy": "1.26.0"},
		LocalModulePaths: []string{"/src/app"},
		ConsoleScripts:   []string{},
		Packages: dist.NewPackageSet(
			dist.RegistryDistribution{Name: "numpy", Version: "1.26.0", IndexURL: "https://pypi.org/simple/", Compatible: true},
			dist.RegistryDistribution{Name: "torch", Version: "2.1.0+cu118", IndexURL: "https://download.pytorch.org/whl/cu118", Compatible: true},
			dist.LocalPackage{Name: "app", Paths: []string{"/src/app"}},
		),
	}
}

func TestEmitter_Requirements(t *testing.T) {
	tests := []struct {
		name string
		spec *dist.EnvironmentSpec
		want string
	}{
		{
			name: "empty",
			spec: &dist.EnvironmentSpec{},
			want: requirementsHeader,
		},
		{
			name: "pins and indexes",
			spec: sampleSpec(),
			want: requirementsHeader + `--index-url https://pypi.org/simple/
--extra-index-url https://download.pytorch.org/whl/cu118
numpy==1.26.0
torch==2.1.0+cu118
# local: /src/app
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewEmitter(&buf, FormatRequirements).Emit(tt.spec); err != nil {
				t.Fatalf("Emit() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, buf.String()); diff != "" {
				t.Errorf("Emit() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEmitter_YAML(t *testing.T) {
	// Arrange
	var buf bytes.Buffer

	// Act
	err := NewEmitter(&buf, FormatYAML).Emit(sampleSpec())

	// Assert
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	var doc specDocument
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not valid YAML: %v\n%s", err, buf.String())
	}
	if diff := cmp.Diff(map[string]string{"torch": "2.1.0+cu118", "numpy": "1.26.0"}, doc.RegistryPackages); diff != "" {
		t.Errorf("registry_packages mismatch (-want +got):\n%s", diff)
	}
	if len(doc.Packages) != 3 {
		t.Fatalf("got %d packages, want 3", len(doc.Packages))
	}
	if got := doc.Packages[2]; got.Kind != "local-package" || got.Name != "app" || got.Compatible != nil {
		t.Errorf("packages[2] = %+v", got)
	}
	if doc.Diagnostics != nil {
		t.Errorf("diagnostics = %+v, want omitted", doc.Diagnostics)
	}
	if !strings.Contains(buf.String(), "index_url: https://download.pytorch.org/whl/cu118") {
		t.Errorf("output missing torch index url:\n%s", buf.String())
	}
}

func TestEmitter_JSONDiagnostics(t *testing.T) {
	spec := sampleSpec()
	spec.Diagnostics = dist.Diagnostics{
		Binary:       []dist.Package{dist.LocalPackage{Name: "fastcalc", Binary: true}},
		Incompatible: []dist.RegistryDistribution{{Name: "winonly", Version: "1.0"}},
		BadPaths: []dist.LocalDistribution{{
			LocalPackage: dist.LocalPackage{Name: "tool"},
			BadPaths:     []string{"/venv/etc/tool.conf"},
		}},
		Broken: []dist.BrokenModules{{
			Name:    dist.BrokenModulesName,
			Modules: []dist.ModulePath{{Module: "six", Path: "/sp/six.py"}},
		}},
	}

	var buf bytes.Buffer
	if err := NewEmitter(&buf, FormatJSON).Emit(spec); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	var doc specDocument
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	want := &diagnostics{
		Binary:       []string{"fastcalc"},
		BadPaths:     map[string][]string{"tool": {"/venv/etc/tool.conf"}},
		Incompatible: []string{"winonly==1.0"},
		Broken:       []dist.ModulePath{{Module: "six", Path: "/sp/six.py"}},
	}
	if diff := cmp.Diff(want, doc.Diagnostics); diff != "" {
		t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
	}
	if doc.Packages[0].Compatible == nil || !*doc.Packages[0].Compatible {
		t.Errorf("packages[0].compatible = %v, want true", doc.Packages[0].Compatible)
	}
}

func TestEmitter_EmitPackages(t *testing.T) {
	pkgs := dist.NewPackageSet(
		dist.LocalDistribution{LocalPackage: dist.LocalPackage{Name: "tool", Paths: []string{"/sp/tool"}}, Version: "1.0"},
		dist.RegistryDistribution{Name: "six", Version: "1.16.0", Compatible: true},
	)

	var buf bytes.Buffer
	if err := NewEmitter(&buf, FormatRequirements).EmitPackages(pkgs); err != nil {
		t.Fatalf("EmitPackages() error = %v", err)
	}
	if want := requirementsHeader + "six==1.16.0\n"; buf.String() != want {
		t.Errorf("EmitPackages() = %q, want %q", buf.String(), want)
	}

	buf.Reset()
	if err := NewEmitter(&buf, FormatYAML).EmitPackages(pkgs); err != nil {
		t.Fatalf("EmitPackages() error = %v", err)
	}
	var entries []packageEntry
	if err := yaml.Unmarshal(buf.Bytes(), &entries); err != nil {
		t.Fatalf("output is not valid YAML: %v", err)
	}
	if len(entries) != 2 || entries[1].Kind != "local-distribution" || entries[1].Version != "1.0" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"yaml", FormatYAML, false},
		{"YML", FormatYAML, false},
		{"json", FormatJSON, false},
		{"requirements", FormatRequirements, false},
		{"txt", FormatRequirements, false},
		{"toml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
