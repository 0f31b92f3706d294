package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/frederic-klein/envex/internal/dist"
)

// Format selects the output of an Emitter.
type Format string

const (
	FormatYAML         Format = "yaml"
	FormatJSON         Format = "json"
	FormatRequirements Format = "requirements"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatYAML, FormatJSON, FormatRequirements:
		return f, nil
	case "yml":
		return FormatYAML, nil
	case "txt", "pip":
		return FormatRequirements, nil
	}
	return "", fmt.Errorf("unknown format %q (want yaml, json or requirements)", s)
}

const requirementsHeader = "# generated by envex; local paths are shipped separately\n"

// Emitter writes environment specifications.
type Emitter struct {
	w      io.Writer
	format Format
}

// NewEmitter creates a new emitter.
func NewEmitter(w io.Writer, format Format) *Emitter {
	return &Emitter{w: w, format: format}
}

type specDocument struct {
	IndexURL         string            `yaml:"index_url,omitempty" json:"index_url,omitempty"`
	ExtraIndexURLs   []string          `yaml:"extra_index_urls,omitempty" json:"extra_index_urls,omitempty"`
	RegistryPackages map[string]string `yaml:"registry_packages" json:"registry_packages"`
	LocalModulePaths []string          `yaml:"local_module_paths" json:"local_module_paths"`
	ConsoleScripts   []string          `yaml:"console_scripts" json:"console_scripts"`
	Packages         []packageEntry    `yaml:"packages" json:"packages"`
	Diagnostics      *diagnostics      `yaml:"diagnostics,omitempty" json:"diagnostics,omitempty"`
}

type packageEntry struct {
	Kind           string            `yaml:"kind" json:"kind"`
	Name           string            `yaml:"name" json:"name"`
	Version        string            `yaml:"version,omitempty" json:"version,omitempty"`
	IndexURL       string            `yaml:"index_url,omitempty" json:"index_url,omitempty"`
	Compatible     *bool             `yaml:"compatible,omitempty" json:"compatible,omitempty"`
	Paths          []string          `yaml:"paths,omitempty" json:"paths,omitempty"`
	ConsoleScripts []string          `yaml:"console_scripts,omitempty" json:"console_scripts,omitempty"`
	Binary         bool              `yaml:"binary,omitempty" json:"binary,omitempty"`
	BadPaths       []string          `yaml:"bad_paths,omitempty" json:"bad_paths,omitempty"`
	Modules        []dist.ModulePath `yaml:"modules,omitempty" json:"modules,omitempty"`
}

type diagnostics struct {
	Filtered     []string            `yaml:"filtered,omitempty" json:"filtered,omitempty"`
	Overridden   []string            `yaml:"overridden,omitempty" json:"overridden,omitempty"`
	Binary       []string            `yaml:"binary,omitempty" json:"binary,omitempty"`
	BadPaths     map[string][]string `yaml:"bad_paths,omitempty" json:"bad_paths,omitempty"`
	Incompatible []string            `yaml:"incompatible,omitempty" json:"incompatible,omitempty"`
	Broken       []dist.ModulePath   `yaml:"broken,omitempty" json:"broken,omitempty"`
}

// Emit writes spec in the emitter's format.
func (e *Emitter) Emit(spec *dist.EnvironmentSpec) error {
	switch e.format {
	case FormatJSON:
		enc := json.NewEncoder(e.w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(newSpecDocument(spec)); err != nil {
			return fmt.Errorf("encoding spec: %w", err)
		}
		return nil
	case FormatRequirements:
		return e.emitRequirements(spec)
	case FormatYAML, "":
		enc := yaml.NewEncoder(e.w)
		enc.SetIndent(2)
		if err := enc.Encode(newSpecDocument(spec)); err != nil {
			return fmt.Errorf("encoding spec: %w", err)
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown format %q", e.format)
}

// EmitPackages writes bare package records, as produced by classification.
func (e *Emitter) EmitPackages(pkgs dist.PackageSet) error {
	entries := packageEntries(pkgs)
	switch e.format {
	case FormatJSON:
		enc := json.NewEncoder(e.w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case FormatRequirements:
		spec := &dist.EnvironmentSpec{RegistryPackages: map[string]string{}}
		for _, p := range pkgs {
			if r, ok := p.(dist.RegistryDistribution); ok {
				spec.RegistryPackages[r.Name] = r.Version
			}
		}
		return e.emitRequirements(spec)
	default:
		enc := yaml.NewEncoder(e.w)
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			return fmt.Errorf("encoding packages: %w", err)
		}
		return enc.Close()
	}
}

func (e *Emitter) emitRequirements(spec *dist.EnvironmentSpec) error {
	var b strings.Builder
	b.WriteString(requirementsHeader)
	if spec.IndexURL != "" {
		fmt.Fprintf(&b, "--index-url %s\n", spec.IndexURL)
	}
	for _, u := range spec.ExtraIndexURLs {
		fmt.Fprintf(&b, "--extra-index-url %s\n", u)
	}
	for _, name := range sortedKeys(spec.RegistryPackages) {
		fmt.Fprintf(&b, "%s==%s\n", name, spec.RegistryPackages[name])
	}
	for _, path := range spec.LocalModulePaths {
		fmt.Fprintf(&b, "# local: %s\n", path)
	}
	_, err := io.WriteString(e.w, b.String())
	return err
}

func newSpecDocument(spec *dist.EnvironmentSpec) specDocument {
	doc := specDocument{
		IndexURL:         spec.IndexURL,
		ExtraIndexURLs:   spec.ExtraIndexURLs,
		RegistryPackages: spec.RegistryPackages,
		LocalModulePaths: nonNil(spec.LocalModulePaths),
		ConsoleScripts:   nonNil(spec.ConsoleScripts),
		Packages:         packageEntries(spec.Packages),
	}
	if doc.RegistryPackages == nil {
		doc.RegistryPackages = map[string]string{}
	}
	if !spec.Diagnostics.Empty() {
		doc.Diagnostics = newDiagnostics(spec.Diagnostics)
	}
	return doc
}

func packageEntries(pkgs dist.PackageSet) []packageEntry {
	entries := make([]packageEntry, 0, len(pkgs))
	for _, p := range pkgs {
		entry := packageEntry{Kind: p.Kind().String(), Name: p.PackageName()}
		switch rec := p.(type) {
		case dist.RegistryDistribution:
			compatible := rec.Compatible
			entry.Version = rec.Version
			entry.IndexURL = rec.IndexURL
			entry.Compatible = &compatible
		case dist.LocalDistribution:
			entry.Version = rec.Version
			entry.Paths = rec.Paths
			entry.ConsoleScripts = rec.ConsoleScripts
			entry.Binary = rec.Binary
			entry.BadPaths = rec.BadPaths
		case dist.LocalPackage:
			entry.Paths = rec.Paths
			entry.ConsoleScripts = rec.ConsoleScripts
			entry.Binary = rec.Binary
		case dist.BrokenModules:
			entry.Modules = rec.Modules
		}
		entries = append(entries, entry)
	}
	return entries
}

func newDiagnostics(d dist.Diagnostics) *diagnostics {
	out := &diagnostics{}
	for _, p := range d.Filtered {
		out.Filtered = append(out.Filtered, p.PackageName())
	}
	for _, p := range d.Overridden {
		out.Overridden = append(out.Overridden, p.Name+"=="+p.Version)
	}
	for _, p := range d.Binary {
		out.Binary = append(out.Binary, p.PackageName())
	}
	for _, p := range d.BadPaths {
		if out.BadPaths == nil {
			out.BadPaths = make(map[string][]string)
		}
		out.BadPaths[p.Name] = p.BadPaths
	}
	for _, p := range d.Incompatible {
		out.Incompatible = append(out.Incompatible, p.Name+"=="+p.Version)
	}
	for _, b := range d.Broken {
		out.Broken = append(out.Broken, b.Modules...)
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
