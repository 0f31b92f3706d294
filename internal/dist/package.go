package dist

import (
	"reflect"
	"sort"
)

// BrokenModulesName is the synthetic name of the diagnostic record that
// collects modules no package could be determined for.
const BrokenModulesName = "packages_with_bad_path"

// Kind identifies the concrete type of a package record.
type Kind int

const (
	KindRegistry Kind = iota
	KindLocalDistribution
	KindLocalPackage
	KindBroken
)

func (k Kind) String() string {
	switch k {
	case KindRegistry:
		return "registry"
	case KindLocalDistribution:
		return "local-distribution"
	case KindLocalPackage:
		return "local-package"
	case KindBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// Package is a classification result. Implementations are immutable values
// that compare by value.
type Package interface {
	PackageName() string
	Kind() Kind
}

// LocalPackage is code with no known registry distribution; it has to be
// shipped as files.
type LocalPackage struct {
	Name           string   `yaml:"name" json:"name"`
	Paths          []string `yaml:"paths" json:"paths"`
	ConsoleScripts []string `yaml:"console_scripts" json:"console_scripts"`
	Binary         bool     `yaml:"binary" json:"binary"`
}

func (p LocalPackage) PackageName() string { return p.Name }
func (p LocalPackage) Kind() Kind          { return KindLocalPackage }

// Merge returns the union of p and o. The binary flag sticks once set.
func (p LocalPackage) Merge(o LocalPackage) LocalPackage {
	return LocalPackage{
		Name:           p.Name,
		Paths:          SortedSet(p.Paths, o.Paths),
		ConsoleScripts: SortedSet(p.ConsoleScripts, o.ConsoleScripts),
		Binary:         p.Binary || o.Binary,
	}
}

// LocalDistribution is an installed distribution that is not available on
// any configured index.
type LocalDistribution struct {
	LocalPackage `yaml:",inline" json:",inline"`
	Version      string   `yaml:"version" json:"version"`
	BadPaths     []string `yaml:"bad_paths" json:"bad_paths"`
}

func (d LocalDistribution) Kind() Kind { return KindLocalDistribution }

// Merge returns the union of d and o, keeping d's version.
func (d LocalDistribution) Merge(o LocalDistribution) LocalDistribution {
	return LocalDistribution{
		LocalPackage: d.LocalPackage.Merge(o.LocalPackage),
		Version:      d.Version,
		BadPaths:     SortedSet(d.BadPaths, o.BadPaths),
	}
}

// RegistryDistribution can be reinstalled on the remote host by name and
// version from IndexURL.
type RegistryDistribution struct {
	Name       string `yaml:"name" json:"name"`
	Version    string `yaml:"version" json:"version"`
	IndexURL   string `yaml:"index_url" json:"index_url"`
	Compatible bool   `yaml:"compatible" json:"compatible"`
}

func (d RegistryDistribution) PackageName() string { return d.Name }
func (d RegistryDistribution) Kind() Kind          { return KindRegistry }

// ModulePath pairs a module name with the file it was loaded from.
type ModulePath struct {
	Module string `yaml:"module" json:"module"`
	Path   string `yaml:"path" json:"path"`
}

// BrokenModules lists modules that could not be attributed to any package.
// It is a diagnostic, not something to ship.
type BrokenModules struct {
	Name    string       `yaml:"name" json:"name"`
	Modules []ModulePath `yaml:"modules" json:"modules"`
}

func (b BrokenModules) PackageName() string { return b.Name }
func (b BrokenModules) Kind() Kind          { return KindBroken }

// PackageSet is an ordered, duplicate-free collection of package records.
type PackageSet []Package

// NewPackageSet deduplicates pkgs by value and orders them by kind and name.
func NewPackageSet(pkgs ...Package) PackageSet {
	set := PackageSet{}
	for _, p := range pkgs {
		if p == nil || set.Contains(p) {
			continue
		}
		set = append(set, p)
	}
	sort.SliceStable(set, func(i, j int) bool {
		if set[i].Kind() != set[j].Kind() {
			return set[i].Kind() < set[j].Kind()
		}
		return set[i].PackageName() < set[j].PackageName()
	})
	return set
}

// Contains reports whether an equal record is already in the set.
func (s PackageSet) Contains(p Package) bool {
	for _, q := range s {
		if reflect.DeepEqual(q, p) {
			return true
		}
	}
	return false
}

// Names returns the record names in set order.
func (s PackageSet) Names() []string {
	names := make([]string, len(s))
	for i, p := range s {
		names[i] = p.PackageName()
	}
	return names
}
