// Package explorer turns a captured namespace into the environment
// specification a remote host needs: local paths to transfer and registry
// pins to reinstall.
package explorer

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/frederic-klein/envex/internal/dist"
	"github.com/frederic-klein/envex/internal/namespace"
)

// Classifier maps modules to package records.
type Classifier interface {
	Classify(ctx context.Context, modules []*namespace.Module) (dist.PackageSet, error)
}

// Config holds the caller's choices for one explorer.
type Config struct {
	IndexURL       string
	ExtraIndexURLs []string
	// AdditionalPackages pins distributions by name. A pin always wins
	// over what classification decides for the same name.
	AdditionalPackages map[string]string
	// StopList names top-level modules that are never followed.
	StopList []string
	// ExtraStdlib extends the standard library list of the walker.
	ExtraStdlib []string
}

// Explorer walks a namespace, classifies what it depends on and assembles
// the result.
type Explorer struct {
	cfg        Config
	pins       map[string]bool
	walker     *namespace.Walker
	classifier Classifier
	logger     *log.Logger
}

// New creates an explorer classifying with c.
func New(cfg Config, c Classifier, logger *log.Logger) *Explorer {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	pins := make(map[string]bool, len(cfg.AdditionalPackages))
	for name := range cfg.AdditionalPackages {
		pins[dist.CanonicalName(name)] = true
	}
	return &Explorer{
		cfg:        cfg,
		pins:       pins,
		walker:     namespace.NewWalker(cfg.StopList, cfg.ExtraStdlib, logger),
		classifier: c,
		logger:     logger,
	}
}

// Modules returns the non-standard modules ns depends on.
func (e *Explorer) Modules(ns namespace.Namespace) []*namespace.Module {
	return e.walker.Walk(ns)
}

// Packages classifies every module ns depends on.
func (e *Explorer) Packages(ctx context.Context, ns namespace.Namespace) (dist.PackageSet, error) {
	modules := e.walker.Walk(ns)
	e.logger.Debug("collected modules", "count", len(modules))

	pkgs, err := e.classifier.Classify(ctx, modules)
	if err != nil {
		return nil, fmt.Errorf("classifying modules: %w", err)
	}
	return pkgs, nil
}

// LocalModulePaths returns the files and directories to transfer.
func (e *Explorer) LocalModulePaths(ctx context.Context, ns namespace.Namespace) ([]string, error) {
	spec, err := e.EnvironmentSpec(ctx, ns)
	if err != nil {
		return nil, err
	}
	return spec.LocalModulePaths, nil
}

// RegistryPackages returns the name to version pins to reinstall,
// including the additional packages.
func (e *Explorer) RegistryPackages(ctx context.Context, ns namespace.Namespace) (map[string]string, error) {
	spec, err := e.EnvironmentSpec(ctx, ns)
	if err != nil {
		return nil, err
	}
	return spec.RegistryPackages, nil
}

// EnvironmentSpec classifies ns and assembles the full specification.
func (e *Explorer) EnvironmentSpec(ctx context.Context, ns namespace.Namespace) (*dist.EnvironmentSpec, error) {
	pkgs, err := e.Packages(ctx, ns)
	if err != nil {
		return nil, err
	}
	spec := e.Assemble(pkgs)
	e.report(spec.Diagnostics)
	return spec, nil
}

// Assemble splits classified records into transferable paths and registry
// pins. Records of pinned names are dropped. Local records with compiled
// artifacts and registry records without a build for the target stay in
// Packages but are left out of the paths and pins, and are reported in the
// diagnostics.
func (e *Explorer) Assemble(pkgs dist.PackageSet) *dist.EnvironmentSpec {
	spec := &dist.EnvironmentSpec{
		RegistryPackages: make(map[string]string),
		IndexURL:         e.cfg.IndexURL,
		ExtraIndexURLs:   append([]string{}, e.cfg.ExtraIndexURLs...),
	}
	var kept []dist.Package
	var paths, scripts []string

	for _, p := range pkgs {
		if e.dropPinned(spec, p) {
			continue
		}
		kept = append(kept, p)

		switch rec := p.(type) {
		case dist.BrokenModules:
			spec.Diagnostics.Broken = append(spec.Diagnostics.Broken, rec)

		case dist.RegistryDistribution:
			if !rec.Compatible {
				spec.Diagnostics.Incompatible = append(spec.Diagnostics.Incompatible, rec)
				continue
			}
			spec.RegistryPackages[rec.Name] = rec.Version

		case dist.LocalDistribution:
			if rec.Binary {
				spec.Diagnostics.Binary = append(spec.Diagnostics.Binary, rec)
				continue
			}
			if len(rec.BadPaths) > 0 {
				spec.Diagnostics.BadPaths = append(spec.Diagnostics.BadPaths, rec)
			}
			paths = append(paths, rec.Paths...)
			scripts = append(scripts, rec.ConsoleScripts...)

		case dist.LocalPackage:
			if rec.Binary {
				spec.Diagnostics.Binary = append(spec.Diagnostics.Binary, rec)
				continue
			}
			paths = append(paths, rec.Paths...)
			scripts = append(scripts, rec.ConsoleScripts...)
		}
	}

	for name, version := range e.cfg.AdditionalPackages {
		spec.RegistryPackages[name] = version
	}
	spec.Packages = dist.NewPackageSet(kept...)
	spec.LocalModulePaths = dist.SortedSet(paths)
	spec.ConsoleScripts = dist.SortedSet(scripts)
	return spec
}

// dropPinned reports whether p is replaced by an additional package,
// recording it in the diagnostics.
func (e *Explorer) dropPinned(spec *dist.EnvironmentSpec, p dist.Package) bool {
	if p.Kind() == dist.KindBroken || !e.pinned(p.PackageName()) {
		return false
	}
	if rec, ok := p.(dist.RegistryDistribution); ok {
		spec.Diagnostics.Overridden = append(spec.Diagnostics.Overridden, rec)
	} else {
		spec.Diagnostics.Filtered = append(spec.Diagnostics.Filtered, p)
	}
	return true
}

func (e *Explorer) pinned(name string) bool {
	return e.pins[dist.CanonicalName(name)]
}

func (e *Explorer) report(d dist.Diagnostics) {
	if len(d.Broken) > 0 {
		e.logger.Warn("some modules could not be classified and are omitted", "modules", brokenModules(d.Broken))
	}
	if len(d.Filtered) > 0 {
		e.logger.Debug("local packages replaced by additional packages", "packages", names(d.Filtered))
	}
	if len(d.Overridden) > 0 {
		e.logger.Debug("registry packages replaced by additional packages", "packages", registryNames(d.Overridden))
	}
	if len(d.Binary) > 0 {
		e.logger.Warn("local packages contain binary files and will not be transferred; pin them as additional packages if the remote host needs them",
			"packages", names(d.Binary))
	}
	for _, p := range d.BadPaths {
		e.logger.Warn("local distribution has files outside the installation layout; they will not be transferred",
			"package", p.Name, "paths", p.BadPaths)
	}
	if len(d.Incompatible) > 0 {
		e.logger.Warn("registry packages have no build for the target platform and will be skipped",
			"packages", registryNames(d.Incompatible))
	}
}

func names(pkgs []dist.Package) []string {
	out := make([]string, len(pkgs))
	for i, p := range pkgs {
		out[i] = p.PackageName()
	}
	return out
}

func registryNames(pkgs []dist.RegistryDistribution) []string {
	out := make([]string, len(pkgs))
	for i, p := range pkgs {
		out[i] = p.Name + "==" + p.Version
	}
	return out
}

func brokenModules(broken []dist.BrokenModules) []string {
	var out []string
	for _, b := range broken {
		for _, m := range b.Modules {
			out = append(out, m.Module+" ("+m.Path+")")
		}
	}
	return out
}
