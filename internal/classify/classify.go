// Package classify decides for every module a namespace depends on whether
// it is reinstalled from a package index or shipped as local files.
package classify

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/frederic-klein/envex/internal/dist"
	"github.com/frederic-klein/envex/internal/metadata"
	"github.com/frederic-klein/envex/internal/namespace"
)

// Index maps installed files to their owning distributions.
type Index interface {
	Lookup(path string) (*dist.Distribution, bool)
	IsSiteDir(dir string) bool
}

// MetaPackages lists the meta-packages requiring a distribution.
type MetaPackages interface {
	MetaPackagesRequiring(name string) []*dist.Distribution
}

// Options configures a Classifier. Strategy defaults to a RegistryStrategy
// over Registry; Meta may be nil to disable meta-package addition.
type Options struct {
	Index    Index
	Meta     MetaPackages
	Registry Registry
	Strategy DistributionStrategy
	Logger   *log.Logger
}

// Classifier maps modules to package records. It keeps no state between
// calls.
type Classifier struct {
	index    Index
	meta     MetaPackages
	strategy DistributionStrategy
	logger   *log.Logger
}

// New creates a classifier.
func New(opts Options) *Classifier {
	strategy := opts.Strategy
	if strategy == nil {
		strategy = RegistryStrategy{Registry: opts.Registry}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Classifier{
		index:    opts.Index,
		meta:     opts.Meta,
		strategy: strategy,
		logger:   logger,
	}
}

// Classify returns the package records the modules belong to. The result
// does not depend on the order of modules. Only context cancellation and
// strategy errors are returned; modules that cannot be attributed end up
// in a single BrokenModules record.
func (c *Classifier) Classify(ctx context.Context, modules []*namespace.Module) (dist.PackageSet, error) {
	run := newCollector()
	owned := make(map[string]*dist.Distribution)
	modulesOf := make(map[string][]dist.ModulePath)
	locals := make(map[string]bool)

	for _, m := range modules {
		if m.File == "" {
			c.logger.Debug("skipping module without file", "module", m.Name)
			continue
		}
		if m.Name == "__main__" {
			c.logger.Debug("skipping entry point module", "file", m.File)
			continue
		}

		file := metadata.ResolvePath(m.File)
		ref := dist.ModulePath{Module: m.Name, Path: file}

		d, ok := c.lookup(file)
		if !ok {
			if c.classifyUnowned(run, m, ref) {
				locals[dist.CanonicalName(m.TopLevel())] = true
			}
			continue
		}
		if d.IsMetaPackage() {
			c.logger.Debug("module owned by meta-package", "module", m.Name, "distribution", d.Name)
			continue
		}
		owned[d.Name] = d
		modulesOf[d.Name] = append(modulesOf[d.Name], ref)
	}

	names := make([]string, 0, len(owned))
	for name := range owned {
		names = append(names, name)
	}
	sort.Strings(names)

	dists := make([]*dist.Distribution, len(names))
	visited := make(map[string]bool, len(names))
	for i, name := range names {
		dists[i] = owned[name]
		visited[name] = true
	}
	if err := c.classifyDistributions(ctx, run, dists, modulesOf, visited); err != nil {
		return nil, err
	}

	// An editable checkout shows up as a local package, but meta-packages
	// may still require it by its distribution name.
	localNames := make([]string, 0, len(locals))
	for name := range locals {
		localNames = append(localNames, name)
	}
	sort.Strings(localNames)
	for _, name := range localNames {
		if err := c.addMetaPackages(ctx, run, name, visited); err != nil {
			return nil, err
		}
	}
	return run.result(), nil
}

// ClassifyDistributions classifies installed distributions directly,
// including the meta-packages that require them.
func (c *Classifier) ClassifyDistributions(ctx context.Context, dists []*dist.Distribution) (dist.PackageSet, error) {
	unique := make(map[string]*dist.Distribution, len(dists))
	for _, d := range dists {
		if _, ok := unique[d.Name]; !ok {
			unique[d.Name] = d
		}
	}
	sorted := make([]*dist.Distribution, 0, len(unique))
	for _, d := range unique {
		sorted = append(sorted, d)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	visited := make(map[string]bool, len(sorted))
	for _, d := range sorted {
		visited[d.Name] = true
	}
	run := newCollector()
	if err := c.classifyDistributions(ctx, run, sorted, nil, visited); err != nil {
		return nil, err
	}
	return run.result(), nil
}

func (c *Classifier) lookup(file string) (*dist.Distribution, bool) {
	if c.index == nil {
		return nil, false
	}
	return c.index.Lookup(file)
}

func (c *Classifier) isSiteDir(dir string) bool {
	return c.index != nil && c.index.IsSiteDir(dir)
}

// classifyUnowned turns a module no distribution owns into a local package
// named after its top-level package. It reports whether a package was added.
func (c *Classifier) classifyUnowned(run *collector, m *namespace.Module, ref dist.ModulePath) bool {
	path, ok := topLevelPath(&namespace.Module{Name: m.Name, File: ref.Path})
	if !ok {
		c.logger.Debug("module layout does not match its name", "module", m.Name, "file", ref.Path)
		run.broken(ref)
		return false
	}
	// Code placed straight into a managed site directory without metadata
	// cannot be told apart from a damaged installation.
	if c.isSiteDir(filepath.Dir(path)) {
		c.logger.Debug("module in site directory has no distribution", "module", m.Name, "file", ref.Path)
		run.broken(ref)
		return false
	}

	c.logger.Debug("classified as local package", "module", m.Name, "path", path)
	run.add(dist.LocalPackage{
		Name:           m.TopLevel(),
		Paths:          []string{path},
		ConsoleScripts: []string{},
		Binary:         containsCompiled(path),
	})
	return true
}

// classifyDistributions adds a record for each of dists and for the
// meta-packages requiring them. visited must already hold every name in
// dists.
func (c *Classifier) classifyDistributions(ctx context.Context, run *collector, dists []*dist.Distribution, modulesOf map[string][]dist.ModulePath, visited map[string]bool) error {
	for _, d := range dists {
		rec, err := c.strategy.ClassifyDistribution(ctx, d)
		if err != nil {
			return fmt.Errorf("classifying %s: %w", d.Name, err)
		}
		if rec == nil || !deliverable(rec) {
			c.logger.Debug("distribution has nothing to deliver", "distribution", d.Name)
			for _, ref := range modulesOf[d.Name] {
				run.broken(ref)
			}
			continue
		}
		c.logger.Debug("classified distribution", "distribution", d.Name, "kind", rec.Kind())
		run.add(rec)

		if err := c.addMetaPackages(ctx, run, d.Name, visited); err != nil {
			return err
		}
	}
	return nil
}

// addMetaPackages classifies the meta-packages requiring name and adds the
// deliverable ones. Chains of meta-packages are followed; visited keeps
// every distribution to a single classification.
func (c *Classifier) addMetaPackages(ctx context.Context, run *collector, name string, visited map[string]bool) error {
	if c.meta == nil {
		return nil
	}
	for _, m := range c.meta.MetaPackagesRequiring(name) {
		if visited[m.Name] {
			continue
		}
		visited[m.Name] = true

		rec, err := c.strategy.ClassifyDistribution(ctx, m)
		if err != nil {
			return fmt.Errorf("classifying meta-package %s: %w", m.Name, err)
		}
		if rec != nil && deliverable(rec) {
			c.logger.Debug("adding meta-package", "meta", m.Name, "requires", name, "kind", rec.Kind())
			run.add(rec)
		} else {
			c.logger.Debug("meta-package not resolvable", "meta", m.Name, "requires", name)
		}

		if err := c.addMetaPackages(ctx, run, m.Name, visited); err != nil {
			return err
		}
	}
	return nil
}
