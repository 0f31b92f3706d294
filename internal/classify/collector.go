package classify

import (
	"sort"

	"github.com/frederic-klein/envex/internal/dist"
)

// collector accumulates the records of one classification call. Local
// records sharing a canonical name merge into one; a local package merged
// with a local distribution becomes part of the distribution.
type collector struct {
	local    map[string]dist.Package
	registry map[string]dist.RegistryDistribution
	modules  []dist.ModulePath
}

func newCollector() *collector {
	return &collector{
		local:    make(map[string]dist.Package),
		registry: make(map[string]dist.RegistryDistribution),
	}
}

func (c *collector) add(p dist.Package) {
	switch rec := p.(type) {
	case dist.RegistryDistribution:
		c.registry[rec.Name] = rec
	case dist.LocalPackage, dist.LocalDistribution:
		key := dist.CanonicalName(p.PackageName())
		if prev, ok := c.local[key]; ok {
			p = mergeLocal(prev, p)
		}
		c.local[key] = p
	}
}

func (c *collector) broken(ref dist.ModulePath) {
	c.modules = append(c.modules, ref)
}

func (c *collector) result() dist.PackageSet {
	pkgs := make([]dist.Package, 0, len(c.local)+len(c.registry)+1)
	for _, p := range c.local {
		pkgs = append(pkgs, p)
	}
	for _, p := range c.registry {
		pkgs = append(pkgs, p)
	}
	if len(c.modules) > 0 {
		pkgs = append(pkgs, brokenRecord(c.modules))
	}
	return dist.NewPackageSet(pkgs...)
}

func brokenRecord(refs []dist.ModulePath) dist.BrokenModules {
	seen := make(map[dist.ModulePath]bool, len(refs))
	modules := make([]dist.ModulePath, 0, len(refs))
	for _, r := range refs {
		if seen[r] {
			continue
		}
		seen[r] = true
		modules = append(modules, r)
	}
	sort.Slice(modules, func(i, j int) bool {
		if modules[i].Module != modules[j].Module {
			return modules[i].Module < modules[j].Module
		}
		return modules[i].Path < modules[j].Path
	})
	return dist.BrokenModules{Name: dist.BrokenModulesName, Modules: modules}
}

// mergeLocal merges two local records with the same canonical name.
// The lexically smaller name is kept so the result is independent of
// input order.
func mergeLocal(a, b dist.Package) dist.Package {
	switch x := a.(type) {
	case dist.LocalDistribution:
		switch y := b.(type) {
		case dist.LocalDistribution:
			if y.Name < x.Name {
				x, y = y, x
			}
			return x.Merge(y)
		case dist.LocalPackage:
			return x.Merge(dist.LocalDistribution{LocalPackage: y})
		}
	case dist.LocalPackage:
		switch y := b.(type) {
		case dist.LocalDistribution:
			return mergeLocal(y, x)
		case dist.LocalPackage:
			if y.Name < x.Name {
				x, y = y, x
			}
			return x.Merge(y)
		}
	}
	return a
}
