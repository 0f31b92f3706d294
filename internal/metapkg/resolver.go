// Package metapkg finds metadata-only distributions and the distributions
// they declare as requirements.
package metapkg

import (
	"io"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/frederic-klein/envex/internal/dist"
)

// Source lists installed distributions.
type Source interface {
	Distributions() []*dist.Distribution
}

// Resolver answers which meta-packages require a given distribution.
// It is built once and read-only afterwards.
type Resolver struct {
	byRequirement map[string][]*dist.Distribution
}

// NewResolver inverts the requirements of every meta-package in src.
// Malformed requirement strings are skipped.
func NewResolver(src Source, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	r := &Resolver{byRequirement: make(map[string][]*dist.Distribution)}

	for _, d := range src.Distributions() {
		if !d.IsMetaPackage() {
			continue
		}
		seen := make(map[string]bool)
		for _, req := range d.Requires {
			name, err := RequirementName(req)
			if err != nil {
				logger.Debug("ignoring requirement", "distribution", d.Name, "err", err)
				continue
			}
			if seen[name] {
				continue
			}
			seen[name] = true
			r.byRequirement[name] = append(r.byRequirement[name], d)
		}
	}

	for name := range r.byRequirement {
		metas := r.byRequirement[name]
		sort.Slice(metas, func(i, j int) bool { return metas[i].Name < metas[j].Name })
	}
	return r
}

// MetaPackagesRequiring returns the meta-packages that declare name as a
// requirement, ordered by name.
func (r *Resolver) MetaPackagesRequiring(name string) []*dist.Distribution {
	return r.byRequirement[dist.CanonicalName(name)]
}

// Len returns the number of distinct requirement names.
func (r *Resolver) Len() int {
	return len(r.byRequirement)
}
