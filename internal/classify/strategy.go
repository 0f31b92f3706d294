package classify

import (
	"context"
	"net/url"
	"os"
	"path/filepath"

	"github.com/frederic-klein/envex/internal/dist"
	"github.com/frederic-klein/envex/internal/registry"
)

// Registry looks distributions up on the configured package indexes.
type Registry interface {
	Resolve(ctx context.Context, name, version string) (registry.Result, error)
}

// DistributionStrategy turns one installed distribution into a package
// record. A nil record means the distribution cannot be delivered.
type DistributionStrategy interface {
	ClassifyDistribution(ctx context.Context, d *dist.Distribution) (dist.Package, error)
}

// RegistryStrategy prefers reinstalling from an index and falls back to
// shipping the installed files. A nil Registry classifies everything as
// local.
type RegistryStrategy struct {
	Registry Registry
}

// ClassifyDistribution ships d as files when it was installed from a local
// checkout or archive, even if an index publishes the same name and
// version: the installed code need not match the published one.
func (s RegistryStrategy) ClassifyDistribution(ctx context.Context, d *dist.Distribution) (dist.Package, error) {
	if d.Editable || isLocalFileURL(d.DirectURL) {
		return LocalDistribution(d), nil
	}
	if s.Registry != nil {
		res, err := s.Registry.Resolve(ctx, d.Name, d.Version)
		if err != nil {
			return nil, err
		}
		if res.Found {
			return dist.RegistryDistribution{
				Name:       d.Name,
				Version:    d.Version,
				IndexURL:   res.IndexURL,
				Compatible: res.Compatible,
			}, nil
		}
	}
	return LocalDistribution(d), nil
}

// isLocalFileURL reports whether raw is a file:// URL naming an existing
// absolute path.
func isLocalFileURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "file" {
		return false
	}
	path := filepath.FromSlash(u.Path)
	if !filepath.IsAbs(path) {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// LocalDistribution builds the record for shipping d as files.
func LocalDistribution(d *dist.Distribution) dist.LocalDistribution {
	paths, scripts, bad := distributionLayout(d)
	binary := false
	for _, f := range d.Files {
		if IsCompiled(f) {
			binary = true
			break
		}
	}
	return dist.LocalDistribution{
		LocalPackage: dist.LocalPackage{
			Name:           d.Name,
			Paths:          paths,
			ConsoleScripts: scripts,
			Binary:         binary,
		},
		Version:  d.Version,
		BadPaths: bad,
	}
}

// deliverable reports whether p carries something the remote host can use:
// a registry pin, or local files beyond packaging metadata.
func deliverable(p dist.Package) bool {
	switch rec := p.(type) {
	case dist.RegistryDistribution:
		return true
	case dist.LocalDistribution:
		return hasContent(rec.Paths)
	case dist.LocalPackage:
		return hasContent(rec.Paths)
	default:
		return false
	}
}

func hasContent(paths []string) bool {
	for _, p := range paths {
		if !dist.IsMetadataPath(p) {
			return true
		}
	}
	return false
}
