package registry

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/charmbracelet/log"
)

// DefaultIndexURL is the public Python package index.
const DefaultIndexURL = "https://pypi.org/simple/"

// Options configures a Resolver.
type Options struct {
	IndexURL       string
	ExtraIndexURLs []string
	Target         Target
	HTTPClient     *http.Client
	CacheSize      int
	Logger         *log.Logger
}

// Result is the outcome of a registry lookup.
type Result struct {
	Found      bool
	IndexURL   string
	Compatible bool
}

// Resolver answers whether name@version is published on one of the
// configured indexes and whether a build of it matches the target.
type Resolver struct {
	indexes []string
	target  Target
	pages   *simpleClient
	logger  *log.Logger
}

// NewResolver creates a resolver over the primary and extra indexes.
func NewResolver(opts Options) (*Resolver, error) {
	primary := opts.IndexURL
	if primary == "" {
		primary = DefaultIndexURL
	}
	indexes := []string{primary}
	for _, u := range opts.ExtraIndexURLs {
		if u != "" {
			indexes = append(indexes, u)
		}
	}

	target := opts.Target
	if target.Platform == "" {
		target.Platform = DefaultPlatform
	}
	if target.Python.Major == 0 {
		target.Python = DefaultPython
	}

	pages, err := newSimpleClient(opts.HTTPClient, opts.CacheSize)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &Resolver{indexes: indexes, target: target, pages: pages, logger: logger}, nil
}

// IndexURL returns the primary index.
func (r *Resolver) IndexURL() string {
	return r.indexes[0]
}

// ExtraIndexURLs returns the extra indexes in lookup order.
func (r *Resolver) ExtraIndexURLs() []string {
	return append([]string(nil), r.indexes[1:]...)
}

// Resolve looks name@version up on the primary index and then on the extra
// indexes in order; the first index publishing that version wins. Failures
// of a single index are logged and the next index is tried, so only context
// cancellation is returned as an error.
func (r *Resolver) Resolve(ctx context.Context, name, version string) (Result, error) {
	if canonicalVersion(version) == "" {
		r.logger.Debug("no usable installed version", "name", name, "version", version)
		return Result{}, ctx.Err()
	}

	for _, indexURL := range r.indexes {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		files, err := r.pages.Files(ctx, indexURL, name)
		if errors.Is(err, ErrNotFound) {
			r.logger.Debug("not on index", "name", name, "index", indexURL)
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, ctxErr
			}
			r.logger.Warn("index lookup failed", "name", name, "index", indexURL, "err", err)
			continue
		}

		artifacts := releaseArtifacts(name, version, files)
		if len(artifacts) == 0 {
			r.logger.Debug("version not on index", "name", name, "version", version, "index", indexURL)
			continue
		}

		return Result{
			Found:      true,
			IndexURL:   indexURL,
			Compatible: compatible(artifacts, r.target),
		}, nil
	}
	return Result{}, nil
}

// releaseArtifacts keeps the files of the given project release.
func releaseArtifacts(name, version string, files []ProjectFile) []Artifact {
	var out []Artifact
	for _, f := range files {
		a, ok := ParseFilename(name, f.Filename)
		if !ok || !versionsEqual(a.Version, version) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// compatible reports whether any artifact installs on target. A release that
// only ships source archives is platform agnostic.
func compatible(artifacts []Artifact, target Target) bool {
	wheels := 0
	for _, a := range artifacts {
		if !a.Wheel {
			continue
		}
		wheels++
		for _, tag := range a.Tags {
			if target.Supports(tag) {
				return true
			}
		}
	}
	return wheels == 0
}
