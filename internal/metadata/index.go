// Package metadata indexes the distributions installed in a Python
// environment: which distribution owns which file, and the metadata record
// of every distribution by canonical name.
package metadata

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/frederic-klein/envex/internal/dist"
)

// Index maps installed files and canonical names to distributions.
// It is read-only once built.
type Index struct {
	sites  []string
	byName map[string]*dist.Distribution
	byFile map[string]*dist.Distribution
}

// NewIndex builds an index from already loaded distributions. When two
// distributions share a canonical name or a file, the first one wins.
func NewIndex(sites []string, dists ...*dist.Distribution) *Index {
	idx := &Index{
		byName: make(map[string]*dist.Distribution, len(dists)),
		byFile: make(map[string]*dist.Distribution),
	}
	for _, s := range sites {
		idx.sites = append(idx.sites, ResolvePath(s))
	}
	for _, d := range dists {
		idx.add(d)
	}
	return idx
}

func (idx *Index) add(d *dist.Distribution) bool {
	if _, ok := idx.byName[d.Name]; ok {
		return false
	}
	idx.byName[d.Name] = d
	for _, f := range d.Files {
		if _, ok := idx.byFile[f]; !ok {
			idx.byFile[f] = d
		}
	}
	return true
}

// Lookup returns the distribution owning the file at path.
func (idx *Index) Lookup(path string) (*dist.Distribution, bool) {
	d, ok := idx.byFile[ResolvePath(path)]
	return d, ok
}

// Distribution returns the distribution with the given name. Any spelling
// of the name is accepted.
func (idx *Index) Distribution(name string) (*dist.Distribution, bool) {
	d, ok := idx.byName[dist.CanonicalName(name)]
	return d, ok
}

// Distributions returns every indexed distribution ordered by name.
func (idx *Index) Distributions() []*dist.Distribution {
	out := make([]*dist.Distribution, 0, len(idx.byName))
	for _, d := range idx.byName {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsSiteDir reports whether dir is one of the indexed site directories.
func (idx *Index) IsSiteDir(dir string) bool {
	dir = ResolvePath(dir)
	for _, s := range idx.sites {
		if s == dir {
			return true
		}
	}
	return false
}

// Len returns the number of indexed distributions.
func (idx *Index) Len() int {
	return len(idx.byName)
}

// Load scans the site directories for installed distributions. Missing
// directories are skipped and unreadable distributions are logged and
// ignored.
//
// Loading runs with the process working directory moved to a temporary
// directory and restores it afterwards, so it must not run concurrently
// with other code that depends on the working directory.
func Load(ctx context.Context, sitePaths []string, logger *log.Logger) (*Index, error) {
	if logger == nil {
		logger = log.New(io.Discard)
	}

	sites := make([]string, 0, len(sitePaths))
	for _, p := range sitePaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolving site path %s: %w", p, err)
		}
		sites = append(sites, abs)
	}

	idx := NewIndex(sites)
	err := inTempWorkingDir(func() error {
		for _, site := range sites {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := idx.scanSite(site, logger); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading distributions: %w", err)
	}

	logger.Debug("indexed distributions", "count", idx.Len(), "files", len(idx.byFile))
	return idx, nil
}

func (idx *Index) scanSite(site string, logger *log.Logger) error {
	entries, err := os.ReadDir(site)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("site directory does not exist", "path", site)
			return nil
		}
		return fmt.Errorf("reading %s: %w", site, err)
	}

	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, distInfoSuffix) && !strings.HasSuffix(name, eggInfoSuffix) {
			continue
		}
		d, err := readDistribution(site, name, logger)
		if err != nil {
			logger.Warn("skipping unreadable distribution", "path", filepath.Join(site, name), "err", err)
			continue
		}
		if !idx.add(d) {
			logger.Debug("shadowed distribution", "name", d.Name, "path", d.MetadataDir)
		}
	}
	return nil
}

var cwdMu sync.Mutex

// inTempWorkingDir runs fn with the working directory set to a fresh
// temporary directory, restoring the previous one even when fn fails.
func inTempWorkingDir(fn func() error) (err error) {
	cwdMu.Lock()
	defer cwdMu.Unlock()

	oldWd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}
	tmp, err := os.MkdirTemp("", "envex-cwd-*")
	if err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := os.Chdir(tmp); err != nil {
		return fmt.Errorf("changing working directory: %w", err)
	}
	defer func() {
		if cerr := os.Chdir(oldWd); cerr != nil && err == nil {
			err = fmt.Errorf("restoring working directory: %w", cerr)
		}
	}()

	return fn()
}

var (
	sharedOnce  sync.Once
	sharedIndex *Index
	sharedErr   error
)

// Shared returns the process-wide index, loading it from sitePaths on the
// first call. Later calls return the same index (or error) whatever their
// arguments; a new process is needed to observe environment changes.
func Shared(ctx context.Context, sitePaths []string, logger *log.Logger) (*Index, error) {
	sharedOnce.Do(func() {
		sharedIndex, sharedErr = Load(ctx, sitePaths, logger)
	})
	return sharedIndex, sharedErr
}
