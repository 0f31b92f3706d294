package metadata

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/ini.v1"

	"github.com/frederic-klein/envex/internal/dist"
)

const (
	distInfoSuffix = ".dist-info"
	eggInfoSuffix  = ".egg-info"
)

// Headers holds the RFC 822 style fields of a METADATA or PKG-INFO file.
// Multi-valued fields such as Requires-Dist keep every occurrence.
type Headers map[string][]string

// Get returns the first value of key, or "".
func (h Headers) Get(key string) string {
	if v := h[strings.ToLower(key)]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Values returns every value of key.
func (h Headers) Values(key string) []string {
	return h[strings.ToLower(key)]
}

// ParseHeaders reads the header block of a core metadata file. Parsing stops
// at the first blank line, where the long description starts.
func ParseHeaders(r io.Reader) (Headers, error) {
	h := make(Headers)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lastKey string

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			break
		}

		// Continuation of the previous field
		if (line[0] == ' ' || line[0] == '\t') && lastKey != "" {
			vals := h[lastKey]
			vals[len(vals)-1] += "\n" + strings.TrimSpace(line)
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		lastKey = strings.ToLower(strings.TrimSpace(key))
		h[lastKey] = append(h[lastKey], strings.TrimSpace(value))
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading metadata headers: %w", err)
	}
	return h, nil
}

// readDistribution builds a distribution record from a .dist-info or
// .egg-info entry found in baseDir. An unusable file list is logged and
// leaves the distribution without files.
func readDistribution(baseDir, entry string, logger *log.Logger) (*dist.Distribution, error) {
	metaPath := filepath.Join(baseDir, entry)
	info, err := os.Stat(metaPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", metaPath, err)
	}

	var headers Headers
	var files []string
	var scripts []string
	var source directURL

	if !info.IsDir() {
		// Legacy single-file egg-info: the file itself is PKG-INFO and no
		// file list exists.
		headers, err = readHeadersFile(metaPath)
		if err != nil {
			return nil, err
		}
	} else {
		headers, err = readHeadersFile(metadataFile(metaPath))
		if err != nil {
			return nil, err
		}
		files, err = distributionFiles(baseDir, metaPath)
		if err != nil {
			logger.Warn("ignoring unusable file list", "path", metaPath, "err", err)
		}
		scripts, err = consoleScripts(metaPath)
		if err != nil {
			return nil, err
		}
		source = readDirectURL(metaPath)
	}

	name, version := nameVersionFromEntry(entry)
	if v := headers.Get("Name"); v != "" {
		name = v
	}
	if v := headers.Get("Version"); v != "" {
		version = v
	}
	if name == "" {
		return nil, fmt.Errorf("%s: no distribution name", metaPath)
	}

	return &dist.Distribution{
		Name:           dist.CanonicalName(name),
		Version:        version,
		Requires:       headers.Values("Requires-Dist"),
		Files:          files,
		MetadataDir:    ResolvePath(metaPath),
		BaseDir:        ResolvePath(baseDir),
		ConsoleScripts: scripts,
		Editable:       source.DirInfo.Editable,
		DirectURL:      source.URL,
	}, nil
}

func metadataFile(metaDir string) string {
	if strings.HasSuffix(metaDir, distInfoSuffix) {
		return filepath.Join(metaDir, "METADATA")
	}
	return filepath.Join(metaDir, "PKG-INFO")
}

func readHeadersFile(path string) (Headers, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Headers{}, nil
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return ParseHeaders(f)
}

// nameVersionFromEntry splits "name-version.dist-info" or
// "name-version-py3.11.egg-info" into name and version.
func nameVersionFromEntry(entry string) (string, string) {
	stem := strings.TrimSuffix(strings.TrimSuffix(entry, distInfoSuffix), eggInfoSuffix)
	parts := strings.Split(stem, "-")
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// distributionFiles returns the owned files of a distribution: RECORD
// entries relative to baseDir, falling back to the legacy
// installed-files.txt relative to the metadata directory. Missing file
// information yields no files. A file list that cannot be read or parsed
// is skipped and reported in the error, alongside whatever files the
// fallback still produced.
func distributionFiles(baseDir, metaDir string) ([]string, error) {
	var errs []error

	record := filepath.Join(metaDir, "RECORD")
	data, err := os.ReadFile(record)
	switch {
	case err == nil:
		files, err := parseRecord(baseDir, data)
		if err == nil {
			return files, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", record, err))
	case !errors.Is(err, os.ErrNotExist):
		errs = append(errs, fmt.Errorf("reading %s: %w", record, err))
	}

	installed := filepath.Join(metaDir, "installed-files.txt")
	data, err = os.ReadFile(installed)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("reading %s: %w", installed, err))
		}
		return nil, errors.Join(errs...)
	}

	var files []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		files = append(files, absUnder(metaDir, line))
	}
	return files, errors.Join(errs...)
}

func parseRecord(baseDir string, data []byte) ([]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing RECORD: %w", err)
	}

	files := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		files = append(files, absUnder(baseDir, row[0]))
	}
	return files, nil
}

// consoleScripts returns the executable names declared in entry_points.txt.
func consoleScripts(metaDir string) ([]string, error) {
	path := filepath.Join(metaDir, "entry_points.txt")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: true,
	}, data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	var names []string
	for _, section := range []string{"console_scripts", "gui_scripts"} {
		sec, err := cfg.GetSection(section)
		if err != nil {
			continue
		}
		for _, key := range sec.Keys() {
			names = append(names, key.Name())
		}
	}
	return dist.SortedSet(names), nil
}

type directURL struct {
	URL     string `json:"url"`
	DirInfo struct {
		Editable bool `json:"editable"`
	} `json:"dir_info"`
}

// readDirectURL reads the PEP 610 record of how the distribution was
// installed. Missing or malformed records read as an index install.
func readDirectURL(metaDir string) directURL {
	var du directURL
	data, err := os.ReadFile(filepath.Join(metaDir, "direct_url.json"))
	if err != nil {
		return du
	}
	if err := json.Unmarshal(data, &du); err != nil {
		return directURL{}
	}
	return du
}

func absUnder(dir, p string) string {
	p = filepath.FromSlash(p)
	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}
	return ResolvePath(p)
}

// ResolvePath resolves symlinks so paths compare equal to module files,
// keeping the cleaned path when the target does not exist.
func ResolvePath(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return filepath.Clean(p)
}
