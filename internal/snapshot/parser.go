// Package snapshot reads captured namespaces and writes environment
// specifications.
package snapshot

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/frederic-klein/envex/internal/namespace"
)

// ErrUnknownRef is returned when a capture refers to an object or module
// it does not define.
var ErrUnknownRef = errors.New("unknown reference")

// modulePrefix marks references to modules rather than objects.
const modulePrefix = "module:"

// Document is the on-disk capture of a namespace. JSON captures are read
// through the same YAML decoder.
type Document struct {
	Python       string                 `yaml:"python"`
	SitePackages []string               `yaml:"site_packages"`
	Stdlib       []string               `yaml:"stdlib"`
	Modules      []ModuleEntry          `yaml:"modules"`
	Objects      map[string]ObjectEntry `yaml:"objects"`
	Namespace    map[string]string      `yaml:"namespace"`
}

// ModuleEntry is one imported module.
type ModuleEntry struct {
	Name    string            `yaml:"name"`
	File    string            `yaml:"file"`
	Path    []string          `yaml:"path"`
	Type    string            `yaml:"type"`
	Builtin bool              `yaml:"builtin"`
	Members map[string]string `yaml:"members"`
}

// ObjectEntry is one non-module value, keyed by its id in Document.Objects.
// Class is the object's class and Bases the rest of that class's method
// resolution order. Opaque objects raised during introspection.
type ObjectEntry struct {
	Module  string            `yaml:"module"`
	Class   string            `yaml:"class"`
	Bases   []string          `yaml:"bases"`
	Members map[string]string `yaml:"members"`
	Opaque  bool              `yaml:"opaque"`
}

// Capture is a parsed document with its object graph linked.
type Capture struct {
	Python       string
	SitePackages []string
	Stdlib       []string
	Namespace    namespace.Namespace
	Modules      map[string]*namespace.Module
}

// Parser reads capture documents in YAML or JSON.
type Parser struct {
	r io.Reader
}

// NewParser creates a new capture parser.
func NewParser(r io.Reader) *Parser {
	return &Parser{r: r}
}

// Parse decodes the document and links every reference.
func (p *Parser) Parse() (*Capture, error) {
	var doc Document
	dec := yaml.NewDecoder(p.r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("reading capture: empty document")
		}
		return nil, fmt.Errorf("reading capture: %w", err)
	}
	return doc.Link()
}

// capturedObject is a value of the captured namespace.
type capturedObject struct {
	module  *namespace.Module
	classes []namespace.Object
	members []namespace.Member
	opaque  bool
}

var errOpaque = errors.New("introspection failed at capture time")

func (o *capturedObject) DefiningModule() *namespace.Module { return o.module }
func (o *capturedObject) ClassChain() []namespace.Object    { return o.classes }

func (o *capturedObject) Members() ([]namespace.Member, error) {
	if o.opaque {
		return nil, errOpaque
	}
	return o.members, nil
}

type linker struct {
	modules map[string]*namespace.Module
	objects map[string]*capturedObject
}

func (l *linker) resolve(ref string) (namespace.Object, error) {
	if name, ok := strings.CutPrefix(ref, modulePrefix); ok {
		if m, ok := l.modules[name]; ok {
			return m, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownRef, ref)
	}
	if o, ok := l.objects[ref]; ok {
		return o, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownRef, ref)
}

func (l *linker) members(refs map[string]string) ([]namespace.Member, error) {
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]namespace.Member, 0, len(names))
	for _, name := range names {
		v, err := l.resolve(refs[name])
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", name, err)
		}
		out = append(out, namespace.Member{Name: name, Value: v})
	}
	return out, nil
}

// Link builds the object graph of the document.
func (doc *Document) Link() (*Capture, error) {
	l := &linker{
		modules: make(map[string]*namespace.Module, len(doc.Modules)),
		objects: make(map[string]*capturedObject, len(doc.Objects)),
	}

	for _, entry := range doc.Modules {
		if entry.Name == "" {
			return nil, errors.New("module without name")
		}
		if _, ok := l.modules[entry.Name]; ok {
			return nil, fmt.Errorf("duplicate module %s", entry.Name)
		}
		l.modules[entry.Name] = &namespace.Module{
			Name:       entry.Name,
			File:       entry.File,
			SearchPath: entry.Path,
			TypeName:   entry.Type,
			Builtin:    entry.Builtin,
		}
	}
	for id, entry := range doc.Objects {
		o := &capturedObject{opaque: entry.Opaque}
		if entry.Module != "" {
			m, ok := l.modules[entry.Module]
			if !ok {
				return nil, fmt.Errorf("object %s: %w: module %s", id, ErrUnknownRef, entry.Module)
			}
			o.module = m
		}
		l.objects[id] = o
	}

	for _, entry := range doc.Modules {
		attrs, err := l.members(entry.Members)
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", entry.Name, err)
		}
		l.modules[entry.Name].Attrs = attrs
	}
	for id, entry := range doc.Objects {
		o := l.objects[id]
		chain := entry.Bases
		if entry.Class != "" {
			chain = append([]string{entry.Class}, entry.Bases...)
		}
		for _, ref := range chain {
			c, err := l.resolve(ref)
			if err != nil {
				return nil, fmt.Errorf("object %s class chain: %w", id, err)
			}
			o.classes = append(o.classes, c)
		}
		members, err := l.members(entry.Members)
		if err != nil {
			return nil, fmt.Errorf("object %s: %w", id, err)
		}
		o.members = members
	}

	ns := make(namespace.Namespace, len(doc.Namespace))
	for name, ref := range doc.Namespace {
		v, err := l.resolve(ref)
		if err != nil {
			return nil, fmt.Errorf("namespace %s: %w", name, err)
		}
		ns[name] = v
	}

	return &Capture{
		Python:       doc.Python,
		SitePackages: doc.SitePackages,
		Stdlib:       doc.Stdlib,
		Namespace:    ns,
		Modules:      l.modules,
	}, nil
}
