// Package namespace models a captured Python namespace as a graph of
// objects and finds every module that graph transitively depends on.
package namespace

import (
	"path/filepath"
	"strings"
)

// Object is a value reachable from a namespace. Implementations must be
// comparable (pointer types) because the walker tracks visited objects by
// identity.
type Object interface {
	// DefiningModule returns the module the object was defined in, or nil.
	DefiningModule() *Module
	// ClassChain returns the object's class followed by every class in its
	// method resolution order. Modules and classes-less values return nil.
	ClassChain() []Object
	// Members returns the attributes exposed by introspection. An error
	// means introspection raised and is treated as "no members".
	Members() ([]Member, error)
}

// Member is one named attribute of an object.
type Member struct {
	Name  string
	Value Object
}

// Namespace maps variable names to live values.
type Namespace map[string]Object

// Module is an imported module object.
type Module struct {
	Name       string   // dotted name, e.g. "numpy.core.multiarray"
	File       string   // __file__, empty for builtins and namespace packages
	SearchPath []string // __path__ for packages
	TypeName   string   // qualified class of the module object
	Builtin    bool     // compiled into the interpreter
	Attrs      []Member
}

func (m *Module) DefiningModule() *Module    { return m }
func (m *Module) ClassChain() []Object       { return nil }
func (m *Module) Members() ([]Member, error) { return m.Attrs, nil }

// TopLevel returns the first component of the module's dotted name.
func (m *Module) TopLevel() string {
	return TopLevelName(m.Name)
}

// IsPackage reports whether the module was loaded from a package
// initializer rather than a plain module file.
func (m *Module) IsPackage() bool {
	if m.File == "" {
		return len(m.SearchPath) > 0
	}
	base := filepath.Base(m.File)
	return strings.HasPrefix(base, "__init__.")
}

func (m *Module) String() string { return m.Name }

// TopLevelName returns the first component of a dotted module name.
func TopLevelName(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}
