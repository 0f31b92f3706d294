package namespace

import (
	"io"
	"path/filepath"
	"sort"

	"github.com/charmbracelet/log"
)

// Module object classes that stand in for a module and import the real one
// on first attribute access.
var lazyProxyTypes = map[string]bool{
	"tensorboard.lazy.LazyModule":                        true,
	"tensorflow.python.util.lazy_loader.KerasLazyLoader": true,
}

// Submodules generated at runtime that do not correspond to installed files,
// keyed by top-level package.
var syntheticSubmodules = map[string]map[string]bool{
	"torch": {"torch.ops": true, "_ops.py": true, "_classes.py": true},
}

// Walker collects the modules a namespace transitively relies on.
type Walker struct {
	stdlib   map[string]bool
	stopList map[string]bool
	logger   *log.Logger
}

// NewWalker creates a walker that ignores the given top-level module names
// in addition to the standard library. extraStdlib extends the built-in
// standard library list, typically with sys.stdlib_module_names of the
// captured interpreter.
func NewWalker(stopList, extraStdlib []string, logger *log.Logger) *Walker {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	w := &Walker{
		stdlib:   make(map[string]bool, len(stdlibModules)+len(extraStdlib)),
		stopList: make(map[string]bool, len(stopList)),
		logger:   logger,
	}
	for name := range stdlibModules {
		w.stdlib[name] = true
	}
	for _, name := range extraStdlib {
		w.stdlib[TopLevelName(name)] = true
	}
	for _, name := range stopList {
		w.stopList[TopLevelName(name)] = true
	}
	return w
}

// Walk returns every non-standard module reachable from ns, ordered by name.
// The traversal follows defining modules, class chains and members; module
// and object identity guard against cycles.
func (w *Walker) Walk(ns Namespace) []*Module {
	seen := make(map[Object]bool)
	var queue []Object
	push := func(o Object) {
		if o == nil || seen[o] {
			return
		}
		if m, ok := o.(*Module); ok && m == nil {
			return
		}
		seen[o] = true
		queue = append(queue, o)
	}

	names := make([]string, 0, len(ns))
	for name := range ns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		push(ns[name])
	}

	var modules []*Module
	for len(queue) > 0 {
		obj := queue[0]
		queue = queue[1:]

		if m, ok := obj.(*Module); ok {
			if w.skip(m) {
				continue
			}
			modules = append(modules, m)
			for _, member := range members(m) {
				push(member.Value)
			}
			continue
		}

		if m := obj.DefiningModule(); m != nil {
			push(m)
		}
		for _, cls := range obj.ClassChain() {
			push(cls)
		}
		for _, member := range members(obj) {
			push(member.Value)
		}
	}

	sort.Slice(modules, func(i, j int) bool {
		if modules[i].Name != modules[j].Name {
			return modules[i].Name < modules[j].Name
		}
		return modules[i].File < modules[j].File
	})
	return modules
}

// IsStdlib reports whether name belongs to the standard library.
func (w *Walker) IsStdlib(name string) bool {
	return w.stdlib[TopLevelName(name)]
}

func (w *Walker) skip(m *Module) bool {
	top := m.TopLevel()
	switch {
	case m.Builtin:
		return true
	case w.stopList[top]:
		w.logger.Debug("skipping stop-listed module", "module", m.Name)
		return true
	case w.IsStdlib(top):
		return true
	case lazyProxyTypes[m.TypeName]:
		w.logger.Debug("skipping lazy module proxy", "module", m.Name, "type", m.TypeName)
		return true
	case m.File != "" && syntheticSubmodules[top][filepath.Base(m.File)]:
		w.logger.Debug("skipping synthetic submodule", "module", m.Name, "file", m.File)
		return true
	}
	return false
}

// members lists the attributes of obj, keeping the first occurrence of each
// name so shadowed attributes are processed once.
func members(obj Object) []Member {
	all, err := obj.Members()
	if err != nil {
		return nil
	}
	seen := make(map[string]bool, len(all))
	out := make([]Member, 0, len(all))
	for _, m := range all {
		if seen[m.Name] {
			continue
		}
		seen[m.Name] = true
		out = append(out, m)
	}
	return out
}
