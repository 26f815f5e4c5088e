package acquire

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Default enumeration sources on Linux.
const (
	DefaultByIDDir     = "/dev/serial/by-id"
	DefaultSysClassDir = "/sys/class/tty"
	DefaultDevDir      = "/dev"
)

// DefaultClasses lists device-class name prefixes, most common first.
var DefaultClasses = []string{"ttyACM", "ttyUSB"}

// DefaultFallbacks are conventional numbered paths tried last.
var DefaultFallbacks = []string{"/dev/ttyACM0", "/dev/ttyACM1", "/dev/ttyUSB0", "/dev/ttyUSB1"}

// Enumerator builds the ordered candidate list from the live device registry.
type Enumerator struct {
	ByIDDir     string   // stable identity links, tried first
	SysClassDir string   // kernel tty registry used for detection
	DevDir      string   // where detected nodes live
	Classes     []string // detected name prefixes in priority order
	Fallbacks   []string // used only when present and not already listed
}

// NewEnumerator returns an Enumerator over the standard Linux locations.
// Nil classes or fallbacks select the defaults.
func NewEnumerator(classes, fallbacks []string) *Enumerator {
	if classes == nil {
		classes = DefaultClasses
	}
	if fallbacks == nil {
		fallbacks = DefaultFallbacks
	}
	return &Enumerator{
		ByIDDir:     DefaultByIDDir,
		SysClassDir: DefaultSysClassDir,
		DevDir:      DefaultDevDir,
		Classes:     classes,
		Fallbacks:   fallbacks,
	}
}

// Enumerate returns candidate device paths: by-id links, then detected
// nodes (class priority, then name), then existing fallbacks. Entries that
// resolve to the same device appear once, at their first position.
// A source that cannot be read contributes nothing.
func (e *Enumerator) Enumerate() []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(path string) {
		id := identity(path)
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, path)
	}

	for _, p := range e.byID() {
		add(p)
	}
	for _, p := range e.detected() {
		add(p)
	}
	for _, p := range e.Fallbacks {
		if exists(p) {
			add(p)
		}
	}
	return out
}

func (e *Enumerator) byID() []string {
	if e.ByIDDir == "" {
		return nil
	}
	entries, err := os.ReadDir(e.ByIDDir)
	if err != nil {
		return nil
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		paths = append(paths, filepath.Join(e.ByIDDir, entry.Name()))
	}
	sort.Strings(paths)
	return paths
}

func (e *Enumerator) detected() []string {
	if e.SysClassDir == "" {
		return nil
	}
	entries, err := os.ReadDir(e.SysClassDir)
	if err != nil {
		return nil
	}

	type node struct {
		class int
		name  string
	}
	var nodes []node
	for _, entry := range entries {
		class := e.classOf(entry.Name())
		if class < 0 {
			continue
		}
		if !exists(filepath.Join(e.DevDir, entry.Name())) {
			continue
		}
		nodes = append(nodes, node{class: class, name: entry.Name()})
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].class != nodes[j].class {
			return nodes[i].class < nodes[j].class
		}
		return nodes[i].name < nodes[j].name
	})

	paths := make([]string, len(nodes))
	for i, n := range nodes {
		paths[i] = filepath.Join(e.DevDir, n.name)
	}
	return paths
}

func (e *Enumerator) classOf(name string) int {
	for i, prefix := range e.Classes {
		if strings.HasPrefix(name, prefix) {
			return i
		}
	}
	return -1
}

// identity resolves symlinks so by-id links and the nodes they point at
// compare equal. Unresolvable paths are compared as cleaned strings.
func identity(path string) string {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return resolved
}

// RealPath returns the device node behind a candidate, e.g. the ttyACM node
// a by-id link points to.
func RealPath(path string) string {
	return identity(path)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
