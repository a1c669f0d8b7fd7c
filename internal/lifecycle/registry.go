package lifecycle

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/boyarskiy/testanalyzer/internal/model"
)

// Artifact is a report pair on disk. Either path may be empty when only one
// twin exists.
type Artifact struct {
	Name
	MarkdownPath string
	JSONPath     string
}

// Path returns the markdown path, or the JSON path when there is no markdown.
func (a Artifact) Path() string {
	if a.MarkdownPath != "" {
		return a.MarkdownPath
	}
	return a.JSONPath
}

type registryKey struct {
	module string
	typ    model.ReportType
	tool   string
}

// Registry indexes the newest artifact written per (module, type, tool)
// during this process. It is safe for concurrent use.
type Registry struct {
	latest *xsync.MapOf[registryKey, Artifact]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{latest: xsync.NewMapOf[registryKey, Artifact]()}
}

// Record stores a unless a newer artifact is already indexed.
func (r *Registry) Record(a Artifact) {
	key := registryKey{module: a.Module, typ: a.Type, tool: a.Tool}
	r.latest.Compute(key, func(old Artifact, loaded bool) (Artifact, bool) {
		if loaded && a.Before(old.Name) {
			return old, false
		}
		return a, false
	})
}

// Forget drops the entry that points at a.
func (r *Registry) Forget(a Artifact) {
	key := registryKey{module: a.Module, typ: a.Type, tool: a.Tool}
	r.latest.Compute(key, func(old Artifact, loaded bool) (Artifact, bool) {
		return old, !loaded || old.ID == a.ID
	})
}

// Latest returns the newest indexed artifact for module and type. An empty
// tool matches any tool.
func (r *Registry) Latest(module string, typ model.ReportType, tool string) (Artifact, bool) {
	if tool != "" {
		return r.latest.Load(registryKey{module: module, typ: typ, tool: tool})
	}

	var (
		newest Artifact
		found  bool
	)
	r.latest.Range(func(key registryKey, a Artifact) bool {
		if key.module == module && key.typ == typ && (!found || newest.Before(a.Name)) {
			newest, found = a, true
		}
		return true
	})
	return newest, found
}
