// Package lifecycle names, writes, discovers and prunes report artifacts.
//
// Every report is a markdown file and a JSON twin in
// <reportDir>/<reportType>/. The file name alone identifies the module, tool,
// type, timestamp and id of a report, so discovery and retention never open
// the files. The report tree is shared by independently invoked tools; there
// is no cross-process locking.
package lifecycle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/boyarskiy/testanalyzer/internal/errors"
	"github.com/boyarskiy/testanalyzer/internal/model"
	"github.com/boyarskiy/testanalyzer/internal/pathresolver"
)

const (
	dirPerms  = 0755
	filePerms = 0644
	idLength  = 8
)

// ErrNotFound is returned when no report matches a lookup.
var ErrNotFound = errors.New("report not found")

// ReportContext identifies one report before it is written.
type ReportContext struct {
	Name
}

// Manager owns the report tree rooted at a directory. Create one per tool
// invocation and pass it along.
type Manager struct {
	dir      string
	now      func() time.Time
	log      *logrus.Entry
	registry *Registry

	mu   sync.Mutex
	last time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(m *Manager) { m.log = log }
}

// WithRegistry shares an index between managers.
func WithRegistry(r *Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// NewManager creates a manager for the report tree at dir.
func NewManager(dir string, opts ...Option) *Manager {
	m := &Manager{
		dir: dir,
		now: time.Now,
		log: logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = NewRegistry()
	}
	return m
}

// Dir returns the root of the report tree.
func (m *Manager) Dir() string {
	return m.dir
}

// TypeDir returns the directory holding reports of typ.
func (m *Manager) TypeDir(typ model.ReportType) string {
	return filepath.Join(m.dir, string(typ))
}

// StartReport captures the timestamp and a fresh id for a new report.
// Timestamps from one manager are strictly increasing.
func (m *Manager) StartReport(module string, typ model.ReportType, tool string) (ReportContext, error) {
	if !typ.Valid() {
		return ReportContext{}, errors.Errorf("unknown report type %q", typ)
	}

	m.mu.Lock()
	ts := m.now().UTC().Truncate(time.Millisecond)
	if !ts.After(m.last) {
		ts = m.last.Add(time.Millisecond)
	}
	m.last = ts
	m.mu.Unlock()

	return ReportContext{Name: Name{
		Module:    pathresolver.Sanitize(module),
		Tool:      pathresolver.Sanitize(tool),
		Type:      typ,
		Timestamp: ts,
		ID:        uuid.NewString()[:idLength],
	}}, nil
}

// WriteReport writes the markdown and JSON twins of rc and returns the
// markdown path. Both files are written to temporary names first and renamed
// into place only when both are complete, so a failed write leaves neither.
// When keepCount is positive older reports of the same module, type and tool
// are pruned afterwards; a pruning failure is logged and does not fail the
// write.
func (m *Manager) WriteReport(rc ReportContext, markdown []byte, payload any, keepCount int) (string, error) {
	if rc.Module == "" || rc.Tool == "" || !rc.Type.Valid() {
		return "", errors.Errorf("incomplete report context %+v", rc.Name)
	}

	data, err := marshalPayload(payload)
	if err != nil {
		return "", errors.WithStackTraceAndPrefix(err, "failed to encode report payload")
	}

	dir := m.TypeDir(rc.Type)
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return "", errors.WithStackTraceAndPrefix(err, "failed to create report directory %s", dir)
	}

	jsonTemp, err := writeTemp(dir, rc.JSONFile(), data)
	if err != nil {
		return "", err
	}
	mdTemp, err := writeTemp(dir, rc.MarkdownFile(), markdown)
	if err != nil {
		os.Remove(jsonTemp)
		return "", err
	}

	artifact := Artifact{
		Name:         rc.Name,
		MarkdownPath: filepath.Join(dir, rc.MarkdownFile()),
		JSONPath:     filepath.Join(dir, rc.JSONFile()),
	}

	if err := os.Rename(jsonTemp, artifact.JSONPath); err != nil {
		os.Remove(jsonTemp)
		os.Remove(mdTemp)
		return "", errors.WithStackTraceAndPrefix(err, "failed to finalize %s", artifact.JSONPath)
	}
	if err := os.Rename(mdTemp, artifact.MarkdownPath); err != nil {
		os.Remove(mdTemp)
		os.Remove(artifact.JSONPath)
		return "", errors.WithStackTraceAndPrefix(err, "failed to finalize %s", artifact.MarkdownPath)
	}

	m.registry.Record(artifact)
	m.log.WithField("path", artifact.MarkdownPath).Debug("Wrote report")

	if keepCount > 0 {
		if _, err := m.prune(rc.Module, rc.Type, rc.Tool, keepCount, false, rc.Base()); err != nil {
			m.log.WithError(err).Warn("Failed to prune old reports")
		}
	}

	return artifact.MarkdownPath, nil
}

func marshalPayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return []byte("null\n"), nil
	case []byte:
		if !json.Valid(p) {
			return nil, errors.New("payload is not valid JSON")
		}
		return p, nil
	default:
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
}

// writeTemp writes data to a hidden temporary file next to name.
func writeTemp(dir, name string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return "", errors.WithStackTraceAndPrefix(err, "failed to create temporary file for %s", name)
	}
	tempPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tempPath)
		return "", errors.WithStackTraceAndPrefix(err, "failed to write %s", tempPath)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return "", errors.WithStackTraceAndPrefix(err, "failed to sync %s", tempPath)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return "", errors.WithStackTraceAndPrefix(err, "failed to close %s", tempPath)
	}
	if err := os.Chmod(tempPath, filePerms); err != nil {
		os.Remove(tempPath)
		return "", errors.WithStackTraceAndPrefix(err, "failed to chmod %s", tempPath)
	}
	return tempPath, nil
}

// ListReports returns the artifacts of module and type, newest first. An
// empty tool matches any tool. A missing directory yields no artifacts.
func (m *Manager) ListReports(module string, typ model.ReportType, tool string) ([]Artifact, error) {
	dir := m.TypeDir(typ)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WithStackTraceAndPrefix(err, "failed to list %s", dir)
	}

	module = pathresolver.Sanitize(module)
	tool = pathresolver.Sanitize(tool)

	byBase := make(map[string]*Artifact)
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		name, err := ParseFileName(entry.Name())
		if err != nil {
			continue
		}
		if name.Module != module || name.Type != typ || (tool != "" && name.Tool != tool) {
			continue
		}

		a, ok := byBase[name.Base()]
		if !ok {
			a = &Artifact{Name: name}
			byBase[name.Base()] = a
		}
		path := filepath.Join(dir, entry.Name())
		if filepath.Ext(path) == extMarkdown {
			a.MarkdownPath = path
		} else {
			a.JSONPath = path
		}
	}

	artifacts := make([]Artifact, 0, len(byBase))
	for _, a := range byBase {
		artifacts = append(artifacts, *a)
	}
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[j].Before(artifacts[i].Name)
	})
	return artifacts, nil
}

// FindLatestReport returns the path of the newest report for module and type,
// preferring the markdown twin. An empty tool matches any tool. It returns
// ErrNotFound when there is none, including when the directory is missing.
func (m *Manager) FindLatestReport(module string, typ model.ReportType, tool string) (string, error) {
	if a, ok := m.registry.Latest(pathresolver.Sanitize(module), typ, pathresolver.Sanitize(tool)); ok {
		if _, err := os.Stat(a.Path()); err == nil {
			return a.Path(), nil
		}
		m.registry.Forget(a)
	}

	artifacts, err := m.ListReports(module, typ, tool)
	if err != nil {
		return "", err
	}
	if len(artifacts) == 0 {
		return "", ErrNotFound
	}
	return artifacts[0].Path(), nil
}

// CleanupReports keeps the newest keepCount reports of module and type across
// all tools and deletes the rest, markdown and JSON together. With dryRun
// nothing is deleted. It returns the paths that were (or would be) deleted.
func (m *Manager) CleanupReports(module string, typ model.ReportType, keepCount int, dryRun bool) ([]string, error) {
	return m.prune(module, typ, "", keepCount, dryRun, "")
}

// CleanupToolReports is CleanupReports restricted to one tool.
func (m *Manager) CleanupToolReports(module string, typ model.ReportType, tool string, keepCount int, dryRun bool) ([]string, error) {
	return m.prune(module, typ, tool, keepCount, dryRun, "")
}

// prune re-lists the directory, so it sees reports other tools wrote in the
// meantime. The artifact named protect is never deleted.
func (m *Manager) prune(module string, typ model.ReportType, tool string, keepCount int, dryRun bool, protect string) ([]string, error) {
	if keepCount < 0 {
		return nil, errors.Errorf("keep count must not be negative, got %d", keepCount)
	}

	artifacts, err := m.ListReports(module, typ, tool)
	if err != nil {
		return nil, err
	}
	if len(artifacts) <= keepCount {
		return nil, nil
	}

	var (
		deleted []string
		failed  error
	)
	for _, a := range artifacts[keepCount:] {
		if a.Base() == protect {
			continue
		}
		for _, path := range []string{a.MarkdownPath, a.JSONPath} {
			if path == "" {
				continue
			}
			if !dryRun {
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					failed = errors.WithStackTraceAndPrefix(err, "failed to delete %s", path)
					continue
				}
			}
			deleted = append(deleted, path)
		}
		if !dryRun {
			m.registry.Forget(a)
		}
	}

	m.log.WithField("deleted", len(deleted)).WithField("dry_run", dryRun).Debugf("Pruned %s reports for %s", typ, module)
	return deleted, failed
}
