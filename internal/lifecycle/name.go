package lifecycle

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/boyarskiy/testanalyzer/internal/model"
)

// TimestampLayout sorts lexically in time order.
const TimestampLayout = "20060102-150405.000"

const (
	extMarkdown = ".md"
	extJSON     = ".json"
)

// Name is everything a report file name encodes:
//
//	<module>_<tool>_<type>@<timestamp>_<id>.md
//
// Module and tool are sanitized to [a-z0-9-], so underscores only separate
// fields.
type Name struct {
	Module    string
	Tool      string
	Type      model.ReportType
	Timestamp time.Time
	ID        string
}

// Base returns the file name without extension.
func (n Name) Base() string {
	return fmt.Sprintf("%s_%s_%s@%s_%s", n.Module, n.Tool, n.Type, n.Timestamp.UTC().Format(TimestampLayout), n.ID)
}

// MarkdownFile returns the markdown file name.
func (n Name) MarkdownFile() string {
	return n.Base() + extMarkdown
}

// JSONFile returns the JSON file name.
func (n Name) JSONFile() string {
	return n.Base() + extJSON
}

// Before orders names by embedded timestamp, then by id.
func (n Name) Before(other Name) bool {
	if !n.Timestamp.Equal(other.Timestamp) {
		return n.Timestamp.Before(other.Timestamp)
	}
	return n.ID < other.ID
}

// ParseFileName recovers the fields of a report file name. The directory and
// a .md or .json extension are ignored.
func ParseFileName(file string) (Name, error) {
	base := filepath.Base(file)
	switch ext := filepath.Ext(base); ext {
	case extMarkdown, extJSON:
		base = strings.TrimSuffix(base, ext)
	default:
		return Name{}, fmt.Errorf("%q is not a report file", file)
	}

	head, tail, ok := strings.Cut(base, "@")
	if !ok {
		return Name{}, fmt.Errorf("%q has no timestamp", file)
	}

	fields := strings.Split(head, "_")
	if len(fields) != 3 || fields[0] == "" || fields[1] == "" {
		return Name{}, fmt.Errorf("%q does not match <module>_<tool>_<type>", file)
	}
	typ := model.ReportType(fields[2])
	if !typ.Valid() {
		return Name{}, fmt.Errorf("%q has unknown report type %q", file, fields[2])
	}

	stamp, id, ok := strings.Cut(tail, "_")
	if !ok || id == "" {
		return Name{}, fmt.Errorf("%q has no report id", file)
	}
	ts, err := time.Parse(TimestampLayout, stamp)
	if err != nil {
		return Name{}, fmt.Errorf("%q has a malformed timestamp: %w", file, err)
	}

	return Name{Module: fields[0], Tool: fields[1], Type: typ, Timestamp: ts, ID: id}, nil
}
