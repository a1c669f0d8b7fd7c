package report

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON returns the document as indented JSON.
func MarshalJSON(doc *Document) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("report document is required")
	}
	return json.MarshalIndent(doc, "", "  ")
}

// ParseJSON decodes a document written by MarshalJSON.
func ParseJSON(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	if doc.Analysis == nil {
		return nil, fmt.Errorf("report has no analysis")
	}
	return &doc, nil
}
