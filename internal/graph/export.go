package graph

import (
	"encoding/json"
	"io"
)

// ExportDocument is the JSON image written by Export.
type ExportDocument struct {
	Version uint64       `json:"version"`
	Nodes   []*Node      `json:"nodes"`
	Edges   []*Edge      `json:"edges"`
	Files   []FileRecord `json:"files"`
}

// Export writes the snapshot as indented JSON, nodes and edges in
// insertion order.
func (s *Snapshot) Export(w io.Writer) error {
	doc := ExportDocument{
		Version: s.version,
		Nodes:   s.Nodes(""),
		Edges:   s.Edges(),
		Files:   s.Files(),
	}
	if doc.Nodes == nil {
		doc.Nodes = []*Node{}
	}
	if doc.Edges == nil {
		doc.Edges = []*Edge{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(doc)
}
