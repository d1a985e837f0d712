// Package analysis runs the per-file pipeline and holds its results.
package analysis

import (
	"encoding/json"
	"maps"

	"github.com/ZacharyZcR/PEInspect/internal/digest"
	"github.com/ZacharyZcR/PEInspect/internal/pe"
)

// Result is the immutable analysis of one file.
type Result struct {
	path    string
	size    int64
	digests digest.Set
	summary pe.Summary
	imports []pe.ImportEntry
	exports []pe.ExportEntry
}

// Build assembles a Result. All inputs are copied.
func Build(path string, size int64, digests digest.Set, summary pe.Summary, imports []pe.ImportEntry, exports []pe.ExportEntry) *Result {
	return &Result{
		path:    path,
		size:    size,
		digests: digests.Clone(),
		summary: copySummary(summary),
		imports: copyImports(imports),
		exports: append([]pe.ExportEntry(nil), exports...),
	}
}

func (r *Result) Path() string { return r.path }

func (r *Result) Size() int64 { return r.size }

func (r *Result) Digests() digest.Set { return r.digests.Clone() }

func (r *Result) Summary() pe.Summary { return copySummary(r.summary) }

func (r *Result) Imports() []pe.ImportEntry { return copyImports(r.imports) }

func (r *Result) Exports() []pe.ExportEntry {
	return append([]pe.ExportEntry(nil), r.exports...)
}

// ImportedSymbolCount returns the total number of imported symbols.
func (r *Result) ImportedSymbolCount() int {
	n := 0
	for _, e := range r.imports {
		n += len(e.Symbols)
	}
	return n
}

// MarshalJSON renders the result for machine consumers.
func (r *Result) MarshalJSON() ([]byte, error) {
	imports := r.imports
	if imports == nil {
		imports = []pe.ImportEntry{}
	}
	exports := r.exports
	if exports == nil {
		exports = []pe.ExportEntry{}
	}
	return json.Marshal(struct {
		Path    string           `json:"path"`
		Size    int64            `json:"size"`
		Digests digest.Set       `json:"digests"`
		Header  pe.Summary       `json:"header"`
		Imports []pe.ImportEntry `json:"imports"`
		Exports []pe.ExportEntry `json:"exports"`
	}{r.path, r.size, r.digests, r.summary, imports, exports})
}

func copySummary(s pe.Summary) pe.Summary {
	s.Sections = append([]pe.SectionInfo(nil), s.Sections...)
	s.Anomalies = append([]string(nil), s.Anomalies...)
	if s.TLS != nil {
		tls := *s.TLS
		tls.Callbacks = append([]uint64(nil), tls.Callbacks...)
		s.TLS = &tls
	}
	if s.Relocations != nil {
		relocs := *s.Relocations
		relocs.ByType = maps.Clone(relocs.ByType)
		s.Relocations = &relocs
	}
	if s.Resources != nil {
		s.Resources = &pe.ResourceInfo{Types: maps.Clone(s.Resources.Types)}
	}
	return s
}

func copyImports(in []pe.ImportEntry) []pe.ImportEntry {
	if in == nil {
		return nil
	}
	out := make([]pe.ImportEntry, len(in))
	for i, e := range in {
		out[i] = pe.ImportEntry{
			Module:  e.Module,
			Symbols: append([]pe.Symbol(nil), e.Symbols...),
		}
	}
	return out
}
