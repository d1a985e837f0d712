// Package cli renders analysis results and runs the interactive shell.
package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/ZacharyZcR/PEInspect/internal/analysis"
	"github.com/ZacharyZcR/PEInspect/internal/pe"
	"github.com/fatih/color"
)

const (
	maxImportsShown = 10
	maxExportsShown = 20
)

// Reporter formats and prints analysis results.
type Reporter struct {
	w              io.Writer
	verbose        bool
	suspiciousOnly bool
}

// NewReporter creates a reporter writing to w.
func NewReporter(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

// SetVerbose enables verbose mode (show all symbols).
func (r *Reporter) SetVerbose(verbose bool) {
	r.verbose = verbose
}

// SetSuspiciousOnly enables suspicious-only mode (show RWX sections only).
func (r *Reporter) SetSuspiciousOnly(suspicious bool) {
	r.suspiciousOnly = suspicious
}

// Print outputs the complete analysis report.
func (r *Reporter) Print(res *analysis.Result) {
	r.printHeader()
	r.printBasicInfo(res)
	r.printDigests(res)
	r.printSections(res)
	r.printAnomalies(res)
	r.printImports(res)
	r.printExports(res)
}

// PrintAnalyze prints digests and the header summary.
func (r *Reporter) PrintAnalyze(res *analysis.Result) {
	r.printHeader()
	r.printBasicInfo(res)
	r.printDigests(res)
	r.printSections(res)
	r.printAnomalies(res)

	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintln(r.w, "\n[Tables]")
	fmt.Fprintf(r.w, "  %-20s: %d modules, %d symbols\n", "Imports", len(res.Imports()), res.ImportedSymbolCount())
	fmt.Fprintf(r.w, "  %-20s: %d\n", "Exports", len(res.Exports()))
}

// PrintImports prints only the import table.
func (r *Reporter) PrintImports(res *analysis.Result) {
	r.printImports(res)
}

// PrintExports prints only the export table.
func (r *Reporter) PrintExports(res *analysis.Result) {
	r.printExports(res)
}

func (r *Reporter) printHeader() {
	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Fprintln(r.w, "\n==========================================")
	cyan.Fprintln(r.w, "          PEInspect Analysis Report")
	cyan.Fprintln(r.w, "==========================================")
}

func (r *Reporter) printBasicInfo(res *analysis.Result) {
	s := res.Summary()
	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintln(r.w, "\n[Basic Info]")

	kind := "EXE"
	if s.IsDLL {
		kind = "DLL"
	}

	fmt.Fprintf(r.w, "  %-20s: %s\n", "File", res.Path())
	fmt.Fprintf(r.w, "  %-20s: %s\n", "Size", formatSize(res.Size()))
	fmt.Fprintf(r.w, "  %-20s: %s\n", "Architecture", s.Architecture)
	fmt.Fprintf(r.w, "  %-20s: %s\n", "Type", kind)
	fmt.Fprintf(r.w, "  %-20s: %s\n", "Subsystem", s.Subsystem)
	fmt.Fprintf(r.w, "  %-20s: 0x%X\n", "Entry point", s.EntryPoint)
	fmt.Fprintf(r.w, "  %-20s: 0x%X\n", "Image base", s.ImageBase)
	fmt.Fprintf(r.w, "  %-20s: %s\n", "Timestamp", s.Timestamp.Format("2006-01-02 15:04:05 UTC"))

	fmt.Fprintf(r.w, "  %-20s: ", "Checksum")
	switch {
	case s.Checksum.Stored == 0:
		color.New(color.FgHiBlack).Fprint(r.w, "not set")
	case s.Checksum.Valid:
		color.New(color.FgGreen).Fprintf(r.w, "valid (0x%08X)", s.Checksum.Stored)
	default:
		color.New(color.FgRed, color.Bold).Fprintf(r.w, "invalid (stored: 0x%08X, computed: 0x%08X)",
			s.Checksum.Stored, s.Checksum.Computed)
	}
	fmt.Fprintln(r.w)

	cert := "absent"
	if s.HasCertificate {
		cert = "present (not verified)"
	}
	fmt.Fprintf(r.w, "  %-20s: %s\n", "Certificate", cert)

	if s.Relocations != nil {
		fmt.Fprintf(r.w, "  %-20s: %d blocks, %d entries (%s)\n", "Relocations",
			s.Relocations.BlockCount, s.Relocations.TotalEntries, strings.Join(s.Relocations.TypeNames(), ", "))
	}
	if s.Resources != nil {
		var parts []string
		for _, name := range s.Resources.TypeNames() {
			parts = append(parts, fmt.Sprintf("%s x%d", name, s.Resources.Types[name]))
		}
		fmt.Fprintf(r.w, "  %-20s: %s\n", "Resources", strings.Join(parts, ", "))
	}
	if s.TLS != nil {
		fmt.Fprintf(r.w, "  %-20s: %d callbacks\n", "TLS", len(s.TLS.Callbacks))
		// TLS callbacks run before the entry point.
		yellow := color.New(color.FgYellow)
		for _, cb := range s.TLS.Callbacks {
			yellow.Fprintf(r.w, "  %-20s  - 0x%X\n", "", cb)
		}
	}
}

func (r *Reporter) printDigests(res *analysis.Result) {
	d := res.Digests()
	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintln(r.w, "\n[Digests]")

	for _, alg := range d.Algorithms() {
		v, _ := d.Get(alg)
		fmt.Fprintf(r.w, "  %-20s: %s\n", strings.ToUpper(string(alg)), v)
	}
}

func (r *Reporter) printSections(res *analysis.Result) {
	sections := res.Summary().Sections

	if r.suspiciousOnly {
		var suspicious []pe.SectionInfo
		for _, s := range sections {
			if s.Permissions == "RWX" {
				suspicious = append(suspicious, s)
			}
		}
		sections = suspicious
	}

	yellow := color.New(color.FgYellow, color.Bold)
	if r.suspiciousOnly {
		yellow.Fprintf(r.w, "\n[Suspicious Sections] (%d)\n", len(sections))
	} else {
		yellow.Fprintf(r.w, "\n[Sections] (%d)\n", len(sections))
	}

	if len(sections) == 0 {
		if r.suspiciousOnly {
			fmt.Fprintln(r.w, "  No suspicious sections")
		} else {
			fmt.Fprintln(r.w, "  No sections")
		}
		return
	}

	fmt.Fprintln(r.w, strings.Repeat("-", 100))
	fmt.Fprintf(r.w, "  %-10s %-12s %-15s %-15s %-8s %-8s %-12s\n",
		"Name", "VirtAddr", "VirtSize", "RawSize", "Perm", "Entropy", "Flags")
	fmt.Fprintln(r.w, strings.Repeat("-", 100))

	for _, section := range sections {
		// Highlight dangerous permissions (RWX)
		permColor := color.New(color.FgWhite)
		if section.Permissions == "RWX" {
			permColor = color.New(color.FgRed, color.Bold)
		} else if strings.Contains(section.Permissions, "X") {
			permColor = color.New(color.FgYellow)
		}

		fmt.Fprintf(r.w, "  %-10s 0x%08X   %-15s %-15s ",
			section.Name,
			section.VirtualAddress,
			formatSize(int64(section.VirtualSize)),
			formatSize(int64(section.Size)),
		)
		permColor.Fprintf(r.w, "%-8s", section.Permissions)
		fmt.Fprintf(r.w, " %-8.2f 0x%08X\n", section.Entropy, section.Characteristics)
	}
	fmt.Fprintln(r.w, strings.Repeat("-", 100))
}

func (r *Reporter) printAnomalies(res *analysis.Result) {
	anomalies := res.Summary().Anomalies
	if len(anomalies) == 0 {
		return
	}

	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintf(r.w, "\n[Anomalies] (%d)\n", len(anomalies))
	red := color.New(color.FgRed)
	for _, a := range anomalies {
		red.Fprintf(r.w, "  ! %s\n", a)
	}
}

func (r *Reporter) printImports(res *analysis.Result) {
	imports := res.Imports()
	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintf(r.w, "\n[Imports] (%d modules)\n", len(imports))

	if len(imports) == 0 {
		fmt.Fprintln(r.w, "  No imports")
		return
	}

	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)
	for i, imp := range imports {
		count := len(imp.Symbols)
		green.Fprintf(r.w, "  %3d. %s (%d symbols)\n", i+1, imp.Module, count)

		shown := count
		if !r.verbose && shown > maxImportsShown {
			shown = maxImportsShown
		}
		for _, sym := range imp.Symbols[:shown] {
			if sym.IsOrdinal() {
				gray.Fprintf(r.w, "       - %s\n", sym)
				continue
			}
			fmt.Fprintf(r.w, "       - %s\n", sym)
		}
		if count > shown {
			gray.Fprintf(r.w, "       ... (%d more)\n", count-shown)
		}
	}
	fmt.Fprintln(r.w)
}

func (r *Reporter) printExports(res *analysis.Result) {
	exports := res.Exports()
	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintf(r.w, "\n[Exports] (%d)\n", len(exports))

	if len(exports) == 0 {
		fmt.Fprintln(r.w, "  No exports")
		return
	}

	shown := len(exports)
	if !r.verbose && shown > maxExportsShown {
		shown = maxExportsShown
	}

	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)
	for i, e := range exports[:shown] {
		name := e.Name
		if !e.HasName() {
			name = "(ordinal only)"
		}
		green.Fprintf(r.w, "  %3d. %-40s", i+1, name)
		fmt.Fprintf(r.w, " ordinal %-5d 0x%08X", e.Ordinal, e.RVA)
		if e.Forwarder != "" {
			gray.Fprintf(r.w, " -> %s", e.Forwarder)
		}
		fmt.Fprintln(r.w)
	}

	if len(exports) > shown {
		gray.Fprintf(r.w, "  ... (%d more)\n", len(exports)-shown)
	}
	fmt.Fprintln(r.w)
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
