package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZacharyZcR/PEInspect/internal/analysis"
	"github.com/ZacharyZcR/PEInspect/internal/digest"
	"github.com/ZacharyZcR/PEInspect/internal/pe/petest"
)

func newTestShell(t *testing.T, input string, logs *bytes.Buffer) (*Shell, *bytes.Buffer) {
	t.Helper()
	a, err := analysis.New(analysis.Options{Algorithms: []digest.Algorithm{digest.SHA256}})
	if err != nil {
		t.Fatalf("analysis.New() error = %v", err)
	}

	var w io.Writer = io.Discard
	if logs != nil {
		w = logs
	}
	var out bytes.Buffer
	log := slog.New(slog.NewTextHandler(w, nil))
	return NewShell(strings.NewReader(input), &out, a, NewReporter(&out), log), &out
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		word string
		want Command
		ok   bool
	}{
		{word: "analyze", want: CommandAnalyze, ok: true},
		{word: "IMPORTS", want: CommandImports, ok: true},
		{word: "exports", want: CommandExports, ok: true},
		{word: "exit", want: CommandExit, ok: true},
		{word: "disasm", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.word, func(t *testing.T) {
			got, ok := ParseCommand(tt.word)
			if ok != tt.ok || (ok && got != tt.want) {
				t.Errorf("ParseCommand(%q) = %v, %v, want %v, %v", tt.word, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestShellRun(t *testing.T) {
	dir := t.TempDir()
	dll := petest.Builder{
		DLL: true,
		Imports: []petest.Import{
			{Module: "A.dll", Symbols: []petest.Symbol{{Name: "Foo"}, {Name: "Bar"}}},
		},
		Exports: &petest.Exports{
			Base:      1,
			Functions: []petest.Function{{RVA: 0x1000}},
			Names:     []petest.ExportName{{Name: "Run", Index: 0}},
		},
	}.Build().WriteFile(t, dir, "test.dll")
	missing := filepath.Join(dir, "missing.dll")

	tests := []struct {
		name     string
		input    string
		want     []string
		wantLogs []string
	}{
		{
			name:  "Imports with inline path",
			input: "imports " + dll + "\nexit\n",
			want:  []string{"A.dll (2 symbols)", "- Foo", "- Bar"},
		},
		{
			name:  "Path prompted",
			input: "exports\n" + dll + "\n",
			want:  []string{"Enter path to binary: ", "Run"},
		},
		{
			name:  "Analyze prints digests",
			input: "analyze " + dll + "\n",
			want:  []string{"[Digests]", "SHA256", "1 modules, 2 symbols"},
		},
		{
			name:     "Unknown command continues",
			input:    "disasm foo\nimports " + dll + "\n",
			want:     []string{"Unknown command \"disasm\"", "A.dll"},
			wantLogs: []string{"unknown command"},
		},
		{
			name:     "Failure does not stop the loop",
			input:    "analyze " + missing + "\nexports " + dll + "\n",
			want:     []string{"Error: ", "missing.dll", "Run"},
			wantLogs: []string{"kind=io"},
		},
		{
			name:  "Blank lines ignored",
			input: "\n   \nexit\nimports " + dll + "\n",
			want:  []string{"peinspect> "},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			sh, out := newTestShell(t, tt.input, &logs)

			if err := sh.Run(context.Background()); err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			for _, want := range tt.want {
				if !strings.Contains(out.String(), want) {
					t.Errorf("Run() output missing %q:\n%s", want, out.String())
				}
			}
			for _, want := range tt.wantLogs {
				if !strings.Contains(logs.String(), want) {
					t.Errorf("Run() logs missing %q:\n%s", want, logs.String())
				}
			}
		})
	}
}

func TestShellExitStopsReading(t *testing.T) {
	sh, out := newTestShell(t, "exit\nimports /nonexistent\n", nil)
	if err := sh.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.Contains(out.String(), "Error") {
		t.Errorf("Run() kept reading after exit:\n%s", out.String())
	}
}

func TestShellCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sh, _ := newTestShell(t, "imports x\n", nil)
	if err := sh.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want %v", err, context.Canceled)
	}
}

func TestDispatchRejectsExit(t *testing.T) {
	sh, _ := newTestShell(t, "", nil)
	if err := sh.Dispatch(context.Background(), CommandExit, "a.exe"); err == nil {
		t.Errorf("Dispatch(exit) error = nil, want error")
	}
	if err := sh.Dispatch(context.Background(), CommandAnalyze, ""); err == nil {
		t.Errorf("Dispatch(analyze, \"\") error = nil, want error")
	}
}
