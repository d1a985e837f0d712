package analysis

import (
	"context"
	"io"
	"log/slog"
	"runtime"

	"github.com/ZacharyZcR/PEInspect/internal/digest"
	"github.com/ZacharyZcR/PEInspect/internal/pe"
	"golang.org/x/sync/errgroup"
)

// Options configures an Analyzer.
type Options struct {
	Algorithms []digest.Algorithm
	ChunkSize  int
	Workers    int
	UseMmap    bool
	Logger     *slog.Logger
}

// Analyzer runs the load, digest and parse pipeline over files.
type Analyzer struct {
	hasher  *digest.Hasher
	workers int
	useMmap bool
	log     *slog.Logger
}

// New validates opts and returns an Analyzer. Configuration errors are
// reported here, before any file is opened.
func New(opts Options) (*Analyzer, error) {
	hasher, err := digest.New(opts.Algorithms, digest.WithChunkSize(opts.ChunkSize))
	if err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	log.Debug("analyzer configured", "algorithms", hasher.Algorithms(), "workers", workers, "mmap", opts.UseMmap)

	return &Analyzer{
		hasher:  hasher,
		workers: workers,
		useMmap: opts.UseMmap,
		log:     log,
	}, nil
}

// Analyze loads path, then hashes the bytes and parses the PE structures
// concurrently. Any stage failure fails the whole file with a *StageError.
func (a *Analyzer) Analyze(ctx context.Context, path string) (*Result, error) {
	log := a.log.With("path", path)
	log.Debug("analysis started")

	img, err := pe.Load(path, a.useMmap)
	if err != nil {
		return nil, &StageError{Path: path, Stage: StageLoad, Err: err}
	}
	defer func() {
		if err := img.Close(); err != nil {
			log.Warn("closing image failed", "err", err)
		}
	}()

	var (
		digests digest.Set
		st      structure
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		digests, err = a.hasher.ComputeBytes(gctx, img.Bytes())
		if err != nil {
			return &StageError{Path: path, Stage: StageDigest, Err: err}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		st, err = parseStructure(gctx, img)
		return err
	})
	if err := g.Wait(); err != nil {
		log.Debug("analysis failed", "err", err)
		return nil, err
	}

	log.Info("analysis finished",
		"size", img.Size(),
		"modules", len(st.imports),
		"exports", len(st.exports),
		"anomalies", len(st.summary.Anomalies))

	return Build(path, img.Size(), digests, st.summary, st.imports, st.exports), nil
}

// structure is the parsed side of the pipeline.
type structure struct {
	summary pe.Summary
	imports []pe.ImportEntry
	exports []pe.ExportEntry
}

func parseStructure(ctx context.Context, img *pe.Image) (structure, error) {
	path := img.Path()

	h, err := pe.Parse(img)
	if err != nil {
		return structure{}, &StageError{Path: path, Stage: StageParse, Err: err}
	}

	var st structure
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		imports, err := pe.ExtractImports(img, h)
		if err != nil {
			return &StageError{Path: path, Stage: StageImports, Err: err}
		}
		st.imports = imports
		return nil
	})
	g.Go(func() error {
		exports, err := pe.ExtractExports(img, h)
		if err != nil {
			return &StageError{Path: path, Stage: StageExports, Err: err}
		}
		st.exports = exports
		return nil
	})
	st.summary = pe.Summarize(img, h)

	if err := g.Wait(); err != nil {
		return structure{}, err
	}
	if err := ctx.Err(); err != nil {
		return structure{}, &StageError{Path: path, Stage: StageParse, Err: err}
	}
	return st, nil
}
