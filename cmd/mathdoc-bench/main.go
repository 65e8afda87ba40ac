// mathdoc-bench is a benchmark and stress test for the mathdoc library.
// It edits a document through every store backend and measures commits,
// history steps, snapshot encoding and durable writes.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/phroun/mathdoc"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	textOps    = 2000
	mathOps    = 500
	tableOps   = 50
	historyOps = 500
	encodeOps  = 200
)

type BenchResult struct {
	Name     string
	Duration time.Duration
	Ops      int
	Extra    string
}

func (r BenchResult) String() string {
	if r.Ops > 0 {
		opsPerSec := float64(r.Ops) / r.Duration.Seconds()
		if r.Extra != "" {
			return fmt.Sprintf("%-44s %12v  (%d ops, %.2f ops/sec) %s", r.Name, r.Duration.Round(time.Microsecond), r.Ops, opsPerSec, r.Extra)
		}
		return fmt.Sprintf("%-44s %12v  (%d ops, %.2f ops/sec)", r.Name, r.Duration.Round(time.Microsecond), r.Ops, opsPerSec)
	}
	if r.Extra != "" {
		return fmt.Sprintf("%-44s %12v  %s", r.Name, r.Duration.Round(time.Microsecond), r.Extra)
	}
	return fmt.Sprintf("%-44s %12v", r.Name, r.Duration.Round(time.Microsecond))
}

func main() {
	fmt.Println("mathdoc Benchmark and Stress Test")
	fmt.Println("=================================")
	fmt.Printf("Go version: %s\n", runtime.Version())
	fmt.Printf("GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
	fmt.Println()

	tmpDir, err := os.MkdirTemp("", "mathdoc-bench-*")
	if err != nil {
		fmt.Printf("Failed to create temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(tmpDir)

	reg := prometheus.NewRegistry()
	metrics := mathdoc.NewMetrics(reg)

	backends := []struct {
		name string
		open func() (mathdoc.Store, error)
	}{
		{"memory", func() (mathdoc.Store, error) { return mathdoc.NewMemoryStore(), nil }},
		{"file", func() (mathdoc.Store, error) { return mathdoc.NewFileStore(filepath.Join(tmpDir, "file")) }},
		{"sqlite", func() (mathdoc.Store, error) { return mathdoc.NewSQLiteStore(filepath.Join(tmpDir, "bench.db")) }},
		{"badger", func() (mathdoc.Store, error) {
			return mathdoc.NewBadgerStore(mathdoc.BadgerOptions{Path: filepath.Join(tmpDir, "badger")})
		}},
	}

	var results []BenchResult
	runBench := func(name string, fn func() BenchResult) {
		fmt.Printf("  %-44s ", name+"...")
		result := fn()
		result.Name = name
		fmt.Printf("%v\n", result.Duration.Round(time.Microsecond))
		results = append(results, result)
	}

	for _, b := range backends {
		fmt.Printf("Backend %s:\n", b.name)
		store, err := b.open()
		if err != nil {
			fmt.Printf("  Failed to open store: %v\n", err)
			continue
		}
		lib, err := mathdoc.Init(mathdoc.LibraryOptions{Store: store, Metrics: metrics})
		if err != nil {
			fmt.Printf("  Failed to init library: %v\n", err)
			continue
		}
		e, err := lib.Open(context.Background(), mathdoc.EditorOptions{})
		if err != nil {
			fmt.Printf("  Failed to open editor: %v\n", err)
			lib.Close()
			continue
		}

		prefix := b.name + ": "
		runBench(prefix+fmt.Sprintf("Insert text (x%d)", textOps), func() BenchResult { return benchInsertText(e) })
		runBench(prefix+fmt.Sprintf("Insert math (x%d)", mathOps), func() BenchResult { return benchInsertMath(e) })
		runBench(prefix+fmt.Sprintf("Tables with row/col ops (x%d)", tableOps), func() BenchResult { return benchTables(e) })
		runBench(prefix+fmt.Sprintf("Undo/redo cycles (x%d)", historyOps), func() BenchResult { return benchUndoRedo(e) })
		runBench(prefix+fmt.Sprintf("Snapshot encode (x%d)", encodeOps), func() BenchResult { return benchEncode(e) })
		runBench(prefix+"Flush", func() BenchResult { return benchFlush(e) })
		runBench(prefix+"Reopen from store", func() BenchResult { return benchReopen(lib) })

		e.Close()
		lib.Close()
		fmt.Println()
	}

	fmt.Println("=")
	fmt.Println("SUMMARY")
	fmt.Println("=")
	for _, r := range results {
		fmt.Println(r)
	}

	fmt.Println()
	fmt.Println("Counters:")
	printCounters(reg)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	fmt.Println()
	fmt.Printf("Peak heap allocation: %d MB\n", m.HeapSys/(1024*1024))
	fmt.Printf("Total allocations: %d MB\n", m.TotalAlloc/(1024*1024))
}

func benchInsertText(e *mathdoc.Editor) BenchResult {
	start := time.Now()
	for i := 0; i < textOps; i++ {
		mathdoc.Dispatch(e, mathdoc.InsertTextCommand, "lorem ipsum ")
		if i%50 == 49 {
			mathdoc.Dispatch(e, mathdoc.InsertParagraphCommand, struct{}{})
		}
	}
	return BenchResult{Duration: time.Since(start), Ops: textOps}
}

func benchInsertMath(e *mathdoc.Editor) BenchResult {
	start := time.Now()
	for i := 0; i < mathOps; i++ {
		mathdoc.Dispatch(e, mathdoc.InsertMathCommand, mathdoc.InsertMathPayload{
			Equation: fmt.Sprintf(`\frac{a_%d}{b^2} + \sqrt{x}`, i),
			Inline:   i%2 == 0,
		})
	}
	return BenchResult{Duration: time.Since(start), Ops: mathOps}
}

func benchTables(e *mathdoc.Editor) BenchResult {
	start := time.Now()
	for i := 0; i < tableOps; i++ {
		mathdoc.Dispatch(e, mathdoc.InsertTableCommand, mathdoc.InsertTablePayload{
			Rows:           3,
			Columns:        3,
			IncludeHeaders: mathdoc.TableHeaders{Rows: true},
		})
		mathdoc.Dispatch(e, mathdoc.InsertTableRowCommand, true)
		mathdoc.Dispatch(e, mathdoc.InsertTableColumnCommand, true)
		mathdoc.Dispatch(e, mathdoc.DeleteTableRowCommand, struct{}{})
	}
	return BenchResult{Duration: time.Since(start), Ops: tableOps * 4}
}

func benchUndoRedo(e *mathdoc.Editor) BenchResult {
	start := time.Now()
	ops := 0
	for i := 0; i < historyOps; i++ {
		if ok, _ := e.Undo(); ok {
			ops++
		}
	}
	for i := 0; i < historyOps; i++ {
		if ok, _ := e.Redo(); ok {
			ops++
		}
	}
	return BenchResult{Duration: time.Since(start), Ops: ops}
}

func benchEncode(e *mathdoc.Editor) BenchResult {
	start := time.Now()
	size := 0
	for i := 0; i < encodeOps; i++ {
		data, err := e.JSON()
		if err != nil {
			return BenchResult{Duration: time.Since(start), Extra: fmt.Sprintf("ERROR: %v", err)}
		}
		size = len(data)
	}
	return BenchResult{Duration: time.Since(start), Ops: encodeOps, Extra: fmt.Sprintf("%d KB", size/1024)}
}

func benchFlush(e *mathdoc.Editor) BenchResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Flush(ctx); err != nil {
		return BenchResult{Duration: time.Since(start), Extra: fmt.Sprintf("ERROR: %v", err)}
	}
	return BenchResult{Duration: time.Since(start)}
}

func benchReopen(lib *mathdoc.Library) BenchResult {
	start := time.Now()
	e, err := lib.Open(context.Background(), mathdoc.EditorOptions{})
	if err != nil {
		return BenchResult{Duration: time.Since(start), Extra: fmt.Sprintf("ERROR: %v", err)}
	}
	d := time.Since(start)
	source := e.LoadResult().Source
	e.Close()
	return BenchResult{Duration: d, Extra: "source=" + source.String()}
}

func printCounters(reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		fmt.Printf("  gather: %v\n", err)
		return
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			label := ""
			for _, lp := range m.GetLabel() {
				label += fmt.Sprintf(" %s=%s", lp.GetName(), lp.GetValue())
			}
			fmt.Printf("  %-48s%-36s %g\n", mf.GetName(), label, m.GetCounter().GetValue())
		}
	}
}
