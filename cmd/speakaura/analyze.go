package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MrWong99/speakaura/internal/analysis"
	"github.com/MrWong99/speakaura/internal/app"
	"github.com/MrWong99/speakaura/internal/config"
	"github.com/MrWong99/speakaura/internal/transcript"
)

func analyze(ctx context.Context, cfg *config.Config, level *slog.LevelVar, args []string) int {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	merge := fs.Bool("merge", false, "analyse all files as a single run, in argument order")
	outPath := fs.String("o", "-", "report destination; - is stdout")
	text := fs.String("transcript", "", "transcript text overriding the reconstructed one (requires -merge or a single file)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "speakaura analyze: at least one input file is required (- reads stdin)")
		return 2
	}

	items, err := loadItems(fs.Args(), *merge, *text)
	if err != nil {
		fmt.Fprintf(os.Stderr, "speakaura analyze: %v\n", err)
		return 1
	}

	application, code := newApp(ctx, cfg, level)
	if application == nil {
		return code
	}
	defer func() { _ = application.Shutdown(context.Background()) }()

	results, runErr := application.AnalyzeBatch(ctx, items)

	out := io.Writer(os.Stdout)
	if *outPath != "-" {
		f, err := os.Create(*outPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "speakaura analyze: %v\n", err)
			return 1
		}
		defer f.Close()
		out = f
	}
	if err := writeReport(out, results); err != nil {
		fmt.Fprintf(os.Stderr, "speakaura analyze: write report: %v\n", err)
		return 1
	}

	if runErr != nil {
		slog.Error("batch interrupted", "err", runErr)
		return 1
	}
	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	slog.Info("batch complete", "items", len(results), "failed", failed)
	if failed > 0 {
		return 1
	}
	return 0
}

// loadItems reads every path into a batch item. A file holding a request
// object ({"records": [...]}) is used as is; any other JSON document is
// treated as one raw transcription payload with the path as its source id.
func loadItems(paths []string, merge bool, text string) ([]app.BatchItem, error) {
	if text != "" && !merge && len(paths) > 1 {
		return nil, errors.New("-transcript needs -merge when several files are given")
	}

	items := make([]app.BatchItem, 0, len(paths))
	for _, p := range paths {
		data, err := readInput(p)
		if err != nil {
			return nil, err
		}
		in, err := parseInput(p, data)
		if err != nil {
			return nil, err
		}
		items = append(items, app.BatchItem{Name: p, Input: in})
	}

	if merge {
		merged := app.BatchItem{Name: "merged"}
		for _, it := range items {
			merged.Input.Records = append(merged.Input.Records, it.Input.Records...)
		}
		items = []app.BatchItem{merged}
	}
	if text != "" {
		items[0].Input.Transcript = text
	}
	return items, nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func parseInput(source string, data []byte) (analysis.Input, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err == nil {
		if _, ok := probe["records"]; ok {
			var in analysis.Input
			dec := json.NewDecoder(bytes.NewReader(data))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&in); err != nil {
				return analysis.Input{}, fmt.Errorf("%s: %w", source, err)
			}
			return in, nil
		}
	}
	// Anything else, malformed JSON included, is handed to the extractor,
	// which reports it as a skipped record.
	return analysis.Input{Records: []transcript.Record{{SourceID: source, Payload: data}}}, nil
}

func writeReport(w io.Writer, results []app.BatchResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
