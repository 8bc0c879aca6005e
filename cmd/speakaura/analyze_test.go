package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/speakaura/internal/app"
	"github.com/MrWong99/speakaura/internal/config"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadItems(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	raw := writeTemp(t, dir, "raw.json", `{"results":{"a.wav":{}}}`)
	req := writeTemp(t, dir, "req.json", `{"records":[{"source_id":"x","payload":{}},{"source_id":"y","payload":{}}],"transcript":"hi"}`)

	items, err := loadItems([]string{raw, req}, false, "")
	if err != nil {
		t.Fatalf("loadItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if recs := items[0].Input.Records; len(recs) != 1 || recs[0].SourceID != raw {
		t.Errorf("raw item records = %+v", recs)
	}
	if in := items[1].Input; len(in.Records) != 2 || in.Transcript != "hi" {
		t.Errorf("request item = %+v", in)
	}

	merged, err := loadItems([]string{raw, req}, true, "override")
	if err != nil {
		t.Fatalf("loadItems merge: %v", err)
	}
	if len(merged) != 1 || len(merged[0].Input.Records) != 3 || merged[0].Input.Transcript != "override" {
		t.Errorf("merged = %+v", merged)
	}
	if merged[0].Input.Records[0].SourceID != raw {
		t.Error("merge did not keep argument order")
	}
}

func TestLoadItems_Errors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := writeTemp(t, dir, "a.json", `{}`)
	bad := writeTemp(t, dir, "bad.json", `{"records":[],"speaker":"x"}`)

	tests := []struct {
		name  string
		paths []string
		merge bool
		text  string
	}{
		{"missing file", []string{filepath.Join(dir, "absent.json")}, false, ""},
		{"unknown request field", []string{bad}, false, ""},
		{"transcript without merge", []string{a, a}, false, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := loadItems(tt.paths, tt.merge, tt.text); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestParseInput_MalformedIsPassedThrough(t *testing.T) {
	t.Parallel()
	in, err := parseInput("broken.json", []byte("{not json"))
	if err != nil {
		t.Fatalf("parseInput: %v", err)
	}
	if len(in.Records) != 1 || string(in.Records[0].Payload) != "{not json" {
		t.Errorf("input = %+v", in)
	}
}

func TestWriteReport(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := writeReport(&buf, []app.BatchResult{{Name: "a.json", Error: "analysis: no speech detected"}}); err != nil {
		t.Fatal(err)
	}
	var got []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	if len(got) != 1 || got[0]["name"] != "a.json" {
		t.Errorf("report = %s", buf.String())
	}
	if _, ok := got[0]["report"]; ok {
		t.Error("nil report should be omitted")
	}
}

func TestOptionHelpers(t *testing.T) {
	t.Parallel()
	opts := map[string]any{"organization": "org-1", "dimensions": 768, "timeout": "30s", "bad": "soon"}
	if optString(opts, "organization") != "org-1" || optString(opts, "dimensions") != "" || optString(nil, "x") != "" {
		t.Error("optString")
	}
	if optInt(opts, "dimensions") != 768 || optInt(opts, "organization") != 0 {
		t.Error("optInt")
	}
	if optDuration(opts, "timeout").String() != "30s" || optDuration(opts, "bad") != 0 {
		t.Error("optDuration")
	}
}

func TestRun_Usage(t *testing.T) {
	t.Parallel()
	if code := run(nil); code != 2 {
		t.Errorf("run() = %d, want 2", code)
	}
	cfg := writeTemp(t, t.TempDir(), "c.yaml", "server:\n  log_level: error\n")
	if code := run([]string{"-config", cfg, "dance"}); code != 2 {
		t.Errorf("unknown command exit = %d, want 2", code)
	}
	if code := run([]string{"-config", filepath.Join(t.TempDir(), "none.yaml"), "serve"}); code != 1 {
		t.Errorf("missing config exit = %d, want 1", code)
	}
	if code := run([]string{"-config", cfg, "analyze"}); code != 2 {
		t.Errorf("analyze without files exit = %d, want 2", code)
	}
}

func builtinRegistry() *config.Registry {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	return reg
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()
	base := func() *config.Config {
		return &config.Config{Providers: config.ProvidersConfig{
			LLM:        config.ProviderEntry{Name: "openai", APIKey: "sk-test", Model: "gpt-4o-mini"},
			Embeddings: config.ProviderEntry{Name: "openai", APIKey: "sk-test", Model: "text-embedding-3-small", Options: map[string]any{"dimensions": 768}},
		}}
	}

	t.Run("primaries and fallbacks", func(t *testing.T) {
		t.Parallel()
		cfg := base()
		cfg.Providers.LLMFallbacks = []config.ProviderEntry{{Name: "ollama", Model: "llama3.2"}}
		cfg.Providers.EmbeddingsFallbacks = []config.ProviderEntry{{Name: "ollama", Model: "nomic-embed-text"}}
		ps, err := buildProviders(cfg, builtinRegistry())
		if err != nil {
			t.Fatalf("buildProviders: %v", err)
		}
		if ps.LLM.ModelID() != "gpt-4o-mini" {
			t.Errorf("llm ModelID = %q", ps.LLM.ModelID())
		}
		if ps.Embeddings.Dimensions() != 768 {
			t.Errorf("Dimensions = %d, want 768", ps.Embeddings.Dimensions())
		}
	})

	t.Run("fallback dimension mismatch", func(t *testing.T) {
		t.Parallel()
		cfg := base()
		cfg.Providers.EmbeddingsFallbacks = []config.ProviderEntry{{Name: "ollama", Model: "mxbai-embed-large"}}
		if _, err := buildProviders(cfg, builtinRegistry()); err == nil {
			t.Error("expected dimension mismatch error")
		}
	})

	t.Run("missing embeddings", func(t *testing.T) {
		t.Parallel()
		cfg := base()
		cfg.Providers.Embeddings = config.ProviderEntry{}
		if _, err := buildProviders(cfg, builtinRegistry()); err == nil || !strings.Contains(err.Error(), "providers.embeddings") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("unregistered name", func(t *testing.T) {
		t.Parallel()
		cfg := base()
		cfg.Providers.LLM.Name = "clippy"
		if _, err := buildProviders(cfg, builtinRegistry()); !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("err = %v, want ErrProviderNotRegistered", err)
		}
	})
}
