package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/speakaura/internal/app"
	"github.com/MrWong99/speakaura/internal/config"
	"github.com/MrWong99/speakaura/internal/resilience"
	"github.com/MrWong99/speakaura/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/speakaura/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/speakaura/pkg/provider/embeddings/openai"
	"github.com/MrWong99/speakaura/pkg/provider/llm"
	"github.com/MrWong99/speakaura/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/speakaura/pkg/provider/llm/openai"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
//
// Recognised options keys: timeout (duration string) for every provider,
// organization for the OpenAI providers and dimensions for embeddings.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaillm.WithTimeout(d))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining vendors go through any-llm-go; ollama included, where
	// BaseURL is the server address and no key is needed.
	for _, vendor := range anyllm.Backends {
		if vendor == "openai" {
			continue
		}
		reg.RegisterLLM(vendor, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(vendor, entry.Model, opts...)
		})
	}

	// ── Embeddings ────────────────────────────────────────────────────────────
	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaembed.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaembed.WithTimeout(d))
		}
		if n := optInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, oaembed.WithDimensions(n))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})
	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, ollamaembed.WithTimeout(d))
		}
		if n := optInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, ollamaembed.WithDimensions(n))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	for _, kind := range []string{"llm", "embeddings"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates the configured providers and wraps each kind in
// a circuit-broken fallback group.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	pc := cfg.Providers
	if pc.LLM.Name == "" || pc.Embeddings.Name == "" {
		return nil, fmt.Errorf("providers.llm and providers.embeddings must both be configured")
	}
	fbCfg := resilience.FallbackConfig{}

	primaryLLM, err := reg.CreateLLM(pc.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", pc.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", pc.LLM.Name, "model", primaryLLM.ModelID())
	llmGroup := resilience.NewLLMFallback(primaryLLM, pc.LLM.Name, fbCfg)
	for i, entry := range pc.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %d %q: %w", i, entry.Name, err)
		}
		llmGroup.AddFallback(entry.Name, p)
		slog.Info("provider created", "kind", "llm", "name", entry.Name, "fallback", i)
	}

	primaryEmb, err := reg.CreateEmbeddings(pc.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("create embeddings provider %q: %w", pc.Embeddings.Name, err)
	}
	slog.Info("provider created", "kind", "embeddings", "name", pc.Embeddings.Name, "model", primaryEmb.ModelID())
	embGroup := resilience.NewEmbeddingsFallback(primaryEmb, pc.Embeddings.Name, fbCfg)
	for i, entry := range pc.EmbeddingsFallbacks {
		p, err := reg.CreateEmbeddings(entry)
		if err != nil {
			return nil, fmt.Errorf("create embeddings fallback %d %q: %w", i, entry.Name, err)
		}
		if err := embGroup.AddFallback(entry.Name, p); err != nil {
			return nil, err
		}
		slog.Info("provider created", "kind", "embeddings", "name", entry.Name, "fallback", i)
	}

	return &app.Providers{LLM: llmGroup, Embeddings: embGroup}, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

// printStartupSummary writes to stderr; stdout belongs to the analyze report.
func printStartupSummary(cfg *config.Config) {
	w := os.Stderr
	store := "memory"
	if cfg.Store.PostgresDSN != "" {
		store = "postgres"
	}
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        SpeakAura startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	fmt.Fprintf(w, "║  Fallbacks       : %-19s ║\n",
		fmt.Sprintf("%d llm, %d emb", len(cfg.Providers.LLMFallbacks), len(cfg.Providers.EmbeddingsFallbacks)))
	fmt.Fprintf(w, "║  Store           : %-19s ║\n", store)
	fmt.Fprintf(w, "║  Concurrency     : %-19d ║\n", cfg.Analysis.Concurrency)
	if cfg.Server.ListenAddr != "" {
		fmt.Fprintf(w, "║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(os.Stderr, "║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer option; YAML decodes whole numbers as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// optDuration parses a duration option such as "30s". Invalid values are
// logged and ignored.
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid duration option", "key", key, "value", s, "err", err)
		return 0
	}
	return d
}
