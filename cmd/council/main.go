// Command council is the maintenance entry point for the character memory
// store: store, search, list, extract, decay and consolidate operations plus
// a doctor health check. The conversational UI lives elsewhere and talks to
// the same engine.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scrypster/council/internal/assembler"
	"github.com/scrypster/council/internal/config"
	"github.com/scrypster/council/internal/engine"
	"github.com/scrypster/council/internal/extractor"
	"github.com/scrypster/council/internal/llm"
	"github.com/scrypster/council/internal/storage"
	"github.com/scrypster/council/internal/storage/postgres"
	"github.com/scrypster/council/internal/storage/sqlite"
	"github.com/scrypster/council/internal/vector"
	"github.com/scrypster/council/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "store":
		runStore(args)
	case "search":
		runSearch(args)
	case "list":
		runList(args)
	case "delete":
		runDelete(args)
	case "extract":
		runExtract(args)
	case "prompt":
		runPrompt(args)
	case "decay":
		runDecay(args)
	case "consolidate":
		runConsolidate(args)
	case "doctor":
		runDoctor(args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Print(`council -- character memory maintenance

Usage: council <command> [flags]

Commands:
  store        Store a single memory for a character
  search       Search a character's memories
  list         List a character's memories
  delete       Delete a memory by id
  extract      Extract memories from a conversation transcript (JSON)
  prompt       Assemble the prompt context block for a character turn
  decay        Apply time-based importance decay
  consolidate  Merge near-duplicate memories
  doctor       Check configuration, storage and embedding health

Run 'council <command> -h' for command flags.
Configuration comes from COUNCIL_* environment variables, or a YAML file
named by COUNCIL_CONFIG.
`)
}

// app bundles the wired collaborators a command needs.
type app struct {
	cfg   *config.Config
	store *engine.Store

	// sqliteEngine marks that the vector index is volatile and must be
	// rebuilt per character before searching.
	sqliteEngine bool
}

func newApp() *app {
	cfg, err := config.Load()
	if err != nil {
		fatalf("config: %v", err)
	}

	var (
		repo  storage.MemoryRepository
		index vector.Index
	)
	sqliteEngine := false
	switch cfg.Storage.Engine {
	case "postgres":
		pg, err := postgres.NewMemoryRepository(cfg.Storage.PostgresDSN)
		if err != nil {
			fatalf("postgres: %v", err)
		}
		repo = pg
		index = postgres.NewVectorIndex(pg)
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0755); err != nil {
			fatalf("data path: %v", err)
		}
		sq, err := sqlite.NewMemoryRepository(filepath.Join(cfg.Storage.DataPath, "council.db"))
		if err != nil {
			fatalf("sqlite: %v", err)
		}
		repo = sq
		index = vector.NewChromemIndex()
		sqliteEngine = true
	}

	embedder, err := llm.NewEmbedder(providerConfig(cfg))
	if err != nil {
		fatalf("embedder: %v", err)
	}
	if cfg.LLM.EmbedRatePerSecond > 0 {
		embedder = llm.NewRateLimitedEmbedder(embedder, cfg.LLM.EmbedRatePerSecond, cfg.LLM.EmbedBurst)
	}

	store, err := engine.NewStore(repo, index, embedder, engine.Config{
		CacheSize: cfg.Search.CacheSize,
		Breaker:   llm.NewBreaker(),
	})
	if err != nil {
		fatalf("engine: %v", err)
	}

	return &app{cfg: cfg, store: store, sqliteEngine: sqliteEngine}
}

func providerConfig(cfg *config.Config) llm.ProviderConfig {
	pc := llm.ProviderConfig{
		Provider:     cfg.LLM.Provider,
		EmbeddingDim: cfg.LLM.EmbeddingDim,
	}
	switch cfg.LLM.Provider {
	case "openai":
		pc.APIKey = cfg.LLM.OpenAIAPIKey
		pc.Model = cfg.LLM.OpenAIModel
		pc.EmbeddingModel = cfg.LLM.OpenAIEmbeddingModel
	default:
		pc.BaseURL = cfg.LLM.OllamaURL
		pc.Model = cfg.LLM.OllamaModel
		pc.EmbeddingModel = cfg.LLM.OllamaEmbeddingModel
	}
	return pc
}

// ensureIndexed rebuilds the in-process index for a character when running
// on SQLite, where the vector index does not survive process restarts.
func (a *app) ensureIndexed(ctx context.Context, characterID string) {
	if !a.sqliteEngine {
		return
	}
	if _, err := a.store.ReindexCharacter(ctx, characterID); err != nil {
		fatalf("reindex: %v", err)
	}
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close: %v\n", err)
	}
}

func runStore(args []string) {
	fs := flag.NewFlagSet("store", flag.ExitOnError)
	characterID := fs.String("character", "", "Character id (required)")
	content := fs.String("content", "", "Memory content (required)")
	category := fs.String("category", "", "Category (core|episodic|semantic|emotional|procedural|author-defined; inferred when empty)")
	importance := fs.Float64("importance", 0, "Importance 0..1 (inferred when 0)")
	fs.Parse(args)

	a := newApp()
	defer a.close()
	ctx, cancel := commandContext()
	defer cancel()

	rec, err := a.store.StoreMemory(ctx, &types.MemoryRecord{
		CharacterID: *characterID,
		Content:     *content,
		Category:    types.Category(*category),
		Importance:  *importance,
	})
	if err != nil {
		fatalf("store: %v", err)
	}
	fmt.Printf("Stored %s  [%s, importance %.2f]\n", rec.ID, rec.Category, rec.Importance)
}

func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	characterID := fs.String("character", "", "Character id (required)")
	query := fs.String("query", "", "Search query (required)")
	category := fs.String("category", "", "Restrict to one category")
	limit := fs.Int("limit", 10, "Maximum results")
	minScore := fs.Float64("min-score", 0, "Relevance floor (config default when 0)")
	conversation := fs.Bool("conversation", false, "Apply diversity selection and conflict detection")
	fs.Parse(args)

	a := newApp()
	defer a.close()
	ctx, cancel := commandContext()
	defer cancel()
	a.ensureIndexed(ctx, *characterID)

	floor := *minScore
	if floor == 0 {
		floor = a.cfg.Search.MinScore
	}

	var (
		results []*types.MemoryRecord
		err     error
	)
	if *conversation {
		results, err = a.store.GetConversationMemories(ctx, engine.ConversationOptions{
			CharacterID: *characterID,
			Query:       *query,
			Limit:       *limit,
			MinScore:    floor,
			Filter:      storage.ListFilter{Category: types.Category(*category)},
		})
	} else {
		results, err = a.store.SearchMemories(ctx, engine.SearchOptions{
			CharacterID: *characterID,
			Query:       *query,
			Limit:       *limit,
			MinScore:    floor,
			Filter:      storage.ListFilter{Category: types.Category(*category)},
		})
	}
	if err != nil {
		fatalf("search: %v", err)
	}

	if len(results) == 0 {
		fmt.Println("No memories matched.")
		return
	}
	for _, m := range results {
		printMemory(m, true)
	}
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	characterID := fs.String("character", "", "Character id (required)")
	category := fs.String("category", "", "Restrict to one category")
	minImportance := fs.Float64("min-importance", 0, "Importance floor")
	limit := fs.Int("limit", 0, "Maximum results (0 = all)")
	fs.Parse(args)

	a := newApp()
	defer a.close()

	ctx, cancel := commandContext()
	defer cancel()

	results, err := a.store.ListMemories(ctx, *characterID, storage.ListFilter{
		Category:      types.Category(*category),
		MinImportance: *minImportance,
		Limit:         *limit,
	})
	if err != nil {
		fatalf("list: %v", err)
	}

	fmt.Printf("%d memories\n", len(results))
	for _, m := range results {
		printMemory(m, false)
	}
}

func runDelete(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	id := fs.String("id", "", "Memory id (required)")
	fs.Parse(args)

	a := newApp()
	defer a.close()

	ctx, cancel := commandContext()
	defer cancel()

	if err := a.store.DeleteMemory(ctx, *id); err != nil {
		fatalf("delete: %v", err)
	}
	fmt.Printf("Deleted %s\n", *id)
}

func runExtract(args []string) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	characterID := fs.String("character", "", "Character id (required)")
	transcript := fs.String("transcript", "", "Path to a conversation transcript JSON file, or '-' for stdin")
	dryRun := fs.Bool("dry-run", false, "Print extracted memories without storing them")
	fs.Parse(args)

	conv, err := readTranscript(*transcript)
	if err != nil {
		fatalf("transcript: %v", err)
	}

	a := newApp()
	defer a.close()
	ctx, cancel := commandContext()
	defer cancel()

	gen, err := llm.NewTextGenerator(providerConfig(a.cfg))
	if err != nil {
		fatalf("generator: %v", err)
	}
	ext := extractor.New(gen, extractor.Config{
		UseGenerative:          a.cfg.Extraction.UseGenerative,
		MinImportanceThreshold: a.cfg.Extraction.MinImportanceThreshold,
	})

	drafts, err := ext.ExtractFromConversation(ctx, conv, *characterID,
		a.cfg.Extraction.MaxMemoriesPerConversation, a.cfg.Extraction.MinImportanceThreshold)
	if err != nil {
		fatalf("extract: %v", err)
	}
	if len(drafts) == 0 {
		fmt.Println("Nothing memorable in this transcript.")
		return
	}

	if *dryRun {
		for _, m := range drafts {
			printMemory(m, false)
		}
		return
	}

	stored, err := a.store.StoreMemories(ctx, drafts)
	if err != nil {
		fatalf("store extracted: %v (stored %d of %d)", err, len(stored), len(drafts))
	}
	fmt.Printf("Stored %d memories for %s\n", len(stored), *characterID)
	for _, m := range stored {
		printMemory(m, false)
	}
}

// runPrompt assembles the context block a generation request would receive:
// profile, the conversation-selected memories for the query, and optionally
// the transcript tail.
func runPrompt(args []string) {
	fs := flag.NewFlagSet("prompt", flag.ExitOnError)
	characterID := fs.String("character", "", "Character id (required)")
	query := fs.String("query", "", "The user message to retrieve memories for (required)")
	name := fs.String("name", "", "Character display name (defaults to the character id)")
	description := fs.String("description", "", "Character description")
	traits := fs.String("traits", "", "Comma-separated character traits")
	transcript := fs.String("transcript", "", "Optional transcript JSON; its turns become the recent-dialogue section")
	budget := fs.Int("budget", assembler.DefaultTokenBudget, "Token budget for the assembled block")
	fs.Parse(args)

	var dialogue []types.ConversationTurn
	if *transcript != "" {
		conv, err := readTranscript(*transcript)
		if err != nil {
			fatalf("transcript: %v", err)
		}
		dialogue = conv.Turns
	}

	a := newApp()
	defer a.close()
	ctx, cancel := commandContext()
	defer cancel()
	a.ensureIndexed(ctx, *characterID)

	memories, err := a.store.GetConversationMemories(ctx, engine.ConversationOptions{
		CharacterID: *characterID,
		Query:       *query,
		MinScore:    a.cfg.Search.MinScore,
	})
	if err != nil {
		fatalf("retrieve: %v", err)
	}

	profile := assembler.Profile{Name: *name, Description: *description}
	if profile.Name == "" {
		profile.Name = *characterID
	}
	if *traits != "" {
		for _, tr := range strings.Split(*traits, ",") {
			profile.Traits = append(profile.Traits, strings.TrimSpace(tr))
		}
	}

	asm := &assembler.Assembler{TokenBudget: *budget}
	fmt.Print(asm.Build(profile, memories, dialogue))
}

func runDecay(args []string) {
	fs := flag.NewFlagSet("decay", flag.ExitOnError)
	characterID := fs.String("character", "", "Character id (required)")
	days := fs.Float64("days", 30, "Elapsed days to decay by")
	fs.Parse(args)

	a := newApp()
	defer a.close()

	ctx, cancel := commandContext()
	defer cancel()

	considered, err := a.store.ApplyMemoryDecay(ctx, *characterID, *days)
	if err != nil {
		fatalf("decay: %v", err)
	}
	fmt.Printf("Decayed %d memories by %.1f days (core memories exempt)\n", considered, *days)
}

func runConsolidate(args []string) {
	fs := flag.NewFlagSet("consolidate", flag.ExitOnError)
	characterID := fs.String("character", "", "Character id (required)")
	fs.Parse(args)

	a := newApp()
	defer a.close()
	ctx, cancel := commandContext()
	defer cancel()
	a.ensureIndexed(ctx, *characterID)

	res, err := a.store.ConsolidateMemories(ctx, *characterID)
	if err != nil {
		fatalf("consolidate: %v", err)
	}
	fmt.Printf("Processed %d memories, consolidated %d duplicate memories\n", res.Processed, res.Consolidated)
}

// runDoctor checks each layer the engine depends on and reports readiness.
func runDoctor(args []string) {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	fs.Parse(args)

	fmt.Println("Council Health Check")
	fmt.Println("====================")

	ok := true

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config:     FAIL (%v)\n", err)
		failNotReady()
	}
	fmt.Printf("Config:     OK (%s storage, %s provider)\n", cfg.Storage.Engine, cfg.LLM.Provider)

	a := newApp()
	defer a.close()
	ctx, cancel := commandContext()
	defer cancel()

	probe := "council-doctor-probe"
	if rec, err := a.store.StoreMemory(ctx, &types.MemoryRecord{
		CharacterID: probe, Content: "Doctor probe memory, safe to delete.",
	}); err != nil {
		fmt.Printf("Storage:    FAIL (%v)\n", err)
		ok = false
	} else {
		fmt.Println("Storage:    OK (write + embed + index)")
		a.ensureIndexed(ctx, probe)
		if _, err := a.store.SearchMemories(ctx, engine.SearchOptions{
			CharacterID: probe, Query: "doctor probe", MinScore: 0.01,
		}); err != nil {
			fmt.Printf("Search:     FAIL (%v)\n", err)
			ok = false
		} else {
			fmt.Println("Search:     OK")
		}
		if err := a.store.DeleteMemory(ctx, rec.ID); err != nil {
			fmt.Printf("Cleanup:    WARN (%v)\n", err)
		}
	}

	fmt.Println()
	if !ok {
		failNotReady()
	}
	fmt.Println("Status:     READY")
}

func failNotReady() {
	fmt.Println("Status:     NOT READY")
	os.Exit(1)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ERROR: "+format+"\n", args...)
	os.Exit(1)
}

func readTranscript(path string) (types.Conversation, error) {
	var conv types.Conversation
	if path == "" {
		return conv, fmt.Errorf("-transcript is required")
	}

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return conv, err
	}
	if err := json.Unmarshal(data, &conv); err != nil {
		return conv, fmt.Errorf("parse transcript: %w", err)
	}
	if len(conv.Turns) == 0 {
		return conv, fmt.Errorf("transcript has no turns")
	}
	return conv, nil
}

func printMemory(m *types.MemoryRecord, withScore bool) {
	excerpt := m.Content
	if len(excerpt) > 100 {
		excerpt = excerpt[:100] + "..."
	}
	if withScore && m.Score > 0 {
		fmt.Printf("  %.3f  [%s %.2f]  %s  %s\n", m.Score, m.Category, m.Importance, m.ID, excerpt)
	} else {
		fmt.Printf("  [%s %.2f]  %s  %s\n", m.Category, m.Importance, m.ID, excerpt)
	}
	if m.Metadata != nil && m.Metadata.Conflict != nil {
		fmt.Printf("          conflicts with %s\n", m.Metadata.Conflict.WithID)
	}
}

// commandContext bounds a one-shot command so a hung provider cannot wedge
// the process.
func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Minute)
}
