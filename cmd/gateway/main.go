package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/praetor-ai/rampart/pkg/audit"
	"github.com/praetor-ai/rampart/pkg/config"
	"github.com/praetor-ai/rampart/pkg/corpus"
	"github.com/praetor-ai/rampart/pkg/detect"
	"github.com/praetor-ai/rampart/pkg/events"
	"github.com/praetor-ai/rampart/pkg/guard"
	"github.com/praetor-ai/rampart/pkg/patterns"
	"github.com/praetor-ai/rampart/pkg/policy"
)

const Version = "0.1.0"

// gateway bundles everything the HTTP layer needs, plus the handles that
// have to be closed on shutdown.
type gateway struct {
	svc      *guard.Service
	patterns *detect.PatternDetector
	store    *corpus.Store
	emitter  *events.Emitter
	closers  []func() error
}

// buildGateway assembles the pipeline from configuration. Optional tiers
// degrade to disabled with a log line instead of failing startup.
func buildGateway(cfg *config.Config) (*gateway, error) {
	gw := &gateway{}

	// Pattern tier, always on.
	catalog := patterns.DefaultCatalog()
	if cfg.PatternsPath != "" {
		loaded, err := patterns.LoadFile(cfg.PatternsPath)
		if err != nil {
			return nil, fmt.Errorf("load patterns: %w", err)
		}
		catalog = loaded
		log.Printf("✓ Pattern catalog loaded from %s (%d rules)", cfg.PatternsPath, catalog.Len())
	} else {
		log.Printf("✓ Pattern catalog: builtin (%d rules)", catalog.Len())
	}
	gw.patterns = detect.NewPatternDetector(catalog)
	detectors := []detect.Detector{gw.patterns}

	// Knowledge graph tier, always on. Embeddings are optional; without
	// Ollama the corpus falls back to lexical matching.
	corpusCfg := corpus.Config{
		AttackFloor:   cfg.AttackFloor,
		BenignCeiling: cfg.BenignCeiling,
		MaxSamples:    cfg.CorpusMaxSamples,
	}
	if cfg.OllamaURL != "" {
		corpusCfg.Embedding = corpus.NewOllamaEmbeddingFunc(cfg.OllamaURL, cfg.EmbedModel)
		log.Printf("✓ Corpus embeddings enabled (ollama, model %s)", cfg.EmbedModel)
	} else {
		log.Println("○ Corpus embeddings disabled (lexical matching only)")
	}
	store, err := corpus.NewStore(corpusCfg)
	if err != nil {
		return nil, fmt.Errorf("corpus store: %w", err)
	}
	gw.store = store
	detectors = append(detectors, corpus.NewDetector(store, 0, 0))

	// Local model tier, optional.
	if detect.LocalModelEnabled() {
		if mcfg := detect.AutoLocalModelConfig(); mcfg != nil {
			model := detect.NewLocalModel(*mcfg)
			if model.Ready() {
				detectors = append(detectors, model)
				gw.closers = append(gw.closers, model.Close)
				log.Printf("✓ Local model enabled (%s)", mcfg.ModelPath)
			} else {
				log.Println("○ Local model disabled (initialization failed)")
			}
		} else {
			log.Println("○ Local model disabled (no ONNX model found)")
		}
	} else {
		log.Println("○ Local model disabled")
	}

	// Remote LLM tier, optional.
	if llm := detect.NewRemoteLLM(detect.RemoteLLMConfig{
		Provider: detect.Provider(cfg.LLMProvider),
		APIKey:   cfg.LLMAPIKey,
		Model:    cfg.LLMModel,
		BaseURL:  cfg.LLMBaseURL,
	}); llm != nil {
		detectors = append(detectors, llm)
		log.Printf("✓ Remote LLM classifier enabled (provider %s)", cfg.LLMProvider)
	} else {
		log.Println("○ Remote LLM classifier disabled (no model configured)")
	}

	orch := detect.NewOrchestrator(cfg.DetectBudget, detectors...)

	// Policy rules and ticket store.
	rules, err := policy.LoadRules(cfg.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	var tickets policy.TicketStore
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rts, err := policy.NewRedisTicketStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("redis ticket store: %w", err)
		}
		tickets = rts
		log.Printf("✓ Ticket store: redis (%s)", cfg.RedisAddr)
	} else {
		tickets = policy.NewMemoryTicketStore()
		log.Println("✓ Ticket store: in-memory")
	}
	gw.closers = append(gw.closers, tickets.Close)

	engine := policy.NewEngine(rules, tickets, policy.EngineConfig{
		BlockThreshold: cfg.BlockThreshold,
		WarnThreshold:  cfg.WarnThreshold,
		TicketTTL:      cfg.TicketTTL,
	})

	// Audit backend.
	var sink audit.Sink
	if cfg.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pg, err := audit.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres audit: %w", err)
		}
		sink = pg
		log.Println("✓ Audit backend: postgres")
	} else {
		jl, err := audit.OpenJSONL(cfg.AuditLogPath)
		if err != nil {
			return nil, fmt.Errorf("audit log: %w", err)
		}
		sink = jl
		log.Printf("✓ Audit backend: jsonl (%s)", cfg.AuditLogPath)
	}
	gw.closers = append(gw.closers, sink.Close)

	// Event stream.
	sinks := []events.Sink{events.LogSink{}}
	if cfg.EventLogPath != "" {
		fs, err := events.NewFileSink(cfg.EventLogPath)
		if err != nil {
			return nil, fmt.Errorf("event log: %w", err)
		}
		sinks = append(sinks, fs)
	}
	gw.emitter = events.NewEmitter(events.Config{QueueSize: cfg.EventQueueSize}, sinks...)

	svc, err := guard.NewService(guard.Config{
		Orchestrator:  orch,
		Engine:        engine,
		Audit:         sink,
		Events:        gw.emitter,
		Recorder:      corpus.NewRecorder(store),
		AttackFloor:   cfg.AttackFloor,
		BenignCeiling: cfg.BenignCeiling,
	})
	if err != nil {
		return nil, err
	}
	gw.svc = svc

	log.Printf("✓ Detectors: %s", strings.Join(orch.Detectors(), ", "))
	return gw, nil
}

func (gw *gateway) close() {
	if gw.emitter != nil {
		gw.emitter.Close()
	}
	for i := len(gw.closers) - 1; i >= 0; i-- {
		if err := gw.closers[i](); err != nil {
			log.Printf("[SHUTDOWN] close failed: %v", err)
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, guard.ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, policy.ErrTicketNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, policy.ErrTicketResolved), errors.Is(err, policy.ErrTicketExpired):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func runHTTPServer(cfg *config.Config) {
	cfg.MustValidate()

	gw, err := buildGateway(cfg)
	if err != nil {
		log.Fatalf("[STARTUP] %v", err)
	}
	defer gw.close()

	app := fiber.New(fiber.Config{
		AppName: "Rampart Gateway",
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": Version})
	})

	app.Post("/v1/evaluate", func(c fiber.Ctx) error {
		var req guard.Request
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		ev, err := gw.svc.Evaluate(c.Context(), &req)
		if err != nil {
			return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(ev)
	})

	app.Post("/v1/reports", func(c fiber.Ctx) error {
		var req struct {
			ActionID   string `json:"action_id"`
			DecisionID string `json:"decision_id"`
			Outcome    string `json:"outcome"`
			Detail     string `json:"detail,omitempty"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if err := gw.svc.Report(c.Context(), req.ActionID, req.DecisionID, req.Outcome, req.Detail); err != nil {
			return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "recorded"})
	})

	app.Get("/v1/confirmations/:id", func(c fiber.Ctx) error {
		t, err := gw.svc.Ticket(c.Context(), c.Params("id"))
		if err != nil {
			return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(t)
	})

	app.Post("/v1/confirmations/:id", func(c fiber.Ctx) error {
		var req struct {
			Approve bool `json:"approve"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		t, err := gw.svc.Confirm(c.Context(), c.Params("id"), req.Approve)
		if err != nil {
			return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(t)
	})

	app.Get("/v1/policy/template", func(c fiber.Ctx) error {
		c.Set("Content-Type", "application/yaml")
		return c.SendString(policy.DefaultRulesYAML())
	})

	app.Get("/v1/stats", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"violations": gw.svc.ViolationCounts(),
			"corpus":     gw.store.Stats(),
			"events":     gw.emitter.Snapshot(),
		})
	})

	// Reload the pattern catalog and policy rules without a restart.
	app.Post("/v1/policy/reload", func(c fiber.Ctx) error {
		if cfg.PatternsPath != "" {
			catalog, err := patterns.LoadFile(cfg.PatternsPath)
			if err != nil {
				return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
			}
			gw.patterns.Reload(catalog)
		}
		return c.JSON(fiber.Map{"status": "reloaded"})
	})

	// Periodic corpus consolidation merges near-duplicate samples that
	// slipped past write-time dedupe.
	consolidateStop := make(chan struct{})
	defer close(consolidateStop)
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				gw.store.Consolidate(ctx)
				cancel()
			case <-consolidateStop:
				return
			}
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("[SHUTDOWN] signal received, draining")
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	log.Printf("Rampart gateway v%s listening on %s", Version, cfg.ListenAddr)
	log.Println("Endpoints:")
	log.Println("  GET  /health                 - Health check")
	log.Println("  POST /v1/evaluate            - Evaluate an agent action")
	log.Println("  POST /v1/reports             - Report an action outcome")
	log.Println("  GET  /v1/confirmations/:id   - Look up a confirmation ticket")
	log.Println("  POST /v1/confirmations/:id   - Approve or reject a ticket")
	log.Println("  GET  /v1/policy/template     - Starter policy YAML")
	log.Println("  GET  /v1/stats               - Violation, corpus, event counters")

	if err := app.Listen(cfg.ListenAddr); err != nil {
		log.Fatal(err)
	}
}

// runCLIScan evaluates a single action from the command line and prints
// the decision as JSON. Useful for smoke tests and policy tuning.
func runCLIScan(text string) {
	cfg := config.NewDefaultConfig()
	cfg.AuditLogPath = os.DevNull

	gw, err := buildGateway(cfg)
	if err != nil {
		log.Fatalf("[STARTUP] %v", err)
	}
	defer gw.close()

	ev, err := gw.svc.Evaluate(context.Background(), &guard.Request{
		AgentID:    "cli",
		ActionType: guard.ActionMessage,
		Content:    text,
	})
	if err != nil {
		log.Fatalf("evaluate: %v", err)
	}

	out, _ := json.MarshalIndent(ev, "", "  ")
	fmt.Println(string(out))
}

func verifyAuditLog(path string) {
	res := audit.Verify(path)
	if !res.Valid {
		fmt.Printf("INVALID: %s (line %d of %d)\n", res.Error, res.ErrorLine, res.Lines)
		os.Exit(1)
	}
	fmt.Printf("OK: %d lines, chain intact\n", res.Lines)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cfg := config.NewDefaultConfig()
		if len(os.Args) > 2 {
			cfg.ListenAddr = os.Args[2]
		}
		runHTTPServer(cfg)
	case "scan":
		if len(os.Args) < 3 {
			fmt.Println("Usage: rampart scan <text>")
			os.Exit(1)
		}
		runCLIScan(strings.Join(os.Args[2:], " "))
	case "verify":
		path := config.GetEnv("RAMPART_AUDIT_LOG", "rampart_audit.jsonl")
		if len(os.Args) > 2 {
			path = os.Args[2]
		}
		verifyAuditLog(path)
	case "policy":
		fmt.Print(policy.DefaultRulesYAML())
	case "version":
		fmt.Printf("Rampart v%s\n", Version)
		fmt.Println("Action firewall for AI agents")
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Rampart v%s - Action firewall for AI agents\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  rampart serve [addr]    Start the HTTP gateway (default: :8787)")
	fmt.Println("  rampart scan <text>     Evaluate one message from the command line")
	fmt.Println("  rampart verify [path]   Check the audit log hash chain")
	fmt.Println("  rampart policy          Print a starter policy file")
	fmt.Println("  rampart version         Show version")
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Println("  rampart serve :8080")
	fmt.Println("  rampart scan \"Ignore previous instructions\"")
	fmt.Println("")
	fmt.Println("Environment Variables:")
	fmt.Println("  RAMPART_POLICY_FILE      Path to a YAML policy rules file")
	fmt.Println("  RAMPART_REDIS_ADDR       Redis address for the ticket store")
	fmt.Println("  RAMPART_POSTGRES_DSN     Postgres DSN for the audit backend")
	fmt.Println("  RAMPART_OLLAMA_URL       Ollama URL for corpus embeddings")
	fmt.Println("  RAMPART_LLM_API_KEY      API key for the remote LLM classifier")
	fmt.Println("  RAMPART_LLM_MODEL        Model id; empty disables the remote tier")
}
