package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// LLMProvider defines the backend LLM service used for the remote classifier tier
type LLMProvider string

const (
	ProviderNone       LLMProvider = "none"       // No remote LLM, local tiers only
	ProviderOllama     LLMProvider = "ollama"     // Local Ollama server
	ProviderOpenRouter LLMProvider = "openrouter" // OpenRouter (default, has free tier)
	ProviderGroq       LLMProvider = "groq"       // Groq (high-speed inference)
	ProviderCerebras   LLMProvider = "cerebras"   // Cerebras inference cloud
)

// Config holds global settings for the Rampart gateway.
// All settings can be configured via environment variables or programmatically.
type Config struct {
	// === Core Settings ===
	ListenAddr   string // HTTP listen address (default: ":8787")
	AuditLogPath string // Path to the hash-chained audit log (default: "rampart_audit.jsonl")
	EventLogPath string // Path to the event stream file; empty disables the file sink
	PolicyPath   string // Path to a YAML policy rules file; empty uses thresholds only
	PatternsPath string // Path to a YAML pattern catalog; empty uses the builtin catalog

	// === Decision Thresholds (0.0 - 1.0) ===
	BlockThreshold float64 // Score at or above this = block (default: 0.70)
	WarnThreshold  float64 // Score at or above this = warn (default: 0.30)

	// === Detection ===
	DetectBudget time.Duration // Wall-clock budget for a full evaluation (default: 2s)

	// === Confirmation Tickets ===
	TicketTTL     time.Duration // How long a minted ticket stays resolvable (default: 5m)
	RedisAddr     string        // Redis address for the ticket store; empty uses in-memory
	RedisPassword string
	RedisDB       int

	// === Audit Backend ===
	PostgresDSN string // Postgres DSN for the decision row store; empty uses JSONL only

	// === Remote LLM Tier ===
	LLMProvider LLMProvider // Which LLM service to use for the remote classifier
	LLMAPIKey   string      // API key for cloud providers
	LLMModel    string      // Model identifier; empty disables the remote tier
	LLMBaseURL  string      // Custom base URL override

	// === Corpus ===
	OllamaURL        string  // Ollama base URL for embeddings; empty uses lexical matching
	EmbedModel       string  // Embedding model name (default: "nomic-embed-text")
	AttackFloor      float64 // Minimum score for attack sample admission (default: 0.70)
	BenignCeiling    float64 // Maximum score for benign sample admission (default: 0.10)
	CorpusMaxSamples int     // Per-partition sample cap (default: 10000)

	// === Events ===
	EventQueueSize int // Bounded event queue size (default: 1024)
}

// NewDefaultConfig creates a Config with sensible defaults.
// All settings can be overridden via environment variables.
func NewDefaultConfig() *Config {
	return &Config{
		ListenAddr:   GetEnv("RAMPART_LISTEN_ADDR", ":8787"),
		AuditLogPath: GetEnv("RAMPART_AUDIT_LOG", "rampart_audit.jsonl"),
		EventLogPath: GetEnv("RAMPART_EVENT_LOG", ""),
		PolicyPath:   GetEnv("RAMPART_POLICY_FILE", ""),
		PatternsPath: GetEnv("RAMPART_PATTERNS_FILE", ""),

		BlockThreshold: GetEnvFloat("RAMPART_BLOCK_THRESHOLD", 0.70),
		WarnThreshold:  GetEnvFloat("RAMPART_WARN_THRESHOLD", 0.30),

		DetectBudget: time.Duration(GetEnvInt("RAMPART_DETECT_BUDGET_MS", 2000)) * time.Millisecond,

		TicketTTL:     time.Duration(GetEnvInt("RAMPART_TICKET_TTL_SECONDS", 300)) * time.Second,
		RedisAddr:     GetEnv("RAMPART_REDIS_ADDR", ""),
		RedisPassword: GetEnv("RAMPART_REDIS_PASSWORD", ""),
		RedisDB:       GetEnvInt("RAMPART_REDIS_DB", 0),

		PostgresDSN: GetEnv("RAMPART_POSTGRES_DSN", ""),

		LLMProvider: detectLLMProvider(),
		LLMAPIKey:   GetEnv("RAMPART_LLM_API_KEY", GetEnv("GROQ_API_KEY", os.Getenv("OPENROUTER_API_KEY"))),
		LLMModel:    GetEnv("RAMPART_LLM_MODEL", ""),
		LLMBaseURL:  GetEnv("RAMPART_LLM_BASE_URL", ""),

		OllamaURL:        GetEnv("RAMPART_OLLAMA_URL", ""),
		EmbedModel:       GetEnv("RAMPART_EMBED_MODEL", "nomic-embed-text"),
		AttackFloor:      GetEnvFloat("RAMPART_ATTACK_FLOOR", 0.70),
		BenignCeiling:    GetEnvFloat("RAMPART_BENIGN_CEILING", 0.10),
		CorpusMaxSamples: GetEnvInt("RAMPART_CORPUS_MAX", 10000),

		EventQueueSize: clampInt(GetEnvInt("RAMPART_EVENT_QUEUE", 1024), 16, 1<<16),
	}
}

// NewHighSecurityConfig creates a Config for maximum security (may have more false positives)
func NewHighSecurityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.BlockThreshold = 0.55
	cfg.WarnThreshold = 0.20
	return cfg
}

// NewHighUsabilityConfig creates a Config that minimizes false positives
func NewHighUsabilityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.BlockThreshold = 0.85
	cfg.WarnThreshold = 0.50
	return cfg
}

func detectLLMProvider() LLMProvider {
	// Check explicit provider setting first
	if p := os.Getenv("RAMPART_LLM_PROVIDER"); p != "" {
		return LLMProvider(p)
	}
	// Auto-detect based on available keys
	if os.Getenv("GROQ_API_KEY") != "" {
		return ProviderGroq
	}
	if os.Getenv("OPENROUTER_API_KEY") != "" || os.Getenv("RAMPART_LLM_API_KEY") != "" {
		return ProviderOpenRouter
	}
	if os.Getenv("CEREBRAS_API_KEY") != "" {
		return ProviderCerebras
	}
	return ProviderNone
}

// Helper functions for environment variable parsing.
// These are exported for use by other packages.

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// clampInt ensures a value is within bounds
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	var problems []string

	if c.BlockThreshold < 0 || c.BlockThreshold > 1 {
		problems = append(problems, "RAMPART_BLOCK_THRESHOLD must be within [0, 1]")
	}
	if c.WarnThreshold < 0 || c.WarnThreshold > 1 {
		problems = append(problems, "RAMPART_WARN_THRESHOLD must be within [0, 1]")
	}
	if c.WarnThreshold > c.BlockThreshold {
		problems = append(problems, "RAMPART_WARN_THRESHOLD must not exceed RAMPART_BLOCK_THRESHOLD")
	}
	if c.AttackFloor <= c.BenignCeiling {
		problems = append(problems, "RAMPART_ATTACK_FLOOR must exceed RAMPART_BENIGN_CEILING")
	}
	if c.DetectBudget <= 0 {
		problems = append(problems, "RAMPART_DETECT_BUDGET_MS must be positive")
	}
	if c.TicketTTL <= 0 {
		problems = append(problems, "RAMPART_TICKET_TTL_SECONDS must be positive")
	}
	if c.LLMModel != "" {
		switch c.LLMProvider {
		case ProviderOllama, ProviderOpenRouter, ProviderGroq, ProviderCerebras:
		default:
			problems = append(problems, fmt.Sprintf("unknown LLM provider %q", c.LLMProvider))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// MustValidate calls Validate and fatally exits if validation fails.
// Call this at startup before starting the server.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		log.Fatalf("[STARTUP] FATAL: Configuration validation failed: %v", err)
	}
	log.Println("[STARTUP] Configuration validated")
}
