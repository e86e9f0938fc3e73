package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Warehouse     WarehouseConfig
	LLM           LLMConfig
	VectorStore   VectorStoreConfig
	Pipeline      PipelineConfig
	Confidence    ConfidenceConfig
	Eval          EvalConfig
	ReportStore   ReportStoreConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type WarehouseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// LLMConfig selects and configures the SQL-generation provider. The default
// is a local Ollama daemon; an OpenAI-compatible endpoint can be selected
// with QUERYPILOT_LLM_PROVIDER=openai.
type LLMConfig struct {
	Provider    string
	OllamaHost  string
	Model       string
	EmbedModel  string
	BaseURL     string
	APIKey      string
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

type VectorStoreConfig struct {
	Path string
}

type PipelineConfig struct {
	MaxRepairAttempts int
	StrictPreflight   bool
	RetrievalTopK     int
}

type ConfidenceConfig struct {
	SelfAgreementEnabled bool
	SelfAgreementSamples int
	ESSEnabled           bool
	ESSTopK              int
	CalibratorPath       string
}

type EvalConfig struct {
	GoldFile    string
	ResultsFile string
}

// ReportStoreConfig configures optional upload of eval reports to an
// S3-compatible object store. Disabled unless an endpoint is set.
type ReportStoreConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("QUERYPILOT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid QUERYPILOT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	// These four keep the unprefixed names the existing deployments use.
	if err := applyString(lookup, "DATABASE_URL", &cfg.Warehouse.DSN); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "OLLAMA_HOST", &cfg.LLM.OllamaHost); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "OLLAMA_MODEL", &cfg.LLM.Model); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "STRICT_PREFLIGHT", &cfg.Pipeline.StrictPreflight); err != nil {
		return Config{}, err
	}

	if err := applyString(lookup, "QUERYPILOT_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYPILOT_HTTP_ADDR", &cfg.HTTP.Address); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYPILOT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYPILOT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYPILOT_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYPILOT_WAREHOUSE_MAX_OPEN_CONNS", &cfg.Warehouse.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYPILOT_WAREHOUSE_MAX_IDLE_CONNS", &cfg.Warehouse.MaxIdleConns); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYPILOT_WAREHOUSE_CONN_MAX_IDLE_TIME", &cfg.Warehouse.ConnMaxIdleTime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYPILOT_WAREHOUSE_CONN_MAX_LIFETIME", &cfg.Warehouse.ConnMaxLifetime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYPILOT_WAREHOUSE_QUERY_TIMEOUT", &cfg.Warehouse.QueryTimeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYPILOT_LLM_PROVIDER", &cfg.LLM.Provider); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYPILOT_LLM_EMBED_MODEL", &cfg.LLM.EmbedModel); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYPILOT_LLM_BASE_URL", &cfg.LLM.BaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYPILOT_LLM_API_KEY", &cfg.LLM.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "QUERYPILOT_LLM_TEMPERATURE", &cfg.LLM.Temperature); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYPILOT_LLM_TIMEOUT", &cfg.LLM.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYPILOT_LLM_MAX_RETRIES", &cfg.LLM.MaxRetries); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYPILOT_VECTOR_STORE_PATH", &cfg.VectorStore.Path); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYPILOT_MAX_REPAIR_ATTEMPTS", &cfg.Pipeline.MaxRepairAttempts); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYPILOT_RETRIEVAL_TOP_K", &cfg.Pipeline.RetrievalTopK); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYPILOT_SELF_AGREEMENT_ENABLED", &cfg.Confidence.SelfAgreementEnabled); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYPILOT_SELF_AGREEMENT_SAMPLES", &cfg.Confidence.SelfAgreementSamples); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYPILOT_ESS_ENABLED", &cfg.Confidence.ESSEnabled); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYPILOT_ESS_TOP_K", &cfg.Confidence.ESSTopK); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYPILOT_CALIBRATOR_PATH", &cfg.Confidence.CalibratorPath); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYPILOT_GOLD_FILE", &cfg.Eval.GoldFile); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYPILOT_EVAL_RESULTS_FILE", &cfg.Eval.ResultsFile); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYPILOT_REPORTSTORE_ENDPOINT", &cfg.ReportStore.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYPILOT_REPORTSTORE_REGION", &cfg.ReportStore.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYPILOT_REPORTSTORE_BUCKET", &cfg.ReportStore.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYPILOT_REPORTSTORE_ACCESS_KEY", &cfg.ReportStore.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYPILOT_REPORTSTORE_SECRET_KEY", &cfg.ReportStore.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYPILOT_REPORTSTORE_USE_SSL", &cfg.ReportStore.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYPILOT_REPORTSTORE_PREFIX", &cfg.ReportStore.Prefix); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYPILOT_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "QUERYPILOT_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYPILOT_AUTH_REQUIRED", &cfg.Auth.Required); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYPILOT_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys); err != nil {
		return Config{}, err
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Pipeline.MaxRepairAttempts < 1 {
		return Config{}, fmt.Errorf("QUERYPILOT_MAX_REPAIR_ATTEMPTS must be at least 1")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "querypilot-api"},
		HTTP: HTTPConfig{
			Address:      ":8000",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Warehouse: WarehouseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
			QueryTimeout:    60 * time.Second,
		},
		LLM: LLMConfig{
			Provider:    "ollama",
			OllamaHost:  "http://localhost:11434",
			Model:       "qwen2.5:7b-instruct",
			EmbedModel:  "nomic-embed-text",
			BaseURL:     "https://api.openai.com",
			Temperature: 0,
			Timeout:     120 * time.Second,
			MaxRetries:  6,
		},
		VectorStore: VectorStoreConfig{
			Path: "./querypilot_store.db",
		},
		Pipeline: PipelineConfig{
			MaxRepairAttempts: 3,
			StrictPreflight:   true,
			RetrievalTopK:     5,
		},
		Confidence: ConfidenceConfig{
			SelfAgreementEnabled: true,
			SelfAgreementSamples: 3,
			ESSEnabled:           true,
			ESSTopK:              3,
			CalibratorPath:       "./calibrator.json",
		},
		Eval: EvalConfig{
			GoldFile:    "gold_eval.json",
			ResultsFile: "adventureworks_eval_results.json",
		},
		ReportStore: ReportStoreConfig{
			Region: "us-east-1",
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18000"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Pipeline.StrictPreflight = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ReportStore.UseSSL = true
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
