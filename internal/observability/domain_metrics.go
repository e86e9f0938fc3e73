package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_generations_total",
			Help: "Total number of SQL generation pipeline runs by outcome.",
		},
		[]string{"outcome"},
	)
	repairAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querypilot_repair_attempts_total",
			Help: "Total number of SQL repair attempts.",
		},
	)
	validationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_validation_failures_total",
			Help: "Total number of validation failures by kind.",
		},
		[]string{"kind"},
	)
	pipelineDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querypilot_pipeline_duration_seconds",
			Help:    "End-to-end generate/validate/repair pipeline duration.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
	)
	llmCallDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querypilot_llm_call_duration_seconds",
			Help:    "LLM call latency by action and model.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"action", "model"},
	)
	llmCallErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_llm_call_errors_total",
			Help: "Total number of failed LLM calls by action and model.",
		},
		[]string{"action", "model"},
	)
	llmTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_llm_tokens_total",
			Help: "Token usage reported by the provider, when available.",
		},
		[]string{"model", "kind"},
	)
	llmRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querypilot_llm_retries_total",
			Help: "Total number of retried LLM calls.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		generationsTotal,
		repairAttemptsTotal,
		validationFailuresTotal,
		pipelineDurationSeconds,
		llmCallDurationSeconds,
		llmCallErrorsTotal,
		llmTokensTotal,
		llmRetriesTotal,
	)
}

func ObservePipeline(outcome string, elapsed time.Duration) {
	generationsTotal.WithLabelValues(outcome).Inc()
	pipelineDurationSeconds.Observe(elapsed.Seconds())
}

func IncrementRepairAttempt() {
	repairAttemptsTotal.Inc()
}

func IncrementValidationFailure(kind string) {
	validationFailuresTotal.WithLabelValues(kind).Inc()
}

// ObserveLLMCall records latency, failure, and token usage for one provider
// call. Token counts of zero are skipped; Ollama does not report usage.
func ObserveLLMCall(action, model string, elapsed time.Duration, promptTokens, completionTokens int, err error) {
	llmCallDurationSeconds.WithLabelValues(action, model).Observe(elapsed.Seconds())
	if err != nil {
		llmCallErrorsTotal.WithLabelValues(action, model).Inc()
		return
	}
	if promptTokens > 0 {
		llmTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		llmTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

func IncrementLLMRetry() {
	llmRetriesTotal.Inc()
}
