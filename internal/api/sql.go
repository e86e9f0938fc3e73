package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/querypilot/querypilot/internal/confidence"
	"github.com/querypilot/querypilot/internal/nl2sql"
)

type generateRequest struct {
	Question string `json:"question"`
}

type validateRequest struct {
	SQL string `json:"sql"`
}

type generateResponse struct {
	Question    string             `json:"question"`
	SQL         string             `json:"sql"`
	Validated   bool               `json:"validated"`
	Repaired    bool               `json:"repaired"`
	Attempts    int                `json:"attempts"`
	Diagnostics nl2sql.Diagnostics `json:"diagnostics"`
	History     []nl2sql.Attempt   `json:"history"`
	Confidence  *confidence.Result `json:"confidence,omitempty"`
}

func handleGenerate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	req, ok := decodeGenerateRequest(w, r)
	if !ok {
		return
	}
	schemaText, ok := requireSchema(deps, w, r)
	if !ok {
		return
	}

	outcome, err := deps.Pipeline.Run(r.Context(), req.Question, schemaText)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "GENERATION_FAILED", err.Error(), true, nil)
		return
	}

	resp := generateResponse{
		Question:    req.Question,
		SQL:         outcome.SQL,
		Validated:   outcome.Validated,
		Repaired:    outcome.Repaired,
		Attempts:    outcome.Attempts,
		Diagnostics: outcome.Diagnostics,
		History:     outcome.History,
	}
	if deps.Confidence != nil {
		variants := nl2sql.FastVariants(outcome.SQL)
		if deps.Variants != nil {
			if sampled := deps.Variants(r.Context(), req.Question, schemaText); len(sampled) > 0 {
				variants = sampled
			}
		}
		embeddingSim := 0.0
		if deps.EmbeddingScore != nil {
			embeddingSim = deps.EmbeddingScore(r.Context(), req.Question)
		}
		result := deps.Confidence.Compute(confidence.Inputs{
			SQL:                 outcome.SQL,
			Diagnostics:         outcome.Diagnostics,
			Variants:            variants,
			ExecOK:              outcome.Validated,
			RowCount:            -1,
			EmbeddingSimilarity: embeddingSim,
		})
		resp.Confidence = &result
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleGenerateRaw(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	req, ok := decodeGenerateRequest(w, r)
	if !ok {
		return
	}
	schemaText, ok := requireSchema(deps, w, r)
	if !ok {
		return
	}

	sql, err := deps.Generator.Generate(r.Context(), req.Question, schemaText)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "GENERATION_FAILED", err.Error(), true, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sql": sql})
}

func handleValidate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body: "+err.Error(), false, nil)
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "sql is required", false, nil)
		return
	}

	validated, diag := deps.Validator.Validate(r.Context(), req.SQL)
	writeJSON(w, http.StatusOK, map[string]any{
		"sql":         req.SQL,
		"validated":   validated,
		"diagnostics": diag,
	})
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	info := deps.Schema()
	if info == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SCHEMA_NOT_LOADED", "schema has not been introspected yet", true, nil)
		return
	}

	tables := map[string][]string{}
	for _, table := range info.Tables() {
		tables[table] = info.Columns(table)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"table_count": info.TableCount(),
		"tables":      tables,
		"text":        info.Text(),
	})
}

func decodeGenerateRequest(w http.ResponseWriter, r *http.Request) (generateRequest, bool) {
	var req generateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body: "+err.Error(), false, nil)
		return generateRequest{}, false
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "question is required", false, nil)
		return generateRequest{}, false
	}
	return req, true
}

func requireSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) (string, bool) {
	info := deps.Schema()
	if info == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SCHEMA_NOT_LOADED", "schema has not been introspected yet", true, nil)
		return "", false
	}
	return info.Text(), true
}
