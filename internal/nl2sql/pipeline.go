package nl2sql

import (
	"context"
	"time"

	"github.com/querypilot/querypilot/internal/observability"
)

// Attempt is one generate-or-repair round with its validation findings.
type Attempt struct {
	SQL         string      `json:"sql"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// Outcome is the final pipeline result. SQL always holds the last attempted
// statement, even on total failure, so callers can inspect what the model
// produced.
type Outcome struct {
	SQL         string      `json:"sql"`
	Validated   bool        `json:"validated"`
	Repaired    bool        `json:"repaired"`
	Attempts    int         `json:"attempts"`
	Diagnostics Diagnostics `json:"diagnostics"`
	History     []Attempt   `json:"history"`
}

// Pipeline runs generate, validate, and repair rounds until a statement
// passes or the attempt budget runs out.
type Pipeline struct {
	generator   *Generator
	validator   *Validator
	maxAttempts int
}

func NewPipeline(generator *Generator, validator *Validator, maxAttempts int) *Pipeline {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Pipeline{generator: generator, validator: validator, maxAttempts: maxAttempts}
}

func (p *Pipeline) Run(ctx context.Context, question, schemaText string) (Outcome, error) {
	started := time.Now()

	sql, err := p.generator.Generate(ctx, question, schemaText)
	if err != nil {
		observability.ObservePipeline("error", time.Since(started))
		return Outcome{}, err
	}

	ok, diag := p.validator.Validate(ctx, sql)
	outcome := Outcome{
		SQL:         sql,
		Diagnostics: diag,
		Attempts:    1,
		History:     []Attempt{{SQL: sql, Diagnostics: diag}},
	}
	if ok {
		outcome.Validated = true
		observability.ObservePipeline("validated", time.Since(started))
		return outcome, nil
	}

	for outcome.Attempts < p.maxAttempts {
		outcome.Attempts++
		outcome.Repaired = true
		observability.IncrementRepairAttempt()

		repaired, err := p.generator.Repair(ctx, question, outcome.SQL, outcome.Diagnostics, schemaText)
		if err != nil {
			observability.ObservePipeline("error", time.Since(started))
			return outcome, err
		}

		ok, diag = p.validator.Validate(ctx, repaired)
		outcome.SQL = repaired
		outcome.Diagnostics = diag
		outcome.History = append(outcome.History, Attempt{SQL: repaired, Diagnostics: diag})
		if ok {
			outcome.Validated = true
			observability.ObservePipeline("repaired", time.Since(started))
			return outcome, nil
		}
	}

	observability.ObservePipeline("failed", time.Since(started))
	return outcome, nil
}
