package confidence

import (
	"strings"

	"github.com/querypilot/querypilot/internal/nl2sql"
)

// FeatureKeys is the fixed feature order shared by scoring, training, and
// prediction. Changing it invalidates saved calibrators.
var FeatureKeys = []string{
	"schema_validity",
	"structure",
	"self_agreement",
	"execution",
	"embedding_similarity",
}

// Result is the confidence verdict for one generated statement. Calibrated
// falls back to Raw when no calibrator is loaded.
type Result struct {
	Raw            float64            `json:"raw"`
	Calibrated     float64            `json:"calibrated"`
	Components     map[string]float64 `json:"components"`
	UsedCalibrator bool               `json:"used_calibrator"`
}

// SchemaValidityScore is 1 when the statement is safe and references only
// known tables and columns.
func SchemaValidityScore(diag nl2sql.Diagnostics) float64 {
	if diag.IsSafe && len(diag.UnknownTables) == 0 && len(diag.UnknownColumns) == 0 {
		return 1
	}
	return 0
}

// StructureScore gives 0.2 for each expected structural feature present.
func StructureScore(sql string) float64 {
	if sql == "" {
		return 0
	}
	upper := strings.ToUpper(sql)
	score := 0.0
	for _, pattern := range []string{"SELECT ", " FROM ", " JOIN ", " GROUP BY ", " ORDER BY "} {
		if strings.Contains(upper, pattern) {
			score += 0.2
		}
	}
	return score
}

// SelfAgreementScore averages the text similarity between the final
// statement and its variants.
func SelfAgreementScore(mainSQL string, variants []string) float64 {
	if len(variants) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range variants {
		total += nl2sql.SequenceRatio(mainSQL, v)
	}
	return total / float64(len(variants))
}

// ExecutionScore rates how cleanly the statement ran. rowCount < 0 means the
// count is unknown.
func ExecutionScore(execOK bool, rowCount int) float64 {
	if !execOK {
		return 0
	}
	if rowCount < 0 {
		return 0.2
	}
	if rowCount <= 5_000_000 {
		return 1
	}
	return 0.4
}

// EmbeddingSimilarityScore clamps a cosine similarity into [0, 1].
func EmbeddingSimilarityScore(similarity float64) float64 {
	if similarity < 0 {
		return 0
	}
	if similarity > 1 {
		return 1
	}
	return similarity
}

// Inputs gathers everything the scorer needs for one statement.
type Inputs struct {
	SQL                 string
	Diagnostics         nl2sql.Diagnostics
	Variants            []string
	ExecOK              bool
	RowCount            int
	EmbeddingSimilarity float64
}

// Score computes the component scores and the raw weighted confidence.
func Score(in Inputs) (float64, map[string]float64) {
	components := map[string]float64{
		"schema_validity":      SchemaValidityScore(in.Diagnostics),
		"structure":            StructureScore(in.SQL),
		"self_agreement":       SelfAgreementScore(in.SQL, in.Variants),
		"execution":            ExecutionScore(in.ExecOK, in.RowCount),
		"embedding_similarity": EmbeddingSimilarityScore(in.EmbeddingSimilarity),
	}
	raw := 0.25*components["schema_validity"] +
		0.20*components["structure"] +
		0.25*components["self_agreement"] +
		0.20*components["execution"] +
		0.10*components["embedding_similarity"]
	return raw, components
}
