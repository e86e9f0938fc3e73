package confidence

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Calibrator maps raw component scores to a calibrated probability with a
// standard scaler followed by logistic regression. The bundle persists as
// JSON so it survives restarts and can be retrained offline.
type Calibrator struct {
	FeatureKeys []string  `json:"feature_keys"`
	Means       []float64 `json:"means"`
	Stds        []float64 `json:"stds"`
	Weights     []float64 `json:"weights"`
	Bias        float64   `json:"bias"`
}

// LoadCalibrator reads a saved bundle. A missing file is not an error, the
// service just runs uncalibrated; a malformed file is.
func LoadCalibrator(path string) (*Calibrator, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read calibrator: %w", err)
	}
	var c Calibrator
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode calibrator: %w", err)
	}
	if err := c.check(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Calibrator) Save(path string) error {
	if err := c.check(); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode calibrator: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write calibrator: %w", err)
	}
	return nil
}

func (c *Calibrator) check() error {
	n := len(c.FeatureKeys)
	if n == 0 {
		return fmt.Errorf("calibrator has no feature keys")
	}
	if len(c.Means) != n || len(c.Stds) != n || len(c.Weights) != n {
		return fmt.Errorf("calibrator dimensions do not match %d feature keys", n)
	}
	return nil
}

// Predict returns the calibrated probability for the given components, or
// false when a feature is missing or non-finite. Callers fall back to the
// raw score in that case.
func (c *Calibrator) Predict(components map[string]float64) (float64, bool) {
	z := c.Bias
	for i, key := range c.FeatureKeys {
		value, ok := components[key]
		if !ok || math.IsNaN(value) || math.IsInf(value, 0) {
			return 0, false
		}
		std := c.Stds[i]
		if std == 0 {
			std = 1
		}
		z += c.Weights[i] * ((value - c.Means[i]) / std)
	}
	return sigmoid(z), true
}

// Sample is one labeled training row: component scores plus whether the
// generated statement matched the gold result.
type Sample struct {
	Components map[string]float64
	Correct    bool
}

// Train fits a scaler and logistic regression on labeled samples with plain
// gradient descent. The sample counts here are tiny, so a fixed schedule is
// fine.
func Train(samples []Sample) (*Calibrator, error) {
	if len(samples) < 2 {
		return nil, fmt.Errorf("need at least 2 samples, got %d", len(samples))
	}

	n := len(FeatureKeys)
	rows := make([][]float64, len(samples))
	labels := make([]float64, len(samples))
	for i, s := range samples {
		row := make([]float64, n)
		for j, key := range FeatureKeys {
			value := s.Components[key]
			if math.IsNaN(value) || math.IsInf(value, 0) {
				value = 0
			}
			row[j] = value
		}
		rows[i] = row
		if s.Correct {
			labels[i] = 1
		}
	}

	means := make([]float64, n)
	stds := make([]float64, n)
	for j := 0; j < n; j++ {
		var sum float64
		for i := range rows {
			sum += rows[i][j]
		}
		means[j] = sum / float64(len(rows))
		var variance float64
		for i := range rows {
			d := rows[i][j] - means[j]
			variance += d * d
		}
		stds[j] = math.Sqrt(variance / float64(len(rows)))
		if stds[j] == 0 {
			stds[j] = 1
		}
		for i := range rows {
			rows[i][j] = (rows[i][j] - means[j]) / stds[j]
		}
	}

	weights := make([]float64, n)
	bias := 0.0
	const (
		learningRate = 0.1
		epochs       = 2000
	)
	for epoch := 0; epoch < epochs; epoch++ {
		gradW := make([]float64, n)
		gradB := 0.0
		for i := range rows {
			z := bias
			for j := 0; j < n; j++ {
				z += weights[j] * rows[i][j]
			}
			errTerm := sigmoid(z) - labels[i]
			for j := 0; j < n; j++ {
				gradW[j] += errTerm * rows[i][j]
			}
			gradB += errTerm
		}
		scale := learningRate / float64(len(rows))
		for j := 0; j < n; j++ {
			weights[j] -= scale * gradW[j]
		}
		bias -= scale * gradB
	}

	return &Calibrator{
		FeatureKeys: append([]string(nil), FeatureKeys...),
		Means:       means,
		Stds:        stds,
		Weights:     weights,
		Bias:        bias,
	}, nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// Service combines raw scoring with optional calibration.
type Service struct {
	calibrator *Calibrator
}

func NewService(calibrator *Calibrator) *Service {
	return &Service{calibrator: calibrator}
}

// Compute scores the inputs and calibrates the result when a calibrator is
// available, falling back to the raw score otherwise.
func (s *Service) Compute(in Inputs) Result {
	raw, components := Score(in)
	result := Result{
		Raw:        round4(raw),
		Calibrated: round4(raw),
		Components: components,
	}
	if s.calibrator != nil {
		if calibrated, ok := s.calibrator.Predict(components); ok {
			result.Calibrated = round4(calibrated)
			result.UsedCalibrator = true
		}
	}
	return result
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
