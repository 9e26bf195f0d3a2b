// Package predict assigns a segment to a single customer feature mapping
// using a trained artifact.
package predict

import (
	"fmt"

	"github.com/hed1ad/custsegml/pkg/artifact"
	"github.com/hed1ad/custsegml/pkg/classify"
	"github.com/hed1ad/custsegml/pkg/preprocess"
)

// Response is the prediction result.
type Response struct {
	PredictedSegment int             `json:"predicted_segment"`
	Confidence       float64         `json:"confidence"`
	Probabilities    map[int]float64 `json:"probabilities"`
	ModelName        string          `json:"model_name"`
	ModelAccuracy    float64         `json:"model_accuracy"`
}

// Service applies one artifact. It holds no mutable state and is safe for
// concurrent use.
type Service struct {
	art   *artifact.Artifact
	model classify.Classifier
}

// NewService decodes the artifact's model once.
func NewService(art *artifact.Artifact) (*Service, error) {
	if err := art.Validate(); err != nil {
		return nil, err
	}
	m, err := art.Classifier()
	if err != nil {
		return nil, err
	}
	return &Service{art: art, model: m}, nil
}

// Load reads the artifact at path and builds a Service from it.
func Load(path string) (*Service, error) {
	art, err := artifact.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return NewService(art)
}

// Artifact returns the bundle the service was built from.
func (s *Service) Artifact() *artifact.Artifact {
	return s.art
}

// Vector reconciles a feature mapping into the model's input order and
// standardizes it.
func (s *Service) Vector(in map[string]float64) ([]float64, error) {
	raw := preprocess.Reconcile(s.art.FeatureNames, in)
	return s.art.Scaler.TransformOne(raw)
}

// Predict classifies one customer. Missing and non-finite features count as
// 0. When the model has no probability estimates the confidence is reported
// as 1, which is not a calibrated value.
func (s *Service) Predict(in map[string]float64) (Response, error) {
	x, err := s.Vector(in)
	if err != nil {
		return Response{}, fmt.Errorf("prepare input: %w", err)
	}
	resp := Response{
		ModelName:     s.art.ModelName,
		ModelAccuracy: s.art.TestAccuracy,
	}

	if pp, ok := s.model.(classify.ProbabilityPredictor); ok {
		proba, err := pp.PredictProba([][]float64{x})
		if err != nil {
			return Response{}, err
		}
		classes := s.model.Classes()
		resp.Probabilities = make(map[int]float64, len(classes))
		best := 0
		for k, p := range proba[0] {
			resp.Probabilities[classes[k]] = p
			if p > proba[0][best] {
				best = k
			}
		}
		resp.PredictedSegment = classes[best]
		resp.Confidence = proba[0][best]
		return resp, nil
	}

	pred, err := s.model.Predict([][]float64{x})
	if err != nil {
		return Response{}, err
	}
	resp.PredictedSegment = pred[0]
	resp.Confidence = 1
	return resp, nil
}

// PredictBatch classifies several customers in order.
func (s *Service) PredictBatch(in []map[string]float64) ([]Response, error) {
	out := make([]Response, len(in))
	for i, m := range in {
		r, err := s.Predict(m)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = r
	}
	return out, nil
}
