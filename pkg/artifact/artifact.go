// Package artifact defines the trained classifier bundle: everything the
// prediction service needs, and nothing else.
package artifact

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hed1ad/custsegml/pkg/classify"
	"github.com/hed1ad/custsegml/pkg/preprocess"
)

// ErrArtifact wraps every failure to read or decode a bundle.
var ErrArtifact = errors.New("invalid classifier artifact")

// Artifact is an immutable trained classifier bundle. Retraining produces a
// new Artifact; an existing one is never modified.
type Artifact struct {
	ID        string
	TrainedAt time.Time

	ModelKind classify.Kind
	ModelName string
	// FeatureNames is the exact input order the scaler and model expect.
	FeatureNames []string
	Scaler       preprocess.StandardScaler
	Classes      []int
	Model        []byte

	TestAccuracy float64
	TestF1       float64
	CVMean       float64
	CVStd        float64
}

// Validate checks internal consistency.
func (a *Artifact) Validate() error {
	switch {
	case len(a.FeatureNames) == 0:
		return fmt.Errorf("%w: no feature names", ErrArtifact)
	case a.Scaler.Width() != len(a.FeatureNames):
		return fmt.Errorf("%w: scaler width %d, %d features", ErrArtifact, a.Scaler.Width(), len(a.FeatureNames))
	case len(a.Scaler.Scales) != len(a.Scaler.Means):
		return fmt.Errorf("%w: scaler means and scales differ in length", ErrArtifact)
	case len(a.Classes) == 0:
		return fmt.Errorf("%w: no classes", ErrArtifact)
	case len(a.Model) == 0:
		return fmt.Errorf("%w: empty model", ErrArtifact)
	}
	return nil
}

// Classifier decodes the embedded model.
func (a *Artifact) Classifier() (classify.Classifier, error) {
	m, err := classify.New(a.ModelKind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArtifact, err)
	}
	if err := m.Load(a.Model); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArtifact, err)
	}
	return m, nil
}

// Save writes the artifact to w.
func (a *Artifact) Save(w io.Writer) error {
	if err := a.Validate(); err != nil {
		return err
	}
	return gob.NewEncoder(w).Encode(a)
}

// Load reads an artifact from r.
func Load(r io.Reader) (*Artifact, error) {
	var a Artifact
	if err := gob.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArtifact, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// SaveFile writes the artifact to path, replacing any previous bundle only
// once the new one is fully written.
func (a *Artifact) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := a.Save(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadFile reads an artifact from path.
func LoadFile(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArtifact, err)
	}
	defer f.Close()
	return Load(f)
}
