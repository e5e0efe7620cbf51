package ml

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	ClassifierFile = "classifier.json"
	EncoderFile    = "encoder.json"
	ManifestFile   = "manifest.json"
)

// Artifact is the classifier and the encoder that produced its codes. It is
// loaded once and never mutated.
type Artifact struct {
	Classifier Classifier
	Encoder    *LabelEncoder
	Manifest   Manifest
}

type Manifest struct {
	Features    []string  `json:"features"`
	Classes     []string  `json:"classes"`
	Estimators  int       `json:"estimators"`
	Seed        int64     `json:"seed"`
	TrainRows   int       `json:"train_rows"`
	TestRows    int       `json:"test_rows"`
	Accuracy    float64   `json:"accuracy"`
	TrainedAt   time.Time `json:"trained_at"`
	Fingerprint string    `json:"fingerprint"`
}

// Validate reports whether the classifier and encoder share a code space.
func (a *Artifact) Validate() error {
	if a == nil || a.Classifier == nil || a.Encoder == nil {
		return errors.New("classifier or encoder missing")
	}
	if a.Classifier.NClasses() != a.Encoder.Len() {
		return fmt.Errorf("classifier predicts %d classes, encoder knows %d", a.Classifier.NClasses(), a.Encoder.Len())
	}
	return nil
}

func LoadArtifact(dir string) (*Artifact, error) {
	classifierPath := filepath.Join(dir, ClassifierFile)
	encoderPath := filepath.Join(dir, EncoderFile)

	classifierBytes, err := os.ReadFile(classifierPath)
	if err != nil {
		return nil, &ArtifactLoadError{Path: classifierPath, Err: err}
	}
	encoderBytes, err := os.ReadFile(encoderPath)
	if err != nil {
		return nil, &ArtifactLoadError{Path: encoderPath, Err: err}
	}

	forest := &RandomForest{}
	if err := json.Unmarshal(classifierBytes, forest); err != nil {
		return nil, &ArtifactLoadError{Path: classifierPath, Err: err}
	}
	encoder := &LabelEncoder{}
	if err := json.Unmarshal(encoderBytes, encoder); err != nil {
		return nil, &ArtifactLoadError{Path: encoderPath, Err: err}
	}

	var manifest Manifest
	manifestPath := filepath.Join(dir, ManifestFile)
	if payload, err := os.ReadFile(manifestPath); err == nil {
		if err := json.Unmarshal(payload, &manifest); err != nil {
			return nil, &ArtifactLoadError{Path: manifestPath, Err: err}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, &ArtifactLoadError{Path: manifestPath, Err: err}
	}
	// manifest.json only carries the training metadata; the rest comes from the pair
	manifest.Features = FeatureNames()
	manifest.Classes = encoder.Classes()
	manifest.Estimators = forest.Trees()
	manifest.Seed = forest.Seed
	manifest.Fingerprint = fingerprint(classifierBytes, encoderBytes)

	artifact := &Artifact{Classifier: forest, Encoder: encoder, Manifest: manifest}
	if err := artifact.Validate(); err != nil {
		return nil, &ArtifactLoadError{Path: dir, Err: err}
	}
	return artifact, nil
}

// StageArtifact writes the classifier, encoder and manifest under temporary
// names next to their final paths. The caller commits or discards them.
func StageArtifact(dir string, forest *RandomForest, encoder *LabelEncoder, manifest Manifest) (Manifest, *StagedFiles, error) {
	if forest == nil || encoder == nil {
		return manifest, nil, errors.New("classifier or encoder missing")
	}
	if forest.NClasses() != encoder.Len() {
		return manifest, nil, fmt.Errorf("classifier predicts %d classes, encoder knows %d", forest.NClasses(), encoder.Len())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return manifest, nil, err
	}

	classifierBytes, err := json.Marshal(forest)
	if err != nil {
		return manifest, nil, fmt.Errorf("encode classifier: %w", err)
	}
	encoderBytes, err := json.Marshal(encoder)
	if err != nil {
		return manifest, nil, fmt.Errorf("encode encoder: %w", err)
	}
	manifest.Features = FeatureNames()
	manifest.Classes = encoder.Classes()
	manifest.Estimators = forest.Trees()
	manifest.Seed = forest.Seed
	manifest.Fingerprint = fingerprint(classifierBytes, encoderBytes)
	manifestBytes, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return manifest, nil, fmt.Errorf("encode manifest: %w", err)
	}

	files := []struct {
		name    string
		payload []byte
	}{
		{ClassifierFile, classifierBytes},
		{EncoderFile, encoderBytes},
		{ManifestFile, manifestBytes},
	}
	staged := &StagedFiles{}
	for _, f := range files {
		tmp := filepath.Join(dir, f.name+".tmp")
		if err := os.WriteFile(tmp, f.payload, 0o644); err != nil {
			os.Remove(tmp)
			staged.Discard()
			return manifest, nil, err
		}
		staged.Add(tmp, filepath.Join(dir, f.name))
	}
	return manifest, staged, nil
}

func fingerprint(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
