package ml

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func saveArtifact(t *testing.T, dir string, forest *RandomForest, enc *LabelEncoder, manifest Manifest) Manifest {
	t.Helper()
	manifest, staged, err := StageArtifact(dir, forest, enc, manifest)
	require.NoError(t, err)
	require.NoError(t, staged.Commit())
	return manifest
}

func TestSaveLoadArtifact(t *testing.T) {
	forest, enc := fitSynthetic(t)
	dir := filepath.Join(t.TempDir(), "model")

	manifest := saveArtifact(t, dir, forest, enc, Manifest{TrainRows: 72, TestRows: 18, Accuracy: 0.9})
	assert.NotEmpty(t, manifest.Fingerprint)

	artifact, err := LoadArtifact(dir)
	require.NoError(t, err)
	assert.Equal(t, enc.Classes(), artifact.Encoder.Classes())
	assert.Equal(t, manifest.Fingerprint, artifact.Manifest.Fingerprint)
	assert.Equal(t, 72, artifact.Manifest.TrainRows)
	assert.Equal(t, FeatureNames(), artifact.Manifest.Features)

	codes, err := artifact.Classifier.Predict([][]float64{{95, 80, 100, 3}})
	require.NoError(t, err)
	label, err := artifact.Encoder.Decode(codes[0])
	require.NoError(t, err)
	assert.Equal(t, "Safe", label)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestStageArtifactIsInvisibleUntilCommit(t *testing.T) {
	forest, enc := fitSynthetic(t)
	dir := t.TempDir()

	_, staged, err := StageArtifact(dir, forest, enc, Manifest{})
	require.NoError(t, err)
	assert.Equal(t, 3, staged.Len())
	assert.NoFileExists(t, filepath.Join(dir, ClassifierFile))

	staged.Discard()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLoadArtifactMissing(t *testing.T) {
	var loadErr *ArtifactLoadError
	_, err := LoadArtifact(t.TempDir())
	require.ErrorAs(t, err, &loadErr)
}

func TestLoadArtifactMismatchedPair(t *testing.T) {
	forest, _ := fitSynthetic(t)
	dir := t.TempDir()
	payload, err := json.Marshal(forest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ClassifierFile), payload, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, EncoderFile), []byte(`{"classes":["At Risk","Safe"]}`), 0o600))

	var loadErr *ArtifactLoadError
	_, err = LoadArtifact(dir)
	require.ErrorAs(t, err, &loadErr)
}

func TestLoadArtifactIgnoresStaleManifestFields(t *testing.T) {
	forest, enc := fitSynthetic(t)
	dir := t.TempDir()
	saveArtifact(t, dir, forest, enc, Manifest{TrainRows: 72})

	stale := `{"features":["x"],"classes":["Pass","Fail"],"estimators":7,"train_rows":72}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(stale), 0o600))

	artifact, err := LoadArtifact(dir)
	require.NoError(t, err)
	assert.Equal(t, enc.Classes(), artifact.Manifest.Classes)
	assert.Equal(t, FeatureNames(), artifact.Manifest.Features)
	assert.Equal(t, forest.Trees(), artifact.Manifest.Estimators)
	assert.Equal(t, 72, artifact.Manifest.TrainRows)
}

func TestStageArtifactRejectsMismatch(t *testing.T) {
	forest, _ := fitSynthetic(t)
	enc, _, err := FitLabelEncoder([]string{"Safe"})
	require.NoError(t, err)
	_, _, err = StageArtifact(t.TempDir(), forest, enc, Manifest{})
	assert.Error(t, err)
}
