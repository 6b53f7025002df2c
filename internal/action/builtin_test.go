package action

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-ci/stagehand/internal/artifact"
)

func TestArtifactRoundTripThroughBuiltins(t *testing.T) {
	t.Parallel()

	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)

	producerDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(producerDir, "app.bin"), []byte("binary"), 0o644))

	in := &Input{
		With:      map[string]string{"name": "build-output", "path": "app.bin"},
		Job:       "build",
		WorkDir:   producerDir,
		Artifacts: store,
	}
	require.NoError(t, uploadArtifact(context.Background(), in))
	assert.Equal(t, []string{"build-output"}, in.ProducedArtifacts(),
		"a successful upload must record the artifact name")

	consumerDir := t.TempDir()
	err = downloadArtifact(context.Background(), &Input{
		With:      map[string]string{"name": "build-output", "path": "incoming"},
		Job:       "deploy",
		WorkDir:   consumerDir,
		Artifacts: store,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(consumerDir, "incoming", "app.bin"))
	require.NoError(t, err)
	assert.Equal(t, "binary", string(data))
}

func TestUploadArtifact_RequiredInputs(t *testing.T) {
	t.Parallel()

	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)

	in := &Input{
		With:      map[string]string{"path": "x"},
		Artifacts: store,
	}
	err = uploadArtifact(context.Background(), in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'name' input is required")
	assert.Empty(t, in.ProducedArtifacts(), "a rejected upload records nothing")

	err = uploadArtifact(context.Background(), &Input{
		With:      map[string]string{"name": "x"},
		Artifacts: store,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'path' input is required")
}

func TestDownloadArtifact_MissingArtifact(t *testing.T) {
	t.Parallel()

	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)

	err = downloadArtifact(context.Background(), &Input{
		With:      map[string]string{"name": "ghost"},
		WorkDir:   t.TempDir(),
		Artifacts: store,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}
