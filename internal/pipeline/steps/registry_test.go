package steps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/lesson-video-pipeline/internal/ledger"
)

func TestStageRegistry(t *testing.T) {
	for _, stage := range Order {
		def, ok := StageRegistry[stage]
		require.True(t, ok, "stage %s should be in registry", stage)
		assert.Equal(t, stage, def.Name)
		for _, dep := range def.Dependencies {
			_, ok := StageRegistry[dep]
			assert.True(t, ok, "dependency %s of %s should be registered", dep, stage)
		}
	}
	assert.Len(t, StageRegistry, len(Order))
}

func TestStatusOf(t *testing.T) {
	rec := &ledger.RunRecord{
		ScriptGenStatus: ledger.Str(ledger.StatusSuccess),
		RenderStatus:    ledger.Str(ledger.StatusFailed),
		VideoStatus:     ledger.Str(ledger.StatusSuccess),
	}
	assert.Equal(t, ledger.StatusSuccess, StatusOf(rec, ledger.StageScriptGen))
	assert.Equal(t, ledger.StatusFailed, StatusOf(rec, ledger.StageRenderVideo))
	assert.Equal(t, ledger.StatusSuccess, StatusOf(rec, ledger.StageCopy))
	assert.Equal(t, "", StatusOf(rec, ledger.StageMerge))
	assert.Equal(t, "", StatusOf(nil, ledger.StageMerge))
}

func TestValidateDependencies(t *testing.T) {
	rec := &ledger.RunRecord{
		ScriptGenStatus: ledger.Str(ledger.StatusSuccess),
		FileGenStatus:   ledger.Str(ledger.StatusFailed),
	}

	assert.NoError(t, ValidateDependencies(rec, ledger.StageScriptGen))
	assert.NoError(t, ValidateDependencies(rec, ledger.StageFileGen))

	err := ValidateDependencies(rec, ledger.StageCodeGen)
	var depErr *DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, []string{ledger.StageFileGen}, depErr.MissingDependencies)

	assert.Error(t, ValidateDependencies(rec, "publish"))
}

func TestAvailableAndBlocked(t *testing.T) {
	rec := &ledger.RunRecord{
		ScriptGenStatus: ledger.Str(ledger.StatusSuccess),
		FileGenStatus:   ledger.Str(ledger.StatusSuccess),
		CodeGenStatus:   ledger.Str(ledger.StatusRunning),
	}

	assert.Equal(t, []string{ledger.StageUpload}, Available(rec))
	assert.Equal(t, []string{
		ledger.StageRender, ledger.StageMerge, ledger.StageSaveArtifact, ledger.StageCopy,
	}, Blocked(rec))

	assert.Equal(t, []string{ledger.StageScriptGen, ledger.StageUpload}, Available(nil))
}
