package artifacts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/models"
)

func chainArtifact(version int, typ models.ArtifactType, metadata map[string]interface{}) *models.Artifact {
	return &models.Artifact{
		ID:       "artifact-v" + string(rune('0'+version)),
		JobID:    "job-1",
		Type:     typ,
		Role:     "latency_p95",
		Version:  version,
		Metadata: metadata,
	}
}

func TestDiff_ChartPoints(t *testing.T) {
	from := chainArtifact(1, models.ArtifactTypeChart, map[string]interface{}{
		"title": "Latency p95",
		"points": []interface{}{
			map[string]interface{}{"x": "mon", "y": 120.0},
			map[string]interface{}{"x": "tue", "y": 115.0},
		},
	})
	to := chainArtifact(2, models.ArtifactTypeChart, map[string]interface{}{
		"title": "Latency p95 (weekly)",
		"points": []interface{}{
			map[string]interface{}{"x": "tue", "y": 115.0},
			map[string]interface{}{"x": "wed", "y": 98.0},
		},
	})

	result, err := Diff(from, to)
	require.NoError(t, err)
	assert.Equal(t, models.ArtifactTypeChart, result.ArtifactType)
	assert.Equal(t, 1, result.FromVersion)
	assert.Equal(t, 2, result.ToVersion)

	added := result.Diff["added"].(map[string]interface{})["points"].([]map[string]interface{})
	require.Len(t, added, 1)
	assert.Equal(t, "wed", added[0]["x"])

	removed := result.Diff["removed"].(map[string]interface{})["points"].([]map[string]interface{})
	require.Len(t, removed, 1)
	assert.Equal(t, "mon", removed[0]["x"])

	changed := result.Diff["changed"].(map[string]interface{})
	assert.Contains(t, changed, "title")
}

func TestDiff_ChartConfigNested(t *testing.T) {
	from := chainArtifact(1, models.ArtifactTypeChart, map[string]interface{}{
		"config": map[string]interface{}{
			"axes": map[string]interface{}{"y_label": "ms"},
		},
	})
	to := chainArtifact(2, models.ArtifactTypeChart, map[string]interface{}{
		"config": map[string]interface{}{
			"axes": map[string]interface{}{"y_label": "milliseconds"},
		},
	})

	result, err := Diff(from, to)
	require.NoError(t, err)

	changed := result.Diff["changed"].(map[string]interface{})
	config := changed["config"].(map[string]interface{})
	axes := config["axes"].(map[string]interface{})
	assert.Contains(t, axes, "y_label")
}

func TestDiff_PDFScalars(t *testing.T) {
	from := chainArtifact(1, models.ArtifactTypePDF, map[string]interface{}{
		"pages": 10, "section_count": 4,
	})
	to := chainArtifact(2, models.ArtifactTypePDF, map[string]interface{}{
		"pages": 12, "section_count": 4,
	})

	result, err := Diff(from, to)
	require.NoError(t, err)

	changed := result.Diff["changed"].(map[string]interface{})
	assert.Contains(t, changed, "pages")
	assert.NotContains(t, changed, "section_count")
}

func TestDiff_TextSize(t *testing.T) {
	from := chainArtifact(1, models.ArtifactTypeText, map[string]interface{}{"size": 1024})
	to := chainArtifact(2, models.ArtifactTypeText, map[string]interface{}{"size": 2048})

	result, err := Diff(from, to)
	require.NoError(t, err)
	assert.Contains(t, result.Diff["changed"].(map[string]interface{}), "size")
}

func TestDiff_IdenticalVersionsAreEmpty(t *testing.T) {
	metadata := map[string]interface{}{"size": 1024}
	result, err := Diff(
		chainArtifact(1, models.ArtifactTypeText, metadata),
		chainArtifact(2, models.ArtifactTypeText, metadata),
	)
	require.NoError(t, err)
	assert.Empty(t, result.Diff)
}

func TestDiff_DifferentChainsRejected(t *testing.T) {
	from := chainArtifact(1, models.ArtifactTypeChart, nil)
	to := chainArtifact(2, models.ArtifactTypeChart, nil)
	to.Role = "throughput"

	_, err := Diff(from, to)
	require.Error(t, err)
	assert.Equal(t, common.KindValidation, common.KindOf(err))
}

func TestDiff_UnsupportedType(t *testing.T) {
	_, err := Diff(
		chainArtifact(1, models.ArtifactTypeImage, nil),
		chainArtifact(2, models.ArtifactTypeImage, nil),
	)
	require.Error(t, err)
	assert.Equal(t, common.KindValidation, common.KindOf(err))
}
