package export

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CGK-Laboratory/pycroglia/pkg/morphology"
	"github.com/CGK-Laboratory/pycroglia/pkg/pipeline"
)

func testResult() *pipeline.Result {
	return &pipeline.Result{
		Descriptors: []morphology.Descriptor{
			{
				Label:       1,
				VoxelCount:  8,
				Volume:      8,
				Bounds:      morphology.BoundingBox{MinZ: 1, MinY: 2, MinX: 3, MaxZ: 2, MaxY: 3, MaxX: 4},
				Centroid:    [3]float64{1.5, 2.5, 3.5},
				SurfaceArea: 24,
				Sphericity:  0.806,
				Channels: []morphology.ChannelStats{
					{Channel: 0, Mean: 100, StdDev: 5, Sum: 800, Max: 110},
				},
				Skeleton: &morphology.SkeletonMetrics{
					Voxels: 4, Endpoints: 2, BranchPoints: 0, Length: 3,
				},
			},
			{
				Label:      2,
				VoxelCount: 27,
				Volume:     27,
				Channels: []morphology.ChannelStats{
					{Channel: 0, Mean: 40, StdDev: 0, Sum: 1080, Max: 40},
				},
			},
		},
		TerritorialVolumes: []float64{12.5},
	}
}

func TestWriteCSVHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, testResult()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	want := []string{
		"label", "voxels", "volume",
		"centroid_z", "centroid_y", "centroid_x",
		"bbox_min_z", "bbox_min_y", "bbox_min_x",
		"bbox_max_z", "bbox_max_y", "bbox_max_x",
		"surface_area", "sphericity",
		"ch0_mean", "ch0_std", "ch0_sum", "ch0_max",
		"skeleton_voxels", "skeleton_endpoints", "skeleton_branches", "skeleton_length",
		"territorial_volume",
	}
	assert.Equal(t, want, rows[0])
}

func TestWriteCSVRows(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, testResult()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	first := rows[1]
	assert.Equal(t, "1", first[0])
	assert.Equal(t, "8", first[1])
	assert.Equal(t, "1.5", first[3])
	assert.Equal(t, "2", first[9])  // bbox_max_z
	assert.Equal(t, "24", first[12])
	assert.Equal(t, "100", first[14])
	assert.Equal(t, "4", first[18])  // skeleton_voxels
	assert.Equal(t, "12.5", first[22])

	// Second object has no skeleton and no territorial volume; those
	// cells stay empty rather than shifting the columns.
	second := rows[2]
	assert.Equal(t, "2", second[0])
	assert.Equal(t, "", second[18])
	assert.Equal(t, "", second[21])
	assert.Equal(t, "", second[22])
}

func TestWriteCSVNoDescriptors(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, &pipeline.Result{}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	// No descriptors means no channel column groups.
	assert.NotContains(t, rows[0], "ch0_mean")
}

func TestWriteCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cells.csv")
	require.NoError(t, WriteCSVFile(path, testResult()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "label,voxels,volume")
}
