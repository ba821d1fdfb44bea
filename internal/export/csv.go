// Package export writes pipeline results to tabular files. The core
// pipeline never touches the filesystem; exporting is a presentation
// concern that lives with the callers.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/CGK-Laboratory/pycroglia/pkg/pipeline"
)

// WriteCSV writes one row per object descriptor. Channel statistics
// expand into one column group per channel of the source volume.
func WriteCSV(w io.Writer, res *pipeline.Result) error {
	cw := csv.NewWriter(w)

	channels := 0
	if len(res.Descriptors) > 0 {
		channels = len(res.Descriptors[0].Channels)
	}

	header := []string{
		"label", "voxels", "volume",
		"centroid_z", "centroid_y", "centroid_x",
		"bbox_min_z", "bbox_min_y", "bbox_min_x",
		"bbox_max_z", "bbox_max_y", "bbox_max_x",
		"surface_area", "sphericity",
	}
	for c := 0; c < channels; c++ {
		header = append(header,
			fmt.Sprintf("ch%d_mean", c),
			fmt.Sprintf("ch%d_std", c),
			fmt.Sprintf("ch%d_sum", c),
			fmt.Sprintf("ch%d_max", c),
		)
	}
	header = append(header,
		"skeleton_voxels", "skeleton_endpoints", "skeleton_branches", "skeleton_length",
		"territorial_volume",
	)
	if err := cw.Write(header); err != nil {
		return err
	}

	for i, d := range res.Descriptors {
		row := []string{
			fmt.Sprint(d.Label),
			fmt.Sprint(d.VoxelCount),
			formatFloat(d.Volume),
			formatFloat(d.Centroid[0]), formatFloat(d.Centroid[1]), formatFloat(d.Centroid[2]),
			fmt.Sprint(d.Bounds.MinZ), fmt.Sprint(d.Bounds.MinY), fmt.Sprint(d.Bounds.MinX),
			fmt.Sprint(d.Bounds.MaxZ), fmt.Sprint(d.Bounds.MaxY), fmt.Sprint(d.Bounds.MaxX),
			formatFloat(d.SurfaceArea),
			formatFloat(d.Sphericity),
		}
		for _, s := range d.Channels {
			row = append(row,
				formatFloat(s.Mean), formatFloat(s.StdDev),
				formatFloat(s.Sum), formatFloat(s.Max))
		}
		if d.Skeleton != nil {
			row = append(row,
				fmt.Sprint(d.Skeleton.Voxels),
				fmt.Sprint(d.Skeleton.Endpoints),
				fmt.Sprint(d.Skeleton.BranchPoints),
				formatFloat(d.Skeleton.Length))
		} else {
			row = append(row, "", "", "", "")
		}
		if i < len(res.TerritorialVolumes) {
			row = append(row, formatFloat(res.TerritorialVolumes[i]))
		} else {
			row = append(row, "")
		}

		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes the descriptor table to a file path.
func WriteCSVFile(path string, res *pipeline.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteCSV(f, res)
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}
