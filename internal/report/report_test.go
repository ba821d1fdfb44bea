package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/CGK-Laboratory/pycroglia/pkg/morphology"
	"github.com/CGK-Laboratory/pycroglia/pkg/pipeline"
)

func testResult() *pipeline.Result {
	return &pipeline.Result{
		RunID: uuid.New(),
		Descriptors: []morphology.Descriptor{
			{Label: 1, VoxelCount: 8, Volume: 8, Sphericity: 0.8},
			{Label: 2, VoxelCount: 27, Volume: 27, Sphericity: 0.6},
		},
	}
}

func TestWriteRendersCharts(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, testResult()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	html := buf.String()
	if !strings.Contains(html, "pycroglia run") {
		t.Error("report should carry the run title")
	}
	for _, want := range []string{"Cell volumes", "Sphericity", "cell 1", "cell 2"} {
		if !strings.Contains(html, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestWriteIncludesComplexityScatter(t *testing.T) {
	res := testResult()
	res.Descriptors[0].Skeleton = &morphology.SkeletonMetrics{
		Voxels: 12, Endpoints: 3, BranchPoints: 1, Length: 11,
	}

	var buf bytes.Buffer
	if err := Write(&buf, res); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Process complexity") {
		t.Error("report with skeletons should include the complexity chart")
	}
}

func TestWriteEmptyResult(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, &pipeline.Result{RunID: uuid.New()}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("report should render even with no objects")
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.html")
	if err := WriteFile(path, testResult()); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read report: %v", err)
	}
	if !strings.Contains(string(data), "<html") {
		t.Error("report file should contain HTML")
	}
}
