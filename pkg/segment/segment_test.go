package segment

import (
	"testing"

	"github.com/CGK-Laboratory/pycroglia/pkg/errs"
	"github.com/CGK-Laboratory/pycroglia/pkg/volume"
)

// newTestVolume wraps a raw buffer in a single-channel volume, failing
// the test on shape errors.
func newTestVolume(t *testing.T, data []float64, z, y, x int) *volume.Volume {
	t.Helper()
	vol, err := volume.NewSingleChannel(data, z, y, x)
	if err != nil {
		t.Fatalf("Failed to create test volume: %v", err)
	}
	return vol
}

func TestThresholdOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    ThresholdOptions
		wantErr bool
	}{
		{"fixed", ThresholdOptions{Method: ThresholdFixed, Value: 10}, false},
		{"otsu", ThresholdOptions{Method: ThresholdOtsu}, false},
		{"otsu per slice", ThresholdOptions{Method: ThresholdOtsuSlice, Adjust: 0.9}, false},
		{"unknown method", ThresholdOptions{Method: "triangle"}, true},
		{"negative adjust", ThresholdOptions{Method: ThresholdOtsu, Adjust: -0.5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr = %v", err, tt.wantErr)
			}
			if tt.wantErr && errs.Code(err) != errs.CodeInvalidConfig {
				t.Errorf("error code = %d, want %d", errs.Code(err), errs.CodeInvalidConfig)
			}
		})
	}
}

func TestFixedThresholdIsStrict(t *testing.T) {
	vol := newTestVolume(t, []float64{5, 10, 10.5, 20}, 1, 2, 2)

	mask, err := Mask(vol, ThresholdOptions{Method: ThresholdFixed, Value: 10})
	if err != nil {
		t.Fatalf("Mask failed: %v", err)
	}

	// Voxels equal to the level stay background.
	want := []uint8{0, 0, 1, 1}
	for i := range want {
		if mask[i] != want[i] {
			t.Errorf("mask voxel %d = %d, want %d", i, mask[i], want[i])
		}
	}
}

func TestOtsuSeparatesBimodalData(t *testing.T) {
	// Half the voxels near 10, half near 200; Otsu must land between.
	data := make([]float64, 64)
	for i := range data {
		if i < 32 {
			data[i] = 10 + float64(i%4)
		} else {
			data[i] = 200 + float64(i%4)
		}
	}
	vol := newTestVolume(t, data, 4, 4, 4)

	mask, err := Mask(vol, ThresholdOptions{Method: ThresholdOtsu})
	if err != nil {
		t.Fatalf("Mask failed: %v", err)
	}

	for i := 0; i < 32; i++ {
		if mask[i] != 0 {
			t.Fatalf("dark voxel %d classified as foreground", i)
		}
	}
	for i := 32; i < 64; i++ {
		if mask[i] != 1 {
			t.Fatalf("bright voxel %d classified as background", i)
		}
	}
}

func TestOtsuSliceThresholdsIndependently(t *testing.T) {
	// Slice 0 is dim bimodal, slice 1 is bright bimodal. A global
	// threshold would flatten slice 0; per-slice keeps both objects.
	data := []float64{
		// slice 0: background 2, object 40
		2, 2, 2, 2,
		2, 40, 40, 2,
		2, 40, 40, 2,
		2, 2, 2, 2,
		// slice 1: background 10, object 250
		10, 10, 10, 10,
		10, 250, 250, 10,
		10, 250, 250, 10,
		10, 10, 10, 10,
	}
	vol := newTestVolume(t, data, 2, 4, 4)

	mask, err := Mask(vol, ThresholdOptions{Method: ThresholdOtsuSlice})
	if err != nil {
		t.Fatalf("Mask failed: %v", err)
	}

	fg := 0
	for _, m := range mask {
		fg += int(m)
	}
	if fg != 8 {
		t.Errorf("foreground voxel count = %d, want 8 (both objects)", fg)
	}
	for _, idx := range []int{5, 6, 9, 10} {
		if mask[idx] != 1 {
			t.Errorf("dim slice object voxel %d lost", idx)
		}
	}
}

func TestOtsuAdjustFactor(t *testing.T) {
	data := make([]float64, 64)
	for i := range data {
		if i < 32 {
			data[i] = 10
		} else {
			data[i] = 200
		}
	}
	vol := newTestVolume(t, data, 4, 4, 4)

	// An adjust factor large enough to push the level past every voxel
	// gets clamped to the maximum, so the brightest voxels still
	// cannot exceed it and the mask goes empty.
	mask, err := Mask(vol, ThresholdOptions{Method: ThresholdOtsu, Adjust: 100})
	if err != nil {
		t.Fatalf("Mask failed: %v", err)
	}
	for i, m := range mask {
		if m != 0 {
			t.Fatalf("voxel %d foreground under clamped threshold", i)
		}
	}
}

func TestMaskRejectsMultiChannel(t *testing.T) {
	vol, err := volume.New(make([]float64, 8), 1, 2, 2, 2)
	if err != nil {
		t.Fatalf("Failed to create volume: %v", err)
	}
	if _, err := Mask(vol, ThresholdOptions{Method: ThresholdFixed}); err == nil {
		t.Fatal("Mask should reject a multi-channel volume")
	}
}

func TestConnectivityValidate(t *testing.T) {
	for _, c := range []Connectivity{ConnectivityFaces, ConnectivityEdges, ConnectivityCorners} {
		if err := c.Validate(); err != nil {
			t.Errorf("connectivity %d should be valid: %v", int(c), err)
		}
	}
	if err := Connectivity(0).Validate(); err == nil {
		t.Error("connectivity 0 should be invalid")
	}
	if err := Connectivity(4).Validate(); err == nil {
		t.Error("connectivity 4 should be invalid")
	}
}

func TestLabelConnectivityRules(t *testing.T) {
	// Two voxels touching only at a corner across slices: one object
	// under 26-connectivity, two under 6- and 18-connectivity.
	corner := make([]uint8, 8)
	corner[0] = 1 // (0,0,0)
	corner[7] = 1 // (1,1,1)

	// Two voxels sharing an edge: one object under 18 and 26, two
	// under 6.
	edge := make([]uint8, 8)
	edge[0] = 1 // (0,0,0)
	edge[3] = 1 // (0,1,1)

	tests := []struct {
		name string
		mask []uint8
		conn Connectivity
		want int
	}{
		{"corner contact, faces", corner, ConnectivityFaces, 2},
		{"corner contact, edges", corner, ConnectivityEdges, 2},
		{"corner contact, corners", corner, ConnectivityCorners, 1},
		{"edge contact, faces", edge, ConnectivityFaces, 2},
		{"edge contact, edges", edge, ConnectivityEdges, 1},
		{"edge contact, corners", edge, ConnectivityCorners, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lv, err := Label(tt.mask, 2, 2, 2, tt.conn)
			if err != nil {
				t.Fatalf("Label failed: %v", err)
			}
			if lv.Len() != tt.want {
				t.Errorf("object count = %d, want %d", lv.Len(), tt.want)
			}
		})
	}
}

func TestLabelOrderIsDeterministic(t *testing.T) {
	// U-shaped object whose arms meet only at the bottom row, plus an
	// isolated voxel. The merge must resolve to a single label and the
	// ids must follow raster order of first appearance.
	mask := []uint8{
		1, 0, 1,
		1, 0, 1,
		1, 1, 1,

		0, 0, 0,
		0, 0, 0,
		0, 1, 0,
	}
	// Voxel (1,2,1) touches (0,2,1) by face, so it joins the U.
	lv, err := Label(mask, 2, 3, 3, ConnectivityFaces)
	if err != nil {
		t.Fatalf("Label failed: %v", err)
	}
	if lv.Len() != 1 {
		t.Fatalf("object count = %d, want 1", lv.Len())
	}

	for i := 0; i < 5; i++ {
		again, err := Label(mask, 2, 3, 3, ConnectivityFaces)
		if err != nil {
			t.Fatalf("Label failed on repeat %d: %v", i, err)
		}
		for j := range lv.Labels {
			if lv.Labels[j] != again.Labels[j] {
				t.Fatalf("labeling not deterministic at voxel %d on repeat %d", j, i)
			}
		}
	}
}

func TestLabelRasterOrderIds(t *testing.T) {
	// Three separated voxels along x. Labels must be 1, 2, 3 in scan
	// order.
	mask := []uint8{1, 0, 1, 0, 1}
	lv, err := Label(mask, 1, 1, 5, ConnectivityCorners)
	if err != nil {
		t.Fatalf("Label failed: %v", err)
	}
	if lv.Len() != 3 {
		t.Fatalf("object count = %d, want 3", lv.Len())
	}
	want := []int32{1, 0, 2, 0, 3}
	for i := range want {
		if lv.Labels[i] != want[i] {
			t.Errorf("label at %d = %d, want %d", i, lv.Labels[i], want[i])
		}
	}
}

func TestLabelAllBackground(t *testing.T) {
	lv, err := Label(make([]uint8, 27), 3, 3, 3, ConnectivityCorners)
	if err != nil {
		t.Fatalf("Label failed: %v", err)
	}
	if lv.Len() != 0 {
		t.Errorf("object count = %d, want 0", lv.Len())
	}
}

func TestSegmentEmptyVolume(t *testing.T) {
	vol := newTestVolume(t, make([]float64, 27), 3, 3, 3)
	lv, err := Segment(vol, ThresholdOptions{Method: ThresholdOtsu}, ConnectivityCorners)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if lv.Len() != 0 {
		t.Errorf("object count = %d, want 0 for an all-zero volume", lv.Len())
	}
}

func TestFromMasksOverlapResolution(t *testing.T) {
	a := []uint8{1, 1, 0, 0}
	b := []uint8{0, 1, 1, 0}
	lv, err := FromMasks([][]uint8{a, b}, 1, 2, 2)
	if err != nil {
		t.Fatalf("FromMasks failed: %v", err)
	}
	want := []int32{1, 2, 2, 0}
	for i := range want {
		if lv.Labels[i] != want[i] {
			t.Errorf("label at %d = %d, want %d (later mask wins overlap)", i, lv.Labels[i], want[i])
		}
	}
}

func TestRemoveSmallObjects(t *testing.T) {
	// One 3-voxel bar and one isolated voxel.
	mask := []uint8{
		1, 1, 1, 0, 1,
	}
	out, err := RemoveSmallObjects(mask, 1, 1, 5, 2, ConnectivityFaces)
	if err != nil {
		t.Fatalf("RemoveSmallObjects failed: %v", err)
	}
	want := []uint8{1, 1, 1, 0, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("mask voxel %d = %d, want %d", i, out[i], want[i])
		}
	}

	// The input mask must be untouched.
	if mask[4] != 1 {
		t.Error("input mask was mutated")
	}
}
