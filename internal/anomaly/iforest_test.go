package anomaly

import (
	"math"
	"testing"
)

func clusterData(n int) [][]float64 {
	data := make([][]float64, n)
	for i := 0; i < n; i++ {
		data[i] = []float64{
			30 + float64(i%10)*0.5,
			50 + float64(i%7)*0.4,
			40 + float64(i%5)*0.6,
		}
	}
	return data
}

func testFitConfig() FitConfig {
	return FitConfig{Trees: 100, Subsample: 256, Contamination: 0.05, Seed: 42}
}

func TestFit_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		data [][]float64
	}{
		{"empty", nil},
		{"empty vectors", [][]float64{{}, {}}},
		{"ragged rows", [][]float64{{1, 2}, {1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Fit(tt.data, testFitConfig()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestScore_OutlierScoresLower(t *testing.T) {
	f, err := Fit(clusterData(200), testFitConfig())
	if err != nil {
		t.Fatalf("fit: %v", err)
	}

	inlier := f.Score([]float64{32, 51, 41})
	outlier := f.Score([]float64{99, 99, 99})

	if outlier >= inlier {
		t.Errorf("outlier score %.4f not below inlier score %.4f", outlier, inlier)
	}
}

func TestIsOutlier_ExtremePoint(t *testing.T) {
	f, err := Fit(clusterData(200), testFitConfig())
	if err != nil {
		t.Fatalf("fit: %v", err)
	}

	if !f.IsOutlier([]float64{99, 99, 99}) {
		t.Error("extreme point not flagged as outlier")
	}
	if f.IsOutlier([]float64{32, 51, 41}) {
		t.Error("cluster-center point flagged as outlier")
	}
}

func TestFit_DeterministicForSeed(t *testing.T) {
	data := clusterData(100)
	f1, err := Fit(data, testFitConfig())
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	f2, err := Fit(data, testFitConfig())
	if err != nil {
		t.Fatalf("fit: %v", err)
	}

	point := []float64{45, 55, 48}
	if f1.Score(point) != f2.Score(point) {
		t.Errorf("same seed produced different scores: %.6f vs %.6f",
			f1.Score(point), f2.Score(point))
	}
	if f1.Offset() != f2.Offset() {
		t.Errorf("same seed produced different offsets: %.6f vs %.6f",
			f1.Offset(), f2.Offset())
	}
}

func TestScore_RangeIsNegativeUnitInterval(t *testing.T) {
	f, err := Fit(clusterData(100), testFitConfig())
	if err != nil {
		t.Fatalf("fit: %v", err)
	}

	for _, p := range [][]float64{{30, 50, 40}, {99, 99, 99}, {0, 0, 0}} {
		s := f.Score(p)
		if s >= 0 || s < -1 {
			t.Errorf("score %.4f for %v outside [-1, 0)", s, p)
		}
	}
}

func TestAvgPathLength(t *testing.T) {
	tests := []struct {
		n    int
		want float64
	}{
		{0, 0},
		{1, 0},
		{2, 1},
	}
	for _, tt := range tests {
		if got := avgPathLength(tt.n); got != tt.want {
			t.Errorf("avgPathLength(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
	// c(n) grows with n and stays positive.
	if c256 := avgPathLength(256); c256 <= avgPathLength(16) {
		t.Errorf("c(256) = %v not greater than c(16) = %v", c256, avgPathLength(16))
	}
}

func TestQuantile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	tests := []struct {
		q    float64
		want float64
	}{
		{0, 1},
		{1, 5},
		{0.5, 3},
		{0.25, 2},
	}
	for _, tt := range tests {
		if got := quantile(sorted, tt.q); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("quantile(%v) = %v, want %v", tt.q, got, tt.want)
		}
	}
}
