package indicator

import (
	"math"
	"testing"
)

func TestSMA_Calculate(t *testing.T) {
	prices := []float64{10, 11, 12, 13, 14, 15}

	sma := SMA(prices, 3)

	// SMA(3) for [10,11,12,13,14,15]:
	// [0] = (10+11+12)/3 = 11
	// [1] = (11+12+13)/3 = 12
	// [2] = (12+13+14)/3 = 13
	// [3] = (13+14+15)/3 = 14

	expected := []float64{11, 12, 13, 14}

	if len(sma) != len(expected) {
		t.Fatalf("expected %d values, got %d", len(expected), len(sma))
	}

	for i, v := range expected {
		if sma[i] != v {
			t.Errorf("sma[%d] = %f, want %f", i, sma[i], v)
		}
	}
}

func TestSMA_NotEnoughData(t *testing.T) {
	prices := []float64{10, 11}
	sma := SMA(prices, 5)

	if len(sma) != 0 {
		t.Errorf("expected empty slice, got %d values", len(sma))
	}
}

func TestRollingMax_Calculate(t *testing.T) {
	prices := []float64{10, 12, 11, 9, 13, 8}

	rm := RollingMax(prices, 3)

	// [0] = max(10,12,11) = 12
	// [1] = max(12,11,9) = 12
	// [2] = max(11,9,13) = 13
	// [3] = max(9,13,8) = 13
	expected := []float64{12, 12, 13, 13}

	if len(rm) != len(expected) {
		t.Fatalf("expected %d values, got %d", len(expected), len(rm))
	}

	for i, v := range expected {
		if rm[i] != v {
			t.Errorf("rolling max[%d] = %f, want %f", i, rm[i], v)
		}
	}
}

func TestRollingMax_DecreasingSeries(t *testing.T) {
	prices := []float64{15, 14, 13, 12, 11}
	rm := RollingMax(prices, 2)

	expected := []float64{15, 14, 13, 12}
	for i, v := range expected {
		if rm[i] != v {
			t.Errorf("rolling max[%d] = %f, want %f", i, rm[i], v)
		}
	}
}

func TestRollingMax_NotEnoughData(t *testing.T) {
	if rm := RollingMax([]float64{1, 2}, 3); len(rm) != 0 {
		t.Errorf("expected empty slice, got %d values", len(rm))
	}
	if rm := RollingMax([]float64{1, 2}, 0); len(rm) != 0 {
		t.Errorf("expected empty slice for zero period, got %d values", len(rm))
	}
}

func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) < tolerance
}
