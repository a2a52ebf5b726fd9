package task

import "testing"

func TestClampLease(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, 5},
		{4, 5},
		{5, 5},
		{60, 60},
		{600, 600},
		{601, 600},
		{-100, 5},
	}
	for _, tt := range tests {
		if got := ClampLease(tt.in); got != tt.want {
			t.Errorf("ClampLease(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, 1},
		{1, 1},
		{25, 25},
		{50, 50},
		{51, 50},
	}
	for _, tt := range tests {
		if got := ClampLimit(tt.in); got != tt.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{StatusDone, true},
		{StatusFailed, true},
		{StatusCanceled, true},
		{StatusQueued, false},
		{StatusInFlight, false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsTerminal(tt.status); got != tt.want {
			t.Errorf("IsTerminal(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
