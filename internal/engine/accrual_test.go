package engine

import (
	"testing"
	"time"
)

func TestAccrue(t *testing.T) {
	tests := []struct {
		name     string
		elapsed  time.Duration
		rate     string
		expected string
	}{
		{"one minute", time.Minute, "0.04", "0.04"},
		{"one second tick rounds half up", time.Second, "0.04", "0.0007"},
		{"half a minute", 30 * time.Second, "0.04", "0.02"},
		{"ninety seconds", 90 * time.Second, "0.04", "0.06"},
		{"eight hours", 8 * time.Hour, "0.04", "19.2"},
		{"fifteen hundred millis", 1500 * time.Millisecond, "0.04", "0.001"},
		{"exact half rounds up", 30 * time.Second, "0.0003", "0.0002"},
		{"zero elapsed", 0, "0.04", "0"},
		{"negative elapsed", -time.Minute, "0.04", "0"},
		{"zero rate", time.Hour, "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertDecimal(t, tt.expected, Accrue(tt.elapsed, dec(tt.rate)))
		})
	}
}

func TestAccrueOffline(t *testing.T) {
	tests := []struct {
		name     string
		gap      time.Duration
		expected string
	}{
		{"thirty seconds is discarded", 30 * time.Second, "0"},
		{"just under a minute is discarded", time.Minute - time.Millisecond, "0"},
		{"exactly a minute", time.Minute, "0.04"},
		{"two hours", 2 * time.Hour, "4.8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertDecimal(t, tt.expected, AccrueOffline(tt.gap, dec("0.04")))
		})
	}
}

func TestAccrue_Deterministic(t *testing.T) {
	first := Accrue(17*time.Second+333*time.Millisecond, dec("0.04"))
	for i := 0; i < 10; i++ {
		assertDecimal(t, first.String(), Accrue(17*time.Second+333*time.Millisecond, dec("0.04")))
	}
}
