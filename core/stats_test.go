package orchestration

import (
	"testing"

	"github.com/koscakluka/ema-chat/core/frames"
)

func TestStatsAverageOnlyRecentTurns(t *testing.T) {
	var recorder statsRecorder
	for range statsWindow {
		recorder.recordCompleted(&frames.Metrics{Latency: 10, TokensPerSec: 100})
	}
	for range statsWindow {
		recorder.recordCompleted(&frames.Metrics{Latency: 1, TokensPerSec: 20})
	}

	stats := recorder.stats()
	if stats.TotalTurns != 2*statsWindow {
		t.Fatalf("expected every turn to be counted, got %d", stats.TotalTurns)
	}
	if stats.RecentSamples != statsWindow || stats.AvgLatency != 1 || stats.AvgTokensPerSec != 20 {
		t.Fatalf("expected averages over the last %d turns, got %+v", statsWindow, stats)
	}
}

func TestStatsWithoutSamples(t *testing.T) {
	var recorder statsRecorder
	recorder.recordCompleted(nil)
	recorder.recordFailed()

	stats := recorder.stats()
	expected := Stats{TotalTurns: 2, FailedTurns: 1, ErrorRate: 0.5}
	if stats != expected {
		t.Fatalf("expected %+v, got %+v", expected, stats)
	}
}
