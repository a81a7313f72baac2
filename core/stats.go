package orchestration

import (
	"sync"

	"github.com/koscakluka/ema-chat/core/frames"
)

// statsWindow is the number of recent completed turns averaged in [Stats].
const statsWindow = 100

// Stats summarizes the turns of this orchestrator. Averages cover the most
// recent completed turns that reported metrics.
type Stats struct {
	TotalTurns      int
	FailedTurns     int
	ErrorRate       float64
	AvgLatency      float64
	AvgTokensPerSec float64
	RecentSamples   int
}

type statsRecorder struct {
	mu sync.Mutex

	total        int
	failed       int
	latencies    []float64
	tokensPerSec []float64
}

func (r *statsRecorder) recordCompleted(metrics *frames.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	if metrics == nil {
		return
	}
	r.latencies = appendWindowed(r.latencies, metrics.Latency)
	r.tokensPerSec = appendWindowed(r.tokensPerSec, metrics.TokensPerSec)
}

func (r *statsRecorder) recordFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	r.failed++
}

func (r *statsRecorder) stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		TotalTurns:      r.total,
		FailedTurns:     r.failed,
		AvgLatency:      average(r.latencies),
		AvgTokensPerSec: average(r.tokensPerSec),
		RecentSamples:   len(r.latencies),
	}
	if r.total > 0 {
		stats.ErrorRate = float64(r.failed) / float64(r.total)
	}
	return stats
}

func appendWindowed(samples []float64, sample float64) []float64 {
	samples = append(samples, sample)
	if len(samples) > statsWindow {
		samples = samples[len(samples)-statsWindow:]
	}
	return samples
}

func average(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, sample := range samples {
		sum += sample
	}
	return sum / float64(len(samples))
}
