package highlight

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openstream/octane/internal/domain"
)

func TestComputeScores_TemporalFusion(t *testing.T) {
	// Two signals one second apart still reinforce each other through the
	// ±1s window.
	outputs := map[string]domain.SignalScores{
		"audio_spike":  {10: 1.0},
		"scene_change": {11: 0.8},
	}
	weights := map[string]float64{"audio_spike": 0.3, "scene_change": 0.25}

	agg := ComputeScores(outputs, weights, 20)

	// At second 10 the audio score is direct and the scene score is pulled
	// from second 11.
	require.Contains(t, agg, 10)
	require.InDelta(t, 1.0*0.3+0.8*0.25, agg[10].Total, 1e-9)
	require.Equal(t, 2, agg[10].SigCount)

	// At second 11 the audio score is pulled back from second 10.
	require.Contains(t, agg, 11)
	require.InDelta(t, 1.0*0.3+0.8*0.25, agg[11].Total, 1e-9)

	// Second 13 is outside both windows.
	require.NotContains(t, agg, 13)
}

func TestComputeScores_DropsNearZeroTotals(t *testing.T) {
	outputs := map[string]domain.SignalScores{
		"chat_spike": {5: 0.05},
	}
	weights := map[string]float64{"chat_spike": 0.2}

	agg := ComputeScores(outputs, weights, 10)
	require.Empty(t, agg, "0.05*0.2 = 0.01 should be dropped")
}

func TestComputeScores_SigCountIgnoresWeakSignals(t *testing.T) {
	outputs := map[string]domain.SignalScores{
		"audio_spike": {4: 0.9},
		"chat_spike":  {4: 0.08},
	}
	weights := map[string]float64{"audio_spike": 0.3, "chat_spike": 0.2}

	agg := ComputeScores(outputs, weights, 10)
	require.Contains(t, agg, 4)
	require.Equal(t, 1, agg[4].SigCount, "scores <= 0.1 do not count as firing")
}

func TestComputeScores_RoundsToFourDecimals(t *testing.T) {
	outputs := map[string]domain.SignalScores{
		"audio_spike": {0: 1.0 / 3.0},
	}
	weights := map[string]float64{"audio_spike": 0.3}

	agg := ComputeScores(outputs, weights, 1)
	require.Equal(t, 0.1, agg[0].Total)
}

func TestQualifySeconds(t *testing.T) {
	aggregate := map[int]domain.AggregateScore{
		10: {Total: 0.40, SigCount: 2}, // over threshold, two signals
		20: {Total: 0.36, SigCount: 1}, // single strong signal
		30: {Total: 0.28, SigCount: 1}, // single weak signal, below 0.3
		40: {Total: 0.20, SigCount: 3}, // below threshold entirely
	}

	qualified := QualifySeconds(aggregate, 0.35)
	require.Len(t, qualified, 2)
	require.Equal(t, 0.40, qualified[10])
	require.Equal(t, 0.36, qualified[20])
	require.NotContains(t, qualified, 30)
	require.NotContains(t, qualified, 40)
}

func TestQualifySeconds_SingleSignalNeedsPointThree(t *testing.T) {
	aggregate := map[int]domain.AggregateScore{
		5: {Total: 0.25, SigCount: 1},
	}
	qualified := QualifySeconds(aggregate, 0.2)
	require.Empty(t, qualified)

	aggregate[5] = domain.AggregateScore{Total: 0.31, SigCount: 1}
	qualified = QualifySeconds(aggregate, 0.2)
	require.Equal(t, 0.31, qualified[5])
}
