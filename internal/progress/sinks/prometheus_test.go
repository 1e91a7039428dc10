package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/digidex/digidex-crawler/internal/progress"
)

func TestPrometheusSinkCounts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	id := uuid.New()
	discovered := runEvent(id, progress.StageRunDiscovered)
	discovered.Total = 2

	item := itemEvent(id, "Agumon", "saved", 1, 2)
	item.Dur = 120 * time.Millisecond

	batch := []progress.Event{
		runEvent(id, progress.StageRunStart),
		discovered,
		item,
		itemEvent(id, "Gabumon", "failed", 2, 2),
		runEvent(id, progress.StageRunDone),
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, float64(1), testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.itemsProcessed.WithLabelValues("saved")))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.itemsProcessed.WithLabelValues("failed")))
	require.Equal(t, float64(100), testutil.ToFloat64(sink.progressPercent))
	require.Equal(t, float64(2), testutil.ToFloat64(sink.entitiesTotal))
}

func TestPrometheusSinkRunError(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	id := uuid.New()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		runEvent(id, progress.StageRunStart),
		runEvent(id, progress.StageRunError),
	}))

	require.Equal(t, float64(1), testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
}

func TestPrometheusSinkDoubleRegister(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
