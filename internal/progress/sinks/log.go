package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/digidex/digidex-crawler/internal/progress"
)

// LogSink writes one human-readable log line per progress event. It is the
// console consumer of the run's observable surface; any other front-end
// subscribes through its own sink without the orchestrator knowing.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.Int("percent", evt.Percent()),
		}
		if evt.Stage == progress.StageItemDone {
			fields = append(fields,
				zap.String("entity", evt.Entity),
				zap.String("outcome", evt.Outcome),
			)
		}
		s.logger.Info(FormatLine(evt), fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

// FormatLine renders an event as a single log line.
func FormatLine(evt progress.Event) string {
	switch evt.Stage {
	case progress.StageRunStart:
		return "run started"
	case progress.StageRunDiscovered:
		return fmt.Sprintf("discovered %d entities", evt.Total)
	case progress.StageItemDone:
		line := fmt.Sprintf("%s %s (%d/%d, %d%%)",
			evt.Outcome, evt.Entity, evt.Completed, evt.Total, evt.Percent())
		if evt.Note != "" {
			line += ": " + evt.Note
		}
		return line
	case progress.StageRunDone:
		return fmt.Sprintf("run completed, %d entities attempted", evt.Total)
	case progress.StageRunError:
		if evt.Note != "" {
			return "run failed: " + evt.Note
		}
		return "run failed"
	default:
		return string(evt.Stage)
	}
}
