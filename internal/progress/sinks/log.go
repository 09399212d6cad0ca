package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/contact-harvester/internal/progress"
)

// LogSink writes each progress event as a structured log entry. Target
// outcomes go out at debug level, run boundaries at info and run failures
// at warn.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink writing to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs every event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("profile", evt.Profile),
			zap.Duration("dur", evt.Dur),
		}
		switch evt.Stage {
		case progress.StageTargetDone:
			fields = append(fields,
				zap.Int("row", evt.Row),
				zap.String("site", evt.Site),
				zap.String("outcome", evt.Outcome),
				zap.String("email", evt.Email),
			)
		case progress.StageRunDone, progress.StageRunError:
			fields = append(fields, zap.Int("total", evt.Total), zap.Int("found", evt.Found))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if ce := s.logger.Check(levelFor(evt.Stage), "progress event"); ce != nil {
			ce.Write(fields...)
		}
	}
	return nil
}

func levelFor(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StageRunStart, progress.StageRunDone:
		return zapcore.InfoLevel
	case progress.StageRunError:
		return zapcore.WarnLevel
	default:
		return zapcore.DebugLevel
	}
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error {
	return nil
}
