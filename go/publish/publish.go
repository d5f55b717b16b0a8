// Package publish implements the Publisher abstraction used for per-request
// user log output and process-level operational logging, grounded on
// go/protocols/ops/local_publisher.go's LocalPublisher. Where the teacher's
// Publisher ships protobuf Log/Stats events to a journal, ours ships
// logbatch.Record batches: the same "always have somewhere to put a log
// line, even with no host reachable" shape, generalized to this core's
// Record type instead of a wire-specific event.
package publish

import (
	"github.com/sirupsen/logrus"

	"github.com/estuary/apihost/go/logbatch"
)

// Publisher accepts finished log batches. It is logbatch.Flusher plus
// PublishRecord, which publishes a single record directly, without buffering
// it through a Batcher.
type Publisher interface {
	logbatch.Flusher
	PublishRecord(r logbatch.Record)
}

// LocalPublisher publishes to the local process stderr via logrus, exactly
// as go/protocols/ops/local_publisher.go does for its own Log/Stats events.
// env.New uses it as the Environment's log flusher when the Config supplies
// no LogFlusher, so log output is never silently dropped.
type LocalPublisher struct {
	taskName string
}

var _ Publisher = (*LocalPublisher)(nil)

// NewLocalPublisher constructs a LocalPublisher tagging every record with
// taskName (mirroring LocalPublisher.labels.TaskName in the teacher).
func NewLocalPublisher(taskName string) *LocalPublisher {
	return &LocalPublisher{taskName: taskName}
}

// FlushBatch satisfies logbatch.Flusher by publishing every record in order.
func (p *LocalPublisher) FlushBatch(batch []logbatch.Record) error {
	for _, r := range batch {
		p.PublishRecord(r)
	}
	return nil
}

// PublishRecord logs r through logrus, mapping logbatch.Level the same way
// LocalPublisher.PublishLog maps ops.Log_Level.
func (p *LocalPublisher) PublishRecord(r logbatch.Record) {
	var level logrus.Level
	switch r.Level {
	case logbatch.Debug:
		level = logrus.DebugLevel
	case logbatch.Info:
		level = logrus.InfoLevel
	case logbatch.Warn:
		level = logrus.WarnLevel
	case logbatch.Fatal:
		level = logrus.ErrorLevel // Never actually exit the publishing process over a user log.
	default:
		level = logrus.ErrorLevel
	}

	var fields = logrus.Fields{"timestampMicros": r.TimestampMicros}
	if p.taskName != "" {
		fields["task"] = p.taskName
	}

	logrus.StandardLogger().WithFields(fields).Log(level, string(r.Message))
}
