package publish

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/apihost/go/logbatch"
)

func TestLocalPublisherFlushBatchAcceptsEveryLevel(t *testing.T) {
	var p = NewLocalPublisher("test-task")

	// FlushBatch only needs to not error; logrus output isn't captured here,
	// matching how the teacher's LocalPublisher has no return value to assert
	// on either. The real assertion is that it never panics on any Level.
	require.NoError(t, p.FlushBatch([]logbatch.Record{
		{Level: logbatch.Debug, Message: []byte("debug line")},
		{Level: logbatch.Info, Message: []byte("info line")},
		{Level: logbatch.Warn, Message: []byte("warn line")},
		{Level: logbatch.Error, Message: []byte("error line")},
		{Level: logbatch.Fatal, Message: []byte("fatal line never exits the process")},
	}))
}

func TestLocalPublisherFlushBatchEmptyIsNoop(t *testing.T) {
	var p = NewLocalPublisher("")
	require.NoError(t, p.FlushBatch(nil))
}
