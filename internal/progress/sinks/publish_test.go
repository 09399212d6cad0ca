package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/contact-harvester/internal/progress"
	"github.com/JakeFAU/contact-harvester/internal/publisher/memory"
)

func TestPublishSinkPublishesFoundEmailsAndRunEnd(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink := NewPublishSink(pub, "contacts", nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Profile: "website"},
		{RunID: runID, TS: now, Stage: progress.StageTargetDone, Profile: "website", Row: 2,
			Outcome: "found", Email: "info@acme.com", Strategy: "mailto"},
		{RunID: runID, TS: now, Stage: progress.StageTargetDone, Profile: "website", Row: 3, Outcome: "not_found"},
		{RunID: runID, TS: now, Stage: progress.StageRunDone, Profile: "website", Total: 2, Found: 1},
	}))

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	found, ok := msgs[0].Payload.(Notification)
	require.True(t, ok)
	require.Equal(t, KindEmailFound, found.Kind)
	require.Equal(t, "info@acme.com", found.Email)
	require.Equal(t, runUUID.String(), msgs[0].Attributes["run_id"])
	require.Equal(t, "website", msgs[0].Attributes["profile"])

	done := msgs[1].Payload.(Notification)
	require.Equal(t, KindRunDone, done.Kind)
	require.Equal(t, 1, done.Found)
	require.Equal(t, "contacts", msgs[1].Topic)
}

func TestPublishSinkReportsFailures(t *testing.T) {
	t.Parallel()

	sink := NewPublishSink(memory.New(), "", nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Stage: progress.StageRunError, Note: "boom"},
	})
	require.ErrorContains(t, err, "publish run_error")
	require.NoError(t, sink.Close(context.Background()))
}
