package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type tagged struct{ kind string }

func (t tagged) Attributes() map[string]string { return map[string]string{"kind": t.kind} }

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "contacts", tagged{kind: "email_found"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "runs", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "contacts", msgs[0].Topic)
	require.Equal(t, "email_found", msgs[0].Attributes["kind"])
	require.Nil(t, msgs[1].Attributes)

	msgs[0].Topic = "modified"
	require.Equal(t, "contacts", pub.Messages()[0].Topic)
}

func TestPublisherRequiresTopic(t *testing.T) {
	t.Parallel()

	_, err := New().Publish(context.Background(), "", "payload")
	require.Error(t, err)
}
