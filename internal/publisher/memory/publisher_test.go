package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/supacrawl/internal/crawler"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "topic-a", crawler.PageStoredEvent{PageID: 3, URL: "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)

	id2, err := pub.Publish(context.Background(), "topic-b", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, crawler.EventPageStored, msgs[0].Type)
	require.Contains(t, string(msgs[0].Data), `"page_id":3`)
	require.Empty(t, msgs[1].Type)

	msgs[0].Topic = "modified"
	require.Equal(t, "topic-a", pub.Messages()[0].Topic, "Messages returns a copy")
}

func TestPublisherRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "t", func() {})
	require.ErrorContains(t, err, "marshal payload")
	require.Empty(t, pub.Messages())
}
