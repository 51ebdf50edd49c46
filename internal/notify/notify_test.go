package notify

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestPublisher(t *testing.T) (*Publisher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewPublisher(client, "test:changes", nil), mr
}

func TestPublishReachesSubscriber(t *testing.T) {
	pub, _ := newTestPublisher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := pub.Subscribe(ctx)
	require.NoError(t, err)

	pub.Publish(ctx, Change{Table: "inventory_items", ID: "item-1", Action: ActionUpdate})

	select {
	case c := <-changes:
		require.Equal(t, "inventory_items", c.Table)
		require.Equal(t, "item-1", c.ID)
		require.Equal(t, ActionUpdate, c.Action)
		require.False(t, c.At.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("change not delivered")
	}
}

func TestNilPublisherIsSilent(t *testing.T) {
	var pub *Publisher
	require.NotPanics(t, func() {
		pub.Publish(context.Background(), Change{Table: "property_transfers", ID: "t-1", Action: ActionInsert})
	})
	require.Equal(t, DefaultChannel, pub.Channel())
}

func TestRelayForwardsToWebsocketClients(t *testing.T) {
	pub, mr := newTestPublisher(t)
	relay := NewRelay(pub, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(pub.Channel())[pub.Channel()] == 1
	}, 2*time.Second, 10*time.Millisecond)

	srv := httptest.NewServer(relay)
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return relay.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	pub.Publish(ctx, Change{Table: "property_card_entries", ID: "entry-9", Action: ActionInsert})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Change
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, "entry-9", got.ID)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestPublishReportsToObserver(t *testing.T) {
	pub, _ := newTestPublisher(t)
	var tables []string
	pub.Observe(func(table string) { tables = append(tables, table) })

	pub.Publish(context.Background(),
		Change{Table: "property_transfers", ID: "t-1", Action: ActionInsert},
		Change{Table: "transfer_items", ID: "ti-1", Action: ActionInsert})

	require.Equal(t, []string{"property_transfers", "transfer_items"}, tables)
}
