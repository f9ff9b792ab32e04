package reporting

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()

	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	}
	ns, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func connect(t *testing.T) *nats.Conn {
	t.Helper()
	ns := startTestNATSServer(t)
	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestNATSPublisher_PublishesTurn(t *testing.T) {
	nc := connect(t)
	pub := NewNATSPublisher(nc, "")

	sub, err := nc.SubscribeSync("coaching.acme.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	event := TurnEvent{
		SessionID: "acme",
		Seq:       1,
		Phase:     "why",
		Reply:     "What do you believe?",
		Score:     0.5,
		NextPhase: "why",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.PublishTurn(context.Background(), event))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "coaching.acme.turn", msg.Subject)

	var got TurnEvent
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, event, got)

	_, err = sub.NextMsg(100 * time.Millisecond)
	assert.ErrorIs(t, err, nats.ErrTimeout, "no phase event without advance")
}

func TestNATSPublisher_PublishesPhaseOnAdvance(t *testing.T) {
	nc := connect(t)
	pub := NewNATSPublisher(nc, "strategy")

	sub, err := nc.SubscribeSync("strategy.acme.phase")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	require.NoError(t, pub.PublishTurn(context.Background(), TurnEvent{
		SessionID: "acme",
		Seq:       4,
		Phase:     "why",
		Score:     1,
		Advanced:  true,
		NextPhase: "how",
	}))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var got TurnEvent
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "how", got.NextPhase)
	assert.True(t, got.Advanced)
}

func TestNATSPublisher_CancelledContext(t *testing.T) {
	nc := connect(t)
	pub := NewNATSPublisher(nc, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.PublishTurn(ctx, TurnEvent{SessionID: "x"}), context.Canceled)
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NopPublisher{}.PublishTurn(context.Background(), TurnEvent{}))
}
