package bus

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natsserver "github.com/nats-io/nats-server/v2/test"
	nats "github.com/nats-io/nats.go"
)

func newNATSBus(t *testing.T) (*NATSBus, context.Context) {
	t.Helper()
	addr := os.Getenv("USERHUB_TEST_NATS_ADDR")

	var (
		conn *nats.Conn
		s    *server.Server
		err  error
	)
	if addr != "" {
		conn, err = nats.Connect(addr)
	} else {
		s = natsserver.RunRandClientPortServer()
		conn, err = nats.Connect(s.ClientURL())
	}
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	b := NewNATSBus(conn)
	t.Cleanup(func() {
		conn.Close()
		if s != nil {
			s.Shutdown()
		}
	})
	return b, context.Background()
}

func TestNATSBusPublishSubscribe(t *testing.T) {
	b, ctx := newNATSBus(t)

	ch, err := b.Subscribe(ctx, "user-events")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := b.Publish(ctx, "user-events", []byte("user:3")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-ch:
		if !bytes.Equal(msg, []byte("user:3")) {
			t.Fatalf("unexpected payload %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	if m := b.Metrics(); m.Published != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestNATSBusUnsubscribe(t *testing.T) {
	b, ctx := newNATSBus(t)

	ch, err := b.Subscribe(ctx, "t")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := b.Unsubscribe(ctx, "t", ch); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel must be closed after unsubscribe")
	}
}
