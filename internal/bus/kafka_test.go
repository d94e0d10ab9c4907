package bus

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	sarama "github.com/IBM/sarama"
	"github.com/google/uuid"
)

func newKafkaBus(t *testing.T) (*KafkaBus, context.Context) {
	t.Helper()
	addr := os.Getenv("USERHUB_TEST_KAFKA_ADDR")
	if addr == "" {
		t.Skip("USERHUB_TEST_KAFKA_ADDR not set, skipping Kafka integration tests")
	}

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	b, err := NewKafkaBus([]string{addr}, cfg)
	if err != nil {
		t.Fatalf("new kafka bus: %v", err)
	}
	t.Cleanup(b.Close)
	return b, context.Background()
}

func TestKafkaBusPublishSubscribe(t *testing.T) {
	b, ctx := newKafkaBus(t)
	topic := "test-" + uuid.NewString()

	ch, err := b.Subscribe(ctx, topic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// give the partition consumer a moment to settle
	time.Sleep(2 * time.Second)

	if err := b.Publish(ctx, topic, []byte("user:5")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-ch:
		if !bytes.Equal(msg, []byte("user:5")) {
			t.Fatalf("unexpected payload %q", msg)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	if m := b.Metrics(); m.Published != 1 || m.Delivered != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestKafkaBusUnsubscribe(t *testing.T) {
	b, _ := newKafkaBus(t)
	topic := "test-unsub-" + uuid.NewString()

	subCtx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(subCtx, topic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("channel must be closed after unsubscribe")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for unsubscribe")
	}
}
