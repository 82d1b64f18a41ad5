package broker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mickamy/kvrelay/broker"
	"github.com/mickamy/kvrelay/command"
)

func TestPublishFanOutToMultipleSubscribers(t *testing.T) {
	t.Parallel()

	b := broker.New(4)
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	b.Publish(broker.Event{Op: command.OpSet, Key: "k"})

	for _, ch := range []<-chan broker.Event{ch1, ch2} {
		select {
		case ev := <-ch:
			require.Equal(t, "k", ev.Key)
			require.Equal(t, uint64(1), ev.Seq)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	b := broker.New(1)
	ch, unsub := b.Subscribe()
	unsub()

	_, ok := <-ch
	require.False(t, ok)
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	t.Parallel()

	b := broker.New(1)
	ch, unsub := b.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(broker.Event{Key: "k"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}
	<-ch
}

func TestSeqIncrementsAcrossPublishes(t *testing.T) {
	t.Parallel()

	b := broker.New(4)
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Publish(broker.Event{Key: "a"})
	b.Publish(broker.Event{Key: "b"})

	first := <-ch
	second := <-ch
	require.Equal(t, uint64(1), first.Seq)
	require.Equal(t, uint64(2), second.Seq)
}
