package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDelivers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())

	b.Publish(New(EventBatchCompleted, "done", map[string]string{"success": "true"}))

	select {
	case ev := <-sub:
		assert.Equal(t, EventBatchCompleted, ev.Type)
		assert.NotEmpty(t, ev.ID)
		assert.Equal(t, "true", ev.Metadata["success"])
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBrokerFiltersByType(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	failures := b.Subscribe(EventMemberRunFailed, EventMemberLoadFailed)
	all := b.Subscribe()

	b.Publish(New(EventMemberRunOK, "ok", map[string]string{"iens": "0"}))
	b.Publish(New(EventMemberLoadFailed, "load", map[string]string{"iens": "2"}))

	for _, want := range []EventType{EventMemberRunOK, EventMemberLoadFailed} {
		select {
		case ev := <-all:
			assert.Equal(t, want, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("%s not delivered", want)
		}
	}
	select {
	case ev := <-failures:
		assert.Equal(t, EventMemberLoadFailed, ev.Type)
		assert.Equal(t, "2", ev.Metadata["iens"])
	case <-time.After(time.Second):
		t.Fatal("filtered event not delivered")
	}
	assert.Empty(t, failures)
}

func TestBrokerCountsDrops(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe()
	for i := 0; i < cap(sub)+3; i++ {
		b.broadcast(New(EventMemberRunOK, "", nil))
	}
	assert.Equal(t, int64(3), b.Dropped())

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	b.Stop()
	b.Stop()
}

func TestNewEventIDsAreUnique(t *testing.T) {
	a := New(EventMemberRunOK, "", nil)
	c := New(EventMemberRunOK, "", nil)
	require.NotEqual(t, a.ID, c.ID)
	assert.False(t, a.Timestamp.IsZero())
}

func TestNilBrokerPublish(t *testing.T) {
	var b *Broker
	b.Publish(New(EventUpdateCompleted, "ignored", nil))
}
