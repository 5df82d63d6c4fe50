package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFiltersByType(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	reports, unsubReports := b.Subscribe(4, BackgroundReport)
	defer unsubReports()

	b.Publish(Event{Type: TaskScheduled, Data: "a"})
	b.Publish(Event{Type: BackgroundReport, Data: "r"})

	require.Len(t, all, 2)
	require.Len(t, reports, 1)
	ev := <-reports
	assert.Equal(t, BackgroundReport, ev.Type)
	assert.False(t, ev.Time.IsZero())
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TaskFinished})
	b.Publish(Event{Type: TaskFinished}) // must not block
	assert.Len(t, ch, 1)
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after unsubscribe is safe.
	b.Publish(Event{Type: TaskDropped})
}
