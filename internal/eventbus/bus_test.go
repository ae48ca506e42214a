package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingListener struct {
	name string
	log  *[]string
}

func (l *recordingListener) HandleEvent(_ string, payload any) {
	*l.log = append(*l.log, l.name+":"+payload.(string))
}

type panickingListener struct{}

func (panickingListener) HandleEvent(string, any) { panic("listener blew up") }

func TestBus_PublishInRegistrationOrder(t *testing.T) {
	t.Parallel()
	bus := New()
	var got []string
	a := &recordingListener{name: "a", log: &got}
	b := &recordingListener{name: "b", log: &got}
	c := &recordingListener{name: "c", log: &got}

	bus.Subscribe("t", b)
	bus.Subscribe("t", a)
	bus.Subscribe("t", c)
	bus.Publish("t", "x")

	assert.Equal(t, []string{"b:x", "a:x", "c:x"}, got)
}

func TestBus_SubscribeIsIdempotentPerListener(t *testing.T) {
	t.Parallel()
	bus := New()
	var got []string
	a := &recordingListener{name: "a", log: &got}

	bus.Subscribe("t", a)
	bus.Subscribe("t", a)
	bus.Publish("t", "x")

	assert.Equal(t, []string{"a:x"}, got)
	assert.Equal(t, 1, bus.ListenerCount("t"))
}

func TestBus_UnsubscribeUnknownIsNoop(t *testing.T) {
	t.Parallel()
	bus := New()
	var got []string
	a := &recordingListener{name: "a", log: &got}
	b := &recordingListener{name: "b", log: &got}

	bus.Subscribe("t", a)
	bus.Unsubscribe("t", b)
	bus.Unsubscribe("other", a)
	bus.Publish("t", "x")

	assert.Equal(t, []string{"a:x"}, got)
}

func TestBus_PanickingListenerDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	bus := New()
	var got []string
	bus.Subscribe("t", panickingListener{})
	bus.Subscribe("t", &recordingListener{name: "after", log: &got})

	assert.NotPanics(t, func() { bus.Publish("t", "x") })
	assert.Equal(t, []string{"after:x"}, got)
}

func TestBus_NoReplayForLateSubscribers(t *testing.T) {
	t.Parallel()
	bus := New()
	bus.Publish("t", "early")

	var got []any
	bus.SubscribeFunc("t", func(p any) { got = append(got, p) })
	bus.Publish("t", "late")

	assert.Equal(t, []any{"late"}, got)
}

func TestBus_SubscriptionHandleUnsubscribes(t *testing.T) {
	t.Parallel()
	bus := New()
	calls := 0
	sub := bus.SubscribeFunc("t", func(any) { calls++ })

	bus.Publish("t", 1)
	sub.Unsubscribe()
	sub.Unsubscribe()
	bus.Publish("t", 2)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.ListenerCount("t"))
}

func TestBus_ListenerUnsubscribingDuringPublish(t *testing.T) {
	t.Parallel()
	bus := New()
	var order []string
	var first *Subscription
	first = bus.SubscribeFunc("t", func(any) {
		order = append(order, "first")
		first.Unsubscribe()
	})
	bus.SubscribeFunc("t", func(any) { order = append(order, "second") })

	bus.Publish("t", nil)
	bus.Publish("t", nil)

	assert.Equal(t, []string{"first", "second", "second"}, order)
}

func TestBus_PublishExceptSkipsListener(t *testing.T) {
	t.Parallel()
	bus := New()
	var got []string
	a := &recordingListener{name: "a", log: &got}
	b := &recordingListener{name: "b", log: &got}
	bus.Subscribe("t", a)
	bus.Subscribe("t", b)

	bus.PublishExcept("t", "x", a)

	assert.Equal(t, []string{"b:x"}, got)
}

type funcListener struct {
	fn func(string, any)
}

func (l funcListener) HandleEvent(topic string, payload any) { l.fn(topic, payload) }

func TestBus_RejectsUncomparableListeners(t *testing.T) {
	t.Parallel()
	bus := New()
	var got []string
	a := &recordingListener{name: "a", log: &got}
	assert.NoError(t, bus.Subscribe("t", a))

	bad := funcListener{fn: func(string, any) { got = append(got, "bad") }}
	assert.NotPanics(t, func() {
		assert.ErrorIs(t, bus.Subscribe("t", bad), ErrInvalidListener)
		assert.ErrorIs(t, bus.Subscribe("t", nil), ErrInvalidListener)
		bus.Unsubscribe("t", bad)
		bus.PublishExcept("t", "x", bad)
	})

	assert.Equal(t, 1, bus.ListenerCount("t"))
	assert.Equal(t, []string{"a:x"}, got)
}
