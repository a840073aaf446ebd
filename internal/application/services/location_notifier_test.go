package services_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/localdirectory/telemetry-core/internal/application/services"
)

func TestLocationNotifier_NotifiesInRegistrationOrder(t *testing.T) {
	n := services.NewLocationNotifier()

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		n.Subscribe(func() { order = append(order, i) })
	}

	n.Notify()
	assert.Equal(t, []int{1, 2, 3}, order)

	n.Notify()
	assert.Equal(t, []int{1, 2, 3, 1, 2, 3}, order)
}

func TestLocationNotifier_PanickingListenerDoesNotStopOthers(t *testing.T) {
	n := services.NewLocationNotifier()

	var called []string
	n.Subscribe(func() { called = append(called, "first") })
	n.Subscribe(func() { panic("listener failure") })
	n.Subscribe(func() { called = append(called, "third") })

	assert.NotPanics(t, n.Notify)
	assert.Equal(t, []string{"first", "third"}, called)
}

func TestLocationNotifier_Unsubscribe(t *testing.T) {
	n := services.NewLocationNotifier()

	calls := map[string]int{}
	unsubA := n.Subscribe(func() { calls["a"]++ })
	n.Subscribe(func() { calls["b"]++ })
	assert.Equal(t, 2, n.Len())

	unsubA()
	unsubA()
	assert.Equal(t, 1, n.Len())

	n.Notify()
	assert.Equal(t, 0, calls["a"])
	assert.Equal(t, 1, calls["b"])
}

func TestLocationNotifier_ListenerMayUnsubscribeDuringNotify(t *testing.T) {
	n := services.NewLocationNotifier()

	calls := 0
	var unsub func()
	unsub = n.Subscribe(func() {
		calls++
		unsub()
	})

	n.Notify()
	n.Notify()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, n.Len())
}
