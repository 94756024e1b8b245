package eventbus_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/querycore/internal/eventbus"
)

type ping struct{ N int }
type pong struct{}

func TestBus_DispatchesByType(t *testing.T) {
	b := eventbus.New()
	var got []string
	eventbus.On(b, func(_ context.Context, p ping) { got = append(got, "first") })
	eventbus.On(b, func(_ context.Context, p ping) { got = append(got, "second") })
	eventbus.On(b, func(_ context.Context, _ pong) { got = append(got, "pong") })

	eventbus.Emit(context.Background(), b, ping{N: 1})
	require.Equal(t, []string{"first", "second"}, got)
}

func TestBus_UnsubscribeRemovesOnlyThatHandler(t *testing.T) {
	b := eventbus.New()
	var got []int
	handler := func(n int) eventbus.Handler[ping] {
		return func(_ context.Context, p ping) { got = append(got, n*p.N) }
	}
	eventbus.On(b, handler(1))
	unsub := eventbus.On(b, handler(10))
	eventbus.On(b, handler(100))

	unsub()
	unsub()
	eventbus.Emit(context.Background(), b, ping{N: 2})
	require.Equal(t, []int{2, 200}, got)
}

func TestGlobal(t *testing.T) {
	eventbus.Use(nil)
	require.NotPanics(t, func() {
		eventbus.Subscribe(func(context.Context, ping) {})()
		eventbus.Publish(context.Background(), ping{})
	})

	b := eventbus.New()
	eventbus.Use(b)
	defer eventbus.Use(nil)

	var n int
	unsub := eventbus.Subscribe(func(_ context.Context, p ping) { n += p.N })
	eventbus.Publish(context.Background(), ping{N: 3})
	unsub()
	eventbus.Publish(context.Background(), ping{N: 3})
	require.Equal(t, 3, n)
}

func TestBus_UnsubscribeDuringDispatch(t *testing.T) {
	b := eventbus.New()
	var got []string
	var unsub func()
	unsub = eventbus.On(b, func(_ context.Context, _ ping) {
		got = append(got, "once")
		unsub()
	})
	eventbus.On(b, func(_ context.Context, _ ping) { got = append(got, "always") })

	eventbus.Emit(context.Background(), b, ping{})
	eventbus.Emit(context.Background(), b, ping{})
	require.Equal(t, []string{"once", "always", "always"}, got)
}
