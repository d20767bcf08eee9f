package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBusFansOutInSubscriptionOrder(t *testing.T) {
	bus := New("")
	var first, second []string
	var order []string

	bus.Subscribe(func(s Signal) {
		first = append(first, s.String())
		order = append(order, "first")
	})
	bus.Subscribe(func(s Signal) {
		second = append(second, s.String())
		order = append(order, "second")
	})

	bus.Publish(Start())
	bus.Publish(Progress(55))
	bus.Publish(End())

	want := []string{"start", "progress:55", "end"}
	require.Equal(t, want, first)
	require.Equal(t, want, second)
	require.Equal(t, []string{"first", "second", "first", "second", "first", "second"}, order)
}

func TestBusNoReplayForLateSubscribers(t *testing.T) {
	bus := New("demo")
	bus.Publish(Start())

	var got []Signal
	bus.Subscribe(func(s Signal) { got = append(got, s) })
	require.Empty(t, got)

	bus.Publish(End())
	require.Equal(t, []Signal{End()}, got)
	require.Equal(t, "demo", bus.Channel())
}

func TestBusUnsubscribeIsIdempotent(t *testing.T) {
	bus := New("")
	calls := 0
	unsubscribe := bus.Subscribe(func(Signal) { calls++ })
	other := bus.Subscribe(func(Signal) {})

	unsubscribe()
	unsubscribe()
	bus.Publish(Start())

	require.Zero(t, calls)
	require.Equal(t, 1, bus.Subscribers())
	other()
	require.Zero(t, bus.Subscribers())
}

func TestBusUnsubscribeDuringPublishKeepsSnapshot(t *testing.T) {
	bus := New("")
	var got []string
	var unsubscribeSecond func()

	bus.Subscribe(func(Signal) {
		got = append(got, "first")
		unsubscribeSecond()
	})
	unsubscribeSecond = bus.Subscribe(func(Signal) { got = append(got, "second") })

	bus.Publish(Start())
	bus.Publish(End())

	require.Equal(t, []string{"first", "second", "first"}, got)
}

func TestParseSignal(t *testing.T) {
	cases := []struct {
		raw     string
		want    Signal
		wantErr bool
	}{
		{raw: "start", want: Start()},
		{raw: " END ", want: End()},
		{raw: "progress:55", want: Progress(55)},
		{raw: "progress:140", want: Progress(100)},
		{raw: "progress:-3", want: Progress(0)},
		{raw: "progress:abc", wantErr: true},
		{raw: "loadstart", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseSignal(tc.raw)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
