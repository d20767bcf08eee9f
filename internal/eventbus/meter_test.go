package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	delay   time.Duration
	fire    func()
	stopped bool
}

func (f *fakeTimer) Stop() bool {
	f.stopped = true
	return true
}

func newTestMeter() (*Meter, *[]*fakeTimer) {
	timers := &[]*fakeTimer{}
	m := NewMeter(0)
	m.afterFunc = func(d time.Duration, f func()) timer {
		ft := &fakeTimer{delay: d, fire: f}
		*timers = append(*timers, ft)
		return ft
	}
	return m, timers
}

func TestMeterFollowsSignalSequence(t *testing.T) {
	bus := New("")
	meter, timers := newTestMeter()
	meter.Attach(bus)

	bus.Publish(Start())
	require.Equal(t, MeterState{Visible: true, Value: StartBaseline}, meter.State())

	bus.Publish(Progress(55))
	require.Equal(t, MeterState{Visible: true, Value: 55}, meter.State())

	bus.Publish(End())
	require.Equal(t, MeterState{Visible: true, Value: 100}, meter.State())
	require.Len(t, *timers, 1)
	require.Equal(t, DefaultSettleDelay, (*timers)[0].delay)

	(*timers)[0].fire()
	require.Equal(t, MeterState{}, meter.State())
}

func TestMeterStartCancelsPendingReset(t *testing.T) {
	meter, timers := newTestMeter()

	meter.Handle(Start())
	meter.Handle(End())
	meter.Handle(Start())

	require.True(t, (*timers)[0].stopped)
	// 已经触发但迟到的 reset 不应覆盖新的 start。
	(*timers)[0].fire()
	require.Equal(t, MeterState{Visible: true, Value: StartBaseline}, meter.State())
}

func TestMeterSettlesWithRealTimer(t *testing.T) {
	meter := NewMeter(10 * time.Millisecond)
	meter.Handle(Start())
	meter.Handle(End())

	require.Eventually(t, func() bool {
		return meter.State() == MeterState{}
	}, time.Second, 5*time.Millisecond)
}

func TestTrackPublishesEndOnError(t *testing.T) {
	bus := New("")
	var got []string
	bus.Subscribe(func(s Signal) { got = append(got, s.String()) })

	boom := errors.New("boom")
	err := Track(context.Background(), bus, func(_ context.Context, report Reporter) error {
		report(55)
		return boom
	})

	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"start", "progress:55", "end"}, got)
}
