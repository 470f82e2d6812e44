package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	frames []Frame
	fail   bool
}

func (r *recordingObserver) Deliver(f Frame) error {
	if r.fail {
		return errors.New("observer gone")
	}
	r.frames = append(r.frames, f)
	return nil
}

func TestPublishFansOutToAllObservers(t *testing.T) {
	p := NewPublisher()
	a := &recordingObserver{}
	b := &recordingObserver{}
	p.Subscribe(a)
	p.Subscribe(b)

	frame := Frame{Timestamp: time.Unix(0, 0), Running: true, SetpointC: 100}
	p.Publish(frame)

	require.Len(t, a.frames, 1)
	require.Len(t, b.frames, 1)
	require.Equal(t, 100.0, a.frames[0].SetpointC)
}

func TestFailingObserverIsPrunedOnNextPublish(t *testing.T) {
	p := NewPublisher()
	dead := &recordingObserver{fail: true}
	p.Subscribe(dead)
	require.Equal(t, 1, p.Count())

	p.Publish(Frame{})
	require.Equal(t, 0, p.Count(), "a failing observer must be dropped on the publish that errors")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	p := NewPublisher()
	obs := &recordingObserver{}
	sub := p.Subscribe(obs)
	p.Publish(Frame{})
	require.Len(t, obs.frames, 1)

	p.Unsubscribe(sub)
	p.Publish(Frame{})
	require.Len(t, obs.frames, 1, "no further frames after unsubscribe")
}

func TestPublishWithNoObserversIsNoop(t *testing.T) {
	p := NewPublisher()
	require.NotPanics(t, func() { p.Publish(Frame{}) })
}
