package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hubnity/timer-agent/internal/timerengine"
)

func TestHub_PublishWithoutMirrorSucceeds(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Run(ctx)
	defer h.Stop()

	err := h.Publish(context.Background(), New(TimerStateUpdate, nil))
	assert.NoError(t, err)
}

type fakeMirror struct {
	published []*Event
}

func (f *fakeMirror) Publish(ctx context.Context, event *Event) error {
	f.published = append(f.published, event)
	return nil
}
func (f *fakeMirror) Close() error { return nil }

func TestHub_ForwardsToMirror(t *testing.T) {
	mirror := &fakeMirror{}
	h := NewHub(mirror)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Run(ctx)
	defer h.Stop()

	err := h.Publish(context.Background(), New(SystemSleepDetected, nil))
	assert.NoError(t, err)
	assert.Len(t, mirror.published, 1)
	assert.Equal(t, SystemSleepDetected, mirror.published[0].Type)
}

func TestHub_SatisfiesTimerEngineEventSink(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Run(ctx)
	defer h.Stop()

	var sink timerengine.EventSink = h
	sink.PublishTimerStateUpdate(timerengine.TimerStateForAPI{State: "running", TodaySeconds: 30})
	sink.PublishSystemSleepDetected()

	time.Sleep(10 * time.Millisecond)
}

func TestHub_ClientCountStartsAtZero(t *testing.T) {
	h := NewHub(nil)
	assert.Equal(t, 0, h.ClientCount())
}
