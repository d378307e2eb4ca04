package alerter

import (
	"FlowSentry/internal/config"
	"FlowSentry/internal/model"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
	bodies   []string
}

func (r *recordingNotifier) Send(subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	r.bodies = append(r.bodies, body)
	return nil
}

func (r *recordingNotifier) sent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subjects)
}

func alert(flow string, raised time.Time) model.SynAlert {
	return model.SynAlert{
		ID:        "id-" + flow,
		Flow:      flow,
		Direction: "z_to_a",
		Count:     3,
		Peer:      model.Endpoint{IP: "93.184.216.34", Port: 80},
		Raised:    raised,
	}
}

func TestFlushSendsOneDigest(t *testing.T) {
	n := &recordingNotifier{}
	a, err := NewAlerter(config.AlerterConfig{CheckInterval: "1h"}, n)
	require.NoError(t, err)

	now := time.Now()
	a.Raise(alert("b<->z", now.Add(time.Second)))
	a.Raise(alert("a<->z", now))
	a.Raise(alert("a<->z", now))
	assert.Equal(t, 2, a.Pending())

	a.Flush()
	require.Equal(t, 1, n.sent())
	assert.Equal(t, "FlowSentry SYN Alert Summary (2 Triggered)", n.subjects[0])
	assert.Less(t, strings.Index(n.bodies[0], "a&lt;-&gt;z"), strings.Index(n.bodies[0], "b&lt;-&gt;z"))
	assert.Equal(t, 0, a.Pending())

	a.Flush()
	assert.Equal(t, 1, n.sent(), "nothing pending, nothing sent")
}

func TestSubscribe(t *testing.T) {
	a, err := NewAlerter(config.AlerterConfig{CheckInterval: "1h"})
	require.NoError(t, err)

	ch, cancel := a.Subscribe()
	a.Raise(alert("a<->z", time.Now()))

	select {
	case got := <-ch:
		assert.Equal(t, "a<->z", got.Flow)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the alert")
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	a.Raise(alert("b<->z", time.Now()))
}

func TestStartStop(t *testing.T) {
	n := &recordingNotifier{}
	a, err := NewAlerter(config.AlerterConfig{CheckInterval: "10ms"}, n)
	require.NoError(t, err)

	a.Start()
	a.Raise(alert("a<->z", time.Now()))
	assert.Eventually(t, func() bool { return n.sent() == 1 }, 2*time.Second, 5*time.Millisecond)

	a.Raise(alert("b<->z", time.Now()))
	a.Stop()
	assert.Equal(t, 2, n.sent())
}

func TestNewAlerterInvalidInterval(t *testing.T) {
	_, err := NewAlerter(config.AlerterConfig{CheckInterval: "soon"})
	assert.Error(t, err)
}

func TestNewAlerterDefaultInterval(t *testing.T) {
	a, err := NewAlerter(config.AlerterConfig{Enabled: false, CheckInterval: ""})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, a.checkInterval)

	_, err = NewAlerter(config.AlerterConfig{CheckInterval: "0s"})
	assert.Error(t, err)
}
