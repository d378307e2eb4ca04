package alerter

import (
	"FlowSentry/internal/config"
	"FlowSentry/internal/logger"
	"FlowSentry/internal/model"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Alerter collects SYN alerts raised by the ingester, streams them to live
// subscribers and periodically sends a digest of pending alerts to the notifiers.
type Alerter struct {
	pending       cmap.ConcurrentMap[string, model.SynAlert]
	notifiers     []model.Notifier
	checkInterval time.Duration
	stopChan      chan struct{}
	wg            sync.WaitGroup

	mu          sync.RWMutex
	subscribers map[chan model.SynAlert]struct{}
}

// NewAlerter creates a new Alerter instance.
func NewAlerter(cfg config.AlerterConfig, notifiers ...model.Notifier) (*Alerter, error) {
	interval, err := cfg.CheckIntervalDuration()
	if err != nil {
		return nil, err
	}
	return &Alerter{
		pending:       cmap.New[model.SynAlert](),
		notifiers:     notifiers,
		checkInterval: interval,
		stopChan:      make(chan struct{}),
		subscribers:   make(map[chan model.SynAlert]struct{}),
	}, nil
}

// Raise records an alert for the next digest and pushes it to subscribers.
// A newer alert for the same flow and direction replaces the pending one.
func (a *Alerter) Raise(alert model.SynAlert) {
	a.pending.Set(alert.Flow+"|"+alert.Direction, alert)

	a.mu.RLock()
	defer a.mu.RUnlock()
	for ch := range a.subscribers {
		select {
		case ch <- alert:
		default:
			logger.Warn("Alert subscriber is slow, dropping alert", "alert_id", alert.ID)
		}
	}
}

// Subscribe returns a channel receiving every alert raised from now on, and
// a function that cancels the subscription.
func (a *Alerter) Subscribe() (<-chan model.SynAlert, func()) {
	ch := make(chan model.SynAlert, 64)
	a.mu.Lock()
	a.subscribers[ch] = struct{}{}
	a.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subscribers, ch)
			a.mu.Unlock()
			close(ch)
		})
	}
}

// Pending returns the number of alerts waiting for the next digest.
func (a *Alerter) Pending() int {
	return a.pending.Count()
}

// Start sends a digest every check interval, in the background, until Stop is called.
func (a *Alerter) Start() {
	logger.Info("Alerter started", "check_interval", a.checkInterval)
	a.wg.Add(1)
	go a.run()
}

func (a *Alerter) run() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.Flush()
		case <-a.stopChan:
			return
		}
	}
}

// Stop ends the digest loop and sends whatever is still pending.
func (a *Alerter) Stop() {
	logger.Info("Stopping Alerter...")
	close(a.stopChan)
	a.wg.Wait()
	a.Flush()
}

// Flush sends one digest of all pending alerts. It does nothing when none are pending.
func (a *Alerter) Flush() {
	var alerts []model.SynAlert
	for _, key := range a.pending.Keys() {
		if alert, ok := a.pending.Pop(key); ok {
			alerts = append(alerts, alert)
		}
	}
	if len(alerts) == 0 {
		return
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].Raised.Before(alerts[j].Raised) })

	logger.Info("Alert digest ready", "alerts", len(alerts))
	subject := fmt.Sprintf("FlowSentry SYN Alert Summary (%d Triggered)", len(alerts))
	body := Digest(alerts)
	for _, n := range a.notifiers {
		if err := n.Send(subject, body); err != nil {
			logger.Error("Failed to send alert digest", "error", err)
		}
	}
}

// Digest renders alerts as the HTML body of a notification.
func Digest(alerts []model.SynAlert) string {
	var b strings.Builder
	b.WriteString("<h1>FlowSentry Alert Summary</h1>")
	b.WriteString("<p>The following flows sent repeated unanswered SYN segments:</p><hr>")
	for _, a := range alerts {
		fmt.Fprintf(&b, "<h3>%s</h3><ul>"+
			"<li><b>Direction:</b> <code>%s</code></li>"+
			"<li><b>SYN count:</b> <code>%d</code></li>"+
			"<li><b>Peer:</b> <code>%s</code></li>"+
			"<li><b>Raised:</b> <code>%s</code></li>"+
			"<li><b>Alert ID:</b> <code>%s</code></li>"+
			"</ul>",
			html.EscapeString(a.Flow), a.Direction, a.Count, html.EscapeString(a.Peer.String()),
			a.Raised.UTC().Format(time.RFC3339), a.ID)
	}
	return b.String()
}
