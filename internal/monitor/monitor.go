// Package monitor watches readers and cards through the smart card service
// and fans the resulting events out to subscribers.
package monitor

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SimplyPrint/pcsc-agent/internal/logging"
	"github.com/SimplyPrint/pcsc-agent/internal/metrics"
	"github.com/SimplyPrint/pcsc-agent/internal/native"
	"github.com/SimplyPrint/pcsc-agent/internal/pcsc"
)

// EventType identifies what changed.
type EventType string

const (
	EventReaderAdded   EventType = "reader_added"
	EventReaderRemoved EventType = "reader_removed"
	EventCardInserted  EventType = "card_inserted"
	EventCardRemoved   EventType = "card_removed"
	EventStateChanged  EventType = "state_changed"
)

// Event describes one reader or card transition.
type Event struct {
	Type       EventType `json:"type"`
	Reader     string    `json:"reader"`
	State      string    `json:"state,omitempty"`
	EventCount uint32    `json:"eventCount"`
	ATR        string    `json:"atr,omitempty"`
	Time       time.Time `json:"time"`
}

// ReaderStatus is the last known state of a reader.
type ReaderStatus struct {
	Name        string `json:"name"`
	State       string `json:"state"`
	CardPresent bool   `json:"cardPresent"`
	EventCount  uint32 `json:"eventCount"`
	ATR         string `json:"atr,omitempty"`
}

// Config controls the watch loop.
type Config struct {
	Scope pcsc.Scope
	// PollTimeout bounds each wait. Negative waits until something
	// changes or Run is stopped.
	PollTimeout time.Duration
	// ReaderBuffer is the largest reader list buffer to allocate.
	ReaderBuffer int
}

const (
	defaultSubscriberBuffer = 32
	cancelRetry             = 50 * time.Millisecond
)

// Monitor watches every connected reader plus the PnP pseudo-reader.
type Monitor struct {
	svc native.Service
	cfg Config

	mu      sync.RWMutex
	subs    map[uuid.UUID]chan Event
	readers map[string]ReaderStatus
}

// New creates a monitor on svc. Nothing is watched until Run is called.
func New(svc native.Service, cfg Config) *Monitor {
	if cfg.ReaderBuffer <= 0 {
		cfg.ReaderBuffer = 4096
	}
	return &Monitor{
		svc:     svc,
		cfg:     cfg,
		subs:    make(map[uuid.UUID]chan Event),
		readers: make(map[string]ReaderStatus),
	}
}

// Subscribe registers a listener. Events are dropped for a subscriber whose
// channel is full. The channel is closed by Unsubscribe.
func (m *Monitor) Subscribe(buffer int) (uuid.UUID, <-chan Event) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	id := uuid.New()
	ch := make(chan Event, buffer)

	m.mu.Lock()
	m.subs[id] = ch
	m.mu.Unlock()

	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (m *Monitor) Unsubscribe(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.subs[id]; ok {
		delete(m.subs, id)
		close(ch)
	}
}

// Readers returns the last known state of every watched reader, sorted by
// name.
func (m *Monitor) Readers() []ReaderStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ReaderStatus, 0, len(m.readers))
	for _, r := range m.readers {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Monitor) publish(ev Event) {
	ev.Time = time.Now()
	metrics.MonitorEvents.WithLabelValues(string(ev.Type)).Inc()
	logging.Debug(logging.CatMonitor, "Reader event", map[string]any{
		"type":   string(ev.Type),
		"reader": ev.Reader,
		"state":  ev.State,
	})

	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			metrics.MonitorDroppedEvents.Inc()
			logging.Warn(logging.CatMonitor, "Subscriber not keeping up, event dropped", map[string]any{
				"subscriber": id.String(),
			})
		}
	}
}

// Run watches readers until ctx is done. It establishes its own Context and
// keeps the calling goroutine for its whole lifetime. Cancelling ctx
// interrupts a wait in progress and Run returns nil.
func (m *Monitor) Run(ctx context.Context) error {
	defer logging.RecoverAndLog("monitor", true)

	pctx, err := pcsc.EstablishWith(m.svc, m.cfg.Scope)
	if err != nil {
		metrics.RecordPCSCError("establish", err)
		return fmt.Errorf("establish context: %w", err)
	}
	defer pctx.Close()

	stop := make(chan struct{})
	defer close(stop)
	go m.cancelOnDone(ctx, pctx.Canceler(), stop)

	logging.Info(logging.CatMonitor, "Reader monitor started", map[string]any{
		"scope":        m.cfg.Scope.String(),
		"poll_timeout": m.cfg.PollTimeout.String(),
	})
	defer logging.Info(logging.CatMonitor, "Reader monitor stopped", nil)

	states, err := m.rebuild(pctx, nil)
	if err != nil {
		return err
	}

	for ctx.Err() == nil {
		err := pctx.GetStatusChange(m.cfg.PollTimeout, states)
		switch {
		case err == nil:
		case errors.Is(err, pcsc.ErrTimeout), errors.Is(err, pcsc.ErrCancelled):
			continue
		case errors.Is(err, pcsc.ErrUnknownReader), errors.Is(err, pcsc.ErrReaderUnavailable):
			// A reader vanished between listing and waiting.
			if states, err = m.rebuild(pctx, states); err != nil {
				return err
			}
			continue
		default:
			metrics.RecordPCSCError("get_status_change", err)
			return fmt.Errorf("wait for status change: %w", err)
		}

		readersChanged := false
		for i := range states {
			rs := &states[i]
			if !rs.EventState().Has(pcsc.StateChanged) {
				continue
			}
			if rs.Name() == pcsc.PnPNotification {
				readersChanged = true
			} else {
				m.transition(rs)
			}
			rs.SyncCurrentState()
		}

		if readersChanged {
			if states, err = m.rebuild(pctx, states); err != nil {
				return err
			}
		}
	}
	return nil
}

// cancelOnDone fires the canceler once ctx is done. A cancel only reaches a
// wait already in progress, so it repeats until Run has returned.
func (m *Monitor) cancelOnDone(ctx context.Context, canceler *pcsc.Canceler, stop <-chan struct{}) {
	select {
	case <-ctx.Done():
	case <-stop:
		return
	}

	ticker := time.NewTicker(cancelRetry)
	defer ticker.Stop()
	for {
		if err := canceler.Cancel(); err != nil && !errors.Is(err, pcsc.ErrInvalidHandle) {
			logging.Warn(logging.CatMonitor, "Cancel failed", map[string]any{"error": err.Error()})
		}
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// rebuild lists the readers and returns a fresh set of records, keeping the
// records of readers that are still present. Added and removed readers are
// published.
func (m *Monitor) rebuild(pctx *pcsc.Context, old []pcsc.ReaderState) ([]pcsc.ReaderState, error) {
	names, err := pctx.ListReaderNames(m.cfg.ReaderBuffer)
	if err != nil {
		metrics.RecordPCSCError("list_readers", err)
		return nil, fmt.Errorf("list readers: %w", err)
	}

	previous := make(map[string]pcsc.ReaderState, len(old))
	for _, rs := range old {
		previous[rs.Name()] = rs
	}

	states := make([]pcsc.ReaderState, 0, len(names)+1)
	if pnp, ok := previous[pcsc.PnPNotification]; ok {
		states = append(states, pnp)
	} else {
		states = append(states, pcsc.NewReaderState(pcsc.PnPNotification, pcsc.StateUnaware))
	}

	current := make(map[string]bool, len(names))
	for _, name := range names {
		current[name] = true
		if rs, ok := previous[name]; ok {
			states = append(states, rs)
			continue
		}
		states = append(states, pcsc.NewReaderState(name, pcsc.StateUnaware))
		m.setReader(ReaderStatus{Name: name, State: pcsc.StateUnaware.String()})
		if old != nil {
			m.publish(Event{Type: EventReaderAdded, Reader: name})
		}
	}

	for name := range previous {
		if name == pcsc.PnPNotification || current[name] {
			continue
		}
		m.removeReader(name)
		m.publish(Event{Type: EventReaderRemoved, Reader: name})
	}

	metrics.ReadersConnected.Set(float64(len(names)))
	return states, nil
}

// transition publishes what changed between the record's current state and
// the state just reported for it.
func (m *Monitor) transition(rs *pcsc.ReaderState) {
	prev := rs.CurrentState()
	now := rs.EventState()
	prevCount := uint32(prev) >> 16
	count := rs.EventCount()

	wasPresent := prev.Has(pcsc.StatePresent)
	isPresent := now.Has(pcsc.StatePresent)

	status := ReaderStatus{
		Name:        rs.Name(),
		State:       now.String(),
		CardPresent: isPresent,
		EventCount:  count,
	}
	if isPresent {
		status.ATR = hex.EncodeToString(rs.Atr())
	}
	m.setReader(status)

	ev := Event{Reader: status.Name, State: status.State, EventCount: count, ATR: status.ATR}
	switch {
	case !wasPresent && isPresent:
		ev.Type = EventCardInserted
		m.publish(ev)
	case wasPresent && !isPresent:
		ev.Type = EventCardRemoved
		m.publish(ev)
	case wasPresent && isPresent && count != prevCount:
		// Removed and reinserted between two waits.
		m.publish(Event{Type: EventCardRemoved, Reader: status.Name, State: status.State, EventCount: count})
		ev.Type = EventCardInserted
		m.publish(ev)
	default:
		ev.Type = EventStateChanged
		m.publish(ev)
	}
}

func (m *Monitor) setReader(status ReaderStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readers[status.Name] = status
}

func (m *Monitor) removeReader(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.readers, name)
}
