package vdb

import (
	"context"
	"log/slog"
	"sync"

	"gopkg.in/tomb.v2"
)

// listener is a live query. All methods run on the update manager goroutine.
type listener interface {
	handle(upd *update)
	stop()
}

type managerMsg struct {
	upd        *update
	register   listener
	unregister listener
}

// updateManager replays committed writes of one table against its
// listeners. The queue is unbounded so the writer never waits for it.
// Registrations travel through the same queue as updates, which puts every
// listener at a precise point of the update stream.
type updateManager struct {
	ts   *tableState
	mu   sync.Mutex
	msgs []managerMsg
	wake chan struct{}
	tomb tomb.Tomb

	listeners map[listener]struct{} // owned by loop
}

func newUpdateManager(ts *tableState) *updateManager {
	return &updateManager{
		ts:        ts,
		wake:      make(chan struct{}, 1),
		listeners: make(map[listener]struct{}),
	}
}

func (m *updateManager) start() {
	m.tomb.Go(m.loop)
}

// stop terminates the manager and every listener still registered.
func (m *updateManager) stop() {
	m.tomb.Kill(nil)
	_ = m.tomb.Wait()
}

// publish queues an update. The writer calls it under the table lock.
func (m *updateManager) publish(upd *update) {
	m.enqueue(managerMsg{upd: upd})
}

// register queues a listener. Callers hold the table read lock, so that no
// commit can slip between the listener's initial read and its registration.
func (m *updateManager) register(l listener) {
	m.enqueue(managerMsg{register: l})
}

func (m *updateManager) unregister(l listener) {
	m.enqueue(managerMsg{unregister: l})
}

func (m *updateManager) enqueue(msg managerMsg) {
	m.mu.Lock()
	m.msgs = append(m.msgs, msg)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *updateManager) drain() []managerMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.msgs
	m.msgs = nil
	return msgs
}

func (m *updateManager) loop() error {
	defer func() {
		for l := range m.listeners {
			l.stop()
		}
		for _, msg := range m.drain() {
			if msg.register != nil {
				msg.register.stop()
			}
		}
		m.listeners = nil
	}()
	for {
		select {
		case <-m.tomb.Dying():
			return nil
		case <-m.wake:
		}
		for _, msg := range m.drain() {
			m.dispatch(msg)
		}
	}
}

func (m *updateManager) dispatch(msg managerMsg) {
	switch {
	case msg.register != nil:
		m.listeners[msg.register] = struct{}{}
		m.ts.store.metrics.listenerAdded(m.ts.tbl.name)
	case msg.unregister != nil:
		if _, ok := m.listeners[msg.unregister]; ok {
			delete(m.listeners, msg.unregister)
			m.ts.store.metrics.listenerRemoved(m.ts.tbl.name)
		}
		msg.unregister.stop()
	case msg.upd != nil:
		if m.ts.store.verbose {
			m.ts.logger.LogAttrs(context.Background(), slog.LevelDebug, "update", slog.String("update", msg.upd.String()), slog.Int("listeners", len(m.listeners)))
		}
		for l := range m.listeners {
			l.handle(msg.upd)
		}
	}
}
