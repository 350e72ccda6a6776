package vdb

import (
	"sync"

	"gopkg.in/tomb.v2"
)

// pump delivers events to a subscriber through an unbounded queue, so that a
// slow reader never stalls the update manager. The out channel is closed
// when the pump stops; events still queued at that point are dropped.
type pump struct {
	mu    sync.Mutex
	queue []UpdateResponse
	wake  chan struct{}
	out   chan UpdateResponse
	tomb  tomb.Tomb
}

func newPump(buffer int) *pump {
	p := &pump{
		wake: make(chan struct{}, 1),
		out:  make(chan UpdateResponse, buffer),
	}
	p.tomb.Go(p.loop)
	return p
}

// push queues an event. Events pushed after stop are ignored.
func (p *pump) push(ev UpdateResponse) {
	if !p.tomb.Alive() {
		return
	}
	p.mu.Lock()
	p.queue = append(p.queue, ev)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *pump) pop() (UpdateResponse, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil, false
	}
	ev := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return ev, true
}

func (p *pump) loop() error {
	defer close(p.out)
	for {
		ev, ok := p.pop()
		if !ok {
			select {
			case <-p.wake:
				continue
			case <-p.tomb.Dying():
				return nil
			}
		}
		select {
		case p.out <- ev:
		case <-p.tomb.Dying():
			return nil
		}
	}
}

func (p *pump) stop() {
	p.tomb.Kill(nil)
	_ = p.tomb.Wait()
}

