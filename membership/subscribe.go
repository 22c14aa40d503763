package membership

import (
	"context"

	"github.com/dabubble/common/structures"
)

type subscriber struct {
	ch chan *structures.Channel
}

// push replaces any undelivered value so a slow reader only sees the latest selection.
func (sub *subscriber) push(v *structures.Channel) {
	select {
	case <-sub.ch:
	default:
	}
	sub.ch <- v
}

// Subscribe streams the selected channel, starting with the current one. The
// channel is closed when ctx ends.
func (s *Store) Subscribe(ctx context.Context) <-chan *structures.Channel {
	sub := &subscriber{ch: make(chan *structures.Channel, 1)}

	s.mtx.Lock()
	s.subs[sub] = struct{}{}
	sub.push(s.viewLocked())
	s.mtx.Unlock()

	go func() {
		<-ctx.Done()
		s.mtx.Lock()
		delete(s.subs, sub)
		close(sub.ch)
		s.mtx.Unlock()
	}()

	return sub.ch
}

func (s *Store) viewLocked() *structures.Channel {
	if s.selected == nil {
		return nil
	}
	view := s.selected.ViewFor(s.uid)
	return &view
}

func (s *Store) publishLocked() {
	v := s.viewLocked()
	for sub := range s.subs {
		sub.push(v)
	}
}
