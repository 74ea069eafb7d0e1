package conversations

import (
	"context"
	"sync"

	"github.com/labelspy/server/internal/metrics"
	logx "github.com/labelspy/server/pkg/logger"
)

// DefaultMailboxSize bounds the events queued for one user.
const DefaultMailboxSize = 32

type HandlerFunc func(ctx context.Context, ev Event)

type mailbox struct {
	queue []Event
}

// Dispatcher serializes events per user. Each user with pending events owns
// one goroutine that drains its mailbox in arrival order and exits when it
// is empty. Different users run concurrently.
type Dispatcher struct {
	ctx     context.Context
	handle  HandlerFunc
	maxSize int

	mu     sync.Mutex
	boxes  map[int64]*mailbox
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(ctx context.Context, handle HandlerFunc, mailboxSize int) *Dispatcher {
	if mailboxSize <= 0 {
		mailboxSize = DefaultMailboxSize
	}
	return &Dispatcher{
		ctx:     ctx,
		handle:  handle,
		maxSize: mailboxSize,
		boxes:   make(map[int64]*mailbox),
	}
}

// Submit queues ev for its user. It reports false when the dispatcher is
// closed or the user's mailbox is full.
func (d *Dispatcher) Submit(ev Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	if box, ok := d.boxes[ev.UserID]; ok {
		if len(box.queue) >= d.maxSize {
			logx.Warn().Int64("user_id", ev.UserID).Str("event", ev.label()).Msg("mailbox full, event dropped")
			return false
		}
		box.queue = append(box.queue, ev)
		return true
	}

	box := &mailbox{queue: []Event{ev}}
	d.boxes[ev.UserID] = box
	metrics.SetActiveUsers(len(d.boxes))
	d.wg.Add(1)
	go d.run(ev.UserID, box)
	return true
}

func (d *Dispatcher) run(userID int64, box *mailbox) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(box.queue) == 0 {
			delete(d.boxes, userID)
			metrics.SetActiveUsers(len(d.boxes))
			d.mu.Unlock()
			return
		}
		ev := box.queue[0]
		box.queue = box.queue[1:]
		d.mu.Unlock()

		d.handle(d.ctx, ev)
	}
}

// ActiveUsers reports how many users have queued or running events.
func (d *Dispatcher) ActiveUsers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.boxes)
}

// Close stops accepting events and waits for queued ones to finish, or
// for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
