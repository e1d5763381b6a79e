// Package correlation tracks outstanding request/reply pairs multiplexed
// over a single chat socket. Each outbound frame carries a correlation id;
// the registry parks the sender until the matching inbound frame arrives,
// the per-request timeout fires, or the socket dies.
package correlation

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/haemilhq/haemilchat/pkg/models"
)

var (
	// ErrTimeout means no reply arrived for a request within its window.
	// Only the affected request fails; the socket is untouched.
	ErrTimeout = errors.New("reply timeout")

	// ErrDuplicateID means a request tried to reuse an id that is still
	// outstanding.
	ErrDuplicateID = errors.New("duplicate correlation id")
)

// Result is delivered exactly once per registered id: either the matched
// reply frame or the error that terminated the wait.
type Result struct {
	Frame models.Frame
	Err   error
}

type entry struct {
	ch    chan Result
	timer *time.Timer
}

// Registry maps correlation ids to waiting senders. All methods are safe
// for concurrent use; resolution is at-most-once per id, late or duplicate
// replies are no-ops.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]*entry)}
}

// Register stores a waiter for id and schedules its reply timeout. The
// returned channel receives exactly one Result.
func (r *Registry) Register(id string, timeout time.Duration) (<-chan Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[id]; ok {
		return nil, ErrDuplicateID
	}
	e := &entry{ch: make(chan Result, 1)}
	if timeout > 0 {
		e.timer = time.AfterFunc(timeout, func() {
			if r.Reject(id, ErrTimeout) {
				log.Debug().Str("cid", id).Dur("timeout", timeout).Msg("Reply timed out")
			}
		})
	}
	r.pending[id] = e
	return e.ch, nil
}

// Resolve delivers the matched reply for id and removes the entry.
// Returns false when id is not outstanding (late or duplicate reply).
func (r *Registry) Resolve(id string, frame models.Frame) bool {
	e := r.take(id)
	if e == nil {
		return false
	}
	e.ch <- Result{Frame: frame}
	return true
}

// Reject fails the wait for id and removes the entry. Returns false when
// id is not outstanding.
func (r *Registry) Reject(id string, err error) bool {
	e := r.take(id)
	if e == nil {
		return false
	}
	e.ch <- Result{Err: err}
	return true
}

// Clear rejects every outstanding entry with err. Used when the socket
// errors or closes underneath the session. Returns the number of entries
// rejected.
func (r *Registry) Clear(err error) int {
	r.mu.Lock()
	taken := r.pending
	r.pending = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range taken {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.ch <- Result{Err: err}
	}
	return len(taken)
}

// Len reports the number of outstanding entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// take removes and returns the entry for id, stopping its timer. The
// removal under lock is what makes resolution at-most-once: whichever of
// reply, timeout, or clear gets here first wins.
func (r *Registry) take(id string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.pending[id]
	if !ok {
		return nil
	}
	delete(r.pending, id)
	if e.timer != nil {
		e.timer.Stop()
	}
	return e
}
