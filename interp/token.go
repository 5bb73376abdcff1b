package interp

import (
	"sync"

	"github.com/sasha-s/go-deadlock"
)

// token is the execution token: whoever holds it may drive an interpreter.
// It is held while the guest runs and released while a host callback runs,
// so that the callback can issue commands of its own.
type token struct {
	mu deadlock.Mutex

	// gen counts stack changes; waiters in acquireTop sleep on cond until
	// it moves.
	cmu  sync.Mutex
	cond *sync.Cond
	gen  uint64
}

func newToken() *token {
	t := &token{}
	t.cond = sync.NewCond(&t.cmu)
	return t
}

func (t *token) acquire() { t.mu.Lock() }

func (t *token) release() { t.mu.Unlock() }

// acquireTop takes the token once command id is the innermost command
// running on g. A guest can only accept the reply to the callback it is
// blocked on, which belongs to its innermost command.
func (t *token) acquireTop(g *guest, id uint64) {
	for {
		t.cmu.Lock()
		gen := t.gen
		t.cmu.Unlock()

		t.mu.Lock()
		if g.top() == id || g.exited() {
			return
		}
		t.mu.Unlock()

		t.cmu.Lock()
		for t.gen == gen {
			t.cond.Wait()
		}
		t.cmu.Unlock()
	}
}

// changed wakes acquireTop waiters after a command stack changed or a guest
// exited.
func (t *token) changed() {
	t.cmu.Lock()
	t.gen++
	t.cmu.Unlock()
	t.cond.Broadcast()
}
