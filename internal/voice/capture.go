package voice

import (
	"sync"

	"github.com/Niranjan-reddy99/hobbystreak/pkg/audio"
)

// outbox is an unbounded FIFO of encoded blobs between the capture callback
// and the single sender goroutine. push never blocks, so the device callback
// is never held up by the network.
type outbox struct {
	mu     sync.Mutex
	queue  []audio.Blob
	closed bool
	notify chan struct{}
}

func newOutbox() *outbox {
	return &outbox{notify: make(chan struct{}, 1)}
}

// push appends b. It reports false after close.
func (o *outbox) push(b audio.Blob) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.queue = append(o.queue, b)

	// notify is closed under mu, so the send is safe here.
	select {
	case o.notify <- struct{}{}:
	default:
	}
	return true
}

// pop waits for the next blob. It reports false once the outbox is closed;
// blobs still queued at that point are discarded.
func (o *outbox) pop() (audio.Blob, bool) {
	for {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return audio.Blob{}, false
		}
		if len(o.queue) > 0 {
			b := o.queue[0]
			o.queue[0] = audio.Blob{}
			o.queue = o.queue[1:]
			o.mu.Unlock()
			return b, true
		}
		o.mu.Unlock()
		<-o.notify
	}
}

// close wakes the sender and drops pending blobs. Idempotent.
func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.queue = nil
	close(o.notify)
}

// len returns the number of queued blobs.
func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}
