package media

import (
	"bytes"
	"sync"
	"time"

	"github.com/bbielsa/interviewcall/internal/domain"
)

// recorder buffers microphone samples and cuts them into chunks on a ticker.
type recorder struct {
	mu      sync.Mutex
	pending []byte
	chunks  [][]byte

	unsubscribe func()
	stop        chan struct{}
	done        chan struct{}
	once        sync.Once
	blob        []byte
}

func startRecorder(track domain.AudioTrack, interval time.Duration) *recorder {
	r := &recorder{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	r.unsubscribe = track.OnSamples(r.write)
	go r.flushLoop(interval)
	return r
}

func (r *recorder) write(samples []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, samples...)
}

func (r *recorder) flushLoop(interval time.Duration) {
	defer close(r.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.flush()
		}
	}
}

func (r *recorder) flush() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) == 0 {
		return
	}
	r.chunks = append(r.chunks, r.pending)
	r.pending = nil
}

func (r *recorder) chunkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

// finish stops capture, flushes the tail and returns all chunks joined.
func (r *recorder) finish() []byte {
	r.once.Do(func() {
		if r.unsubscribe != nil {
			r.unsubscribe()
		}
		close(r.stop)
		<-r.done
		r.flush()

		r.mu.Lock()
		r.blob = bytes.Join(r.chunks, nil)
		r.chunks = nil
		r.mu.Unlock()
	})
	return r.blob
}
