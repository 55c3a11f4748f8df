package delivery

import (
	"net/http"
	"sync"
)

// liveSegment buffers the chunks of an in-progress segment so clients can
// stream it before it is finalized.
type liveSegment struct {
	mu     sync.Mutex
	cond   sync.Cond
	chunks [][]byte
	final  bool
}

func newLiveSegment() *liveSegment {
	s := &liveSegment{}
	s.cond.L = &s.mu
	return s
}

// append adds one chunk to the live segment and wakes waiting clients.
func (s *liveSegment) append(d []byte) {
	if len(d) == 0 {
		return
	}
	buf := make([]byte, len(d))
	copy(buf, d)
	s.mu.Lock()
	s.chunks = append(s.chunks, buf)
	s.mu.Unlock()
	s.cond.Broadcast()
}

// finalize marks that no more chunks will arrive.
func (s *liveSegment) finalize() {
	s.mu.Lock()
	s.final = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// serveHTTP streams the segment chunk by chunk, flushing between writes so
// clients receive data ahead of the segment boundary.
func (s *liveSegment) serveHTTP(rw http.ResponseWriter, req *http.Request) {
	rw.Header().Set("Cache-Control", "no-cache, no-store, max-age=0")
	rw.Header().Set("Content-Type", "video/iso.segment")
	flusher, _ := rw.(http.Flusher)
	s.mu.Lock()
	var pos int
	var needFlush bool
	for {
		if pos == len(s.chunks) && needFlush && flusher != nil {
			// nothing new to write, push what we have
			s.mu.Unlock()
			flusher.Flush()
			needFlush = false
			s.mu.Lock()
			continue
		}
		for ; pos < len(s.chunks); pos++ {
			d := s.chunks[pos]
			s.mu.Unlock()
			if _, err := rw.Write(d); err != nil {
				return
			}
			needFlush = true
			s.mu.Lock()
		}
		if s.final {
			break
		}
		s.cond.Wait()
	}
	s.mu.Unlock()
}
