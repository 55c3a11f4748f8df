package packetizer

import (
	"log/slog"
	"sync"

	"cmafpack/internal/platform/metrics"
)

// ChunkedTransferSink receives chunk and segment notifications from the
// assembler. Implementations must not retain the payload slice beyond the
// call unless they copy it.
type ChunkedTransferSink interface {
	// OnChunkPush delivers a partial, in-progress chunk of the named segment.
	OnChunkPush(appID, streamID, fileName string, isVideo bool, payload []byte)
	// OnSegmentComplete signals that the named segment has been finalized.
	OnSegmentComplete(appID, streamID, fileName string, isVideo bool)
}

const dispatchQueueDepth = 64

type sinkNotice struct {
	complete bool
	fileName string
	isVideo  bool
	payload  []byte
}

// dispatcher decouples sink delivery from packetization. Notices are queued
// on a bounded channel and delivered by a single goroutine; when the queue
// is full the notice is dropped rather than blocking frame ingestion.
type dispatcher struct {
	appID    string
	streamID string
	sink     ChunkedTransferSink
	log      *slog.Logger
	met      *metrics.Metrics

	mu     sync.Mutex
	closed bool
	ch     chan sinkNotice
	done   chan struct{}
}

func newDispatcher(appID, streamID string, sink ChunkedTransferSink, log *slog.Logger, met *metrics.Metrics) *dispatcher {
	d := &dispatcher{
		appID:    appID,
		streamID: streamID,
		sink:     sink,
		log:      log,
		met:      met,
		ch:       make(chan sinkNotice, dispatchQueueDepth),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.done)
	for n := range d.ch {
		if d.sink == nil {
			continue
		}
		if n.complete {
			d.sink.OnSegmentComplete(d.appID, d.streamID, n.fileName, n.isVideo)
		} else {
			d.sink.OnChunkPush(d.appID, d.streamID, n.fileName, n.isVideo, n.payload)
		}
	}
}

func (d *dispatcher) push(n sinkNotice) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.ch <- n:
	default:
		d.met.IncDroppedNotices()
		d.log.Warn("sink queue full, dropping notification",
			"file", n.fileName, "complete", n.complete)
	}
}

// close stops accepting notices and waits for queued ones to drain.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.ch)
	d.mu.Unlock()
	<-d.done
}
