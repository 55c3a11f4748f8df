// Package delivery serves manifests, init segments and media segments over
// HTTP, and implements the chunked transfer sink fed by the packetizer.
package delivery

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"cmafpack/internal/media"
	"cmafpack/internal/packetizer"
)

// Server is the outbound delivery layer for one stream.
type Server struct {
	appID    string
	streamID string
	log      *slog.Logger
	store    packetizer.SegmentStore

	assembler *packetizer.SegmentAssembler

	mu   sync.Mutex
	live map[string]*liveSegment
}

// NewServer creates a delivery server for the given stream identifiers.
// Bind must be called with the assembler before the handler is used.
func NewServer(appID, streamID string, store packetizer.SegmentStore, log *slog.Logger) *Server {
	return &Server{
		appID:    appID,
		streamID: streamID,
		log:      log,
		store:    store,
		live:     make(map[string]*liveSegment),
	}
}

// Bind attaches the assembler whose manifest and init segments are served.
func (s *Server) Bind(a *packetizer.SegmentAssembler) {
	s.assembler = a
}

// OnChunkPush implements packetizer.ChunkedTransferSink.
func (s *Server) OnChunkPush(appID, streamID, fileName string, isVideo bool, payload []byte) {
	s.mu.Lock()
	seg := s.live[fileName]
	if seg == nil {
		seg = newLiveSegment()
		s.live[fileName] = seg
	}
	s.mu.Unlock()
	seg.append(payload)
}

// OnSegmentComplete implements packetizer.ChunkedTransferSink. Once a
// segment completes it is served from the store, so the live buffer is
// finalized and dropped.
func (s *Server) OnSegmentComplete(appID, streamID, fileName string, isVideo bool) {
	s.mu.Lock()
	seg := s.live[fileName]
	delete(s.live, fileName)
	s.mu.Unlock()
	if seg != nil {
		seg.finalize()
	}
	s.log.Debug("segment available", "file", fileName, "video", isVideo)
}

// Handler returns the HTTP routes for this stream.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/{app}/{stream}/manifest.mpd", s.serveManifest)
	r.Get("/{app}/{stream}/{file}", s.serveFile)
	return r
}

func (s *Server) streamMatches(req *http.Request) bool {
	return chi.URLParam(req, "app") == s.appID && chi.URLParam(req, "stream") == s.streamID
}

func (s *Server) serveManifest(rw http.ResponseWriter, req *http.Request) {
	if !s.streamMatches(req) {
		http.NotFound(rw, req)
		return
	}
	text, err := s.assembler.GetManifest()
	if err != nil {
		if errors.Is(err, packetizer.ErrNotStarted) {
			http.Error(rw, "stream has not started", http.StatusNotFound)
		} else {
			http.Error(rw, "manifest unavailable", http.StatusInternalServerError)
		}
		return
	}
	rw.Header().Set("Content-Type", "application/dash+xml")
	rw.Header().Set("Cache-Control", "no-cache, no-store, max-age=0")
	rw.Write([]byte(text))
}

func (s *Server) serveFile(rw http.ResponseWriter, req *http.Request) {
	if !s.streamMatches(req) {
		http.NotFound(rw, req)
		return
	}
	name := chi.URLParam(req, "file")
	switch name {
	case packetizer.VideoInitFileName, packetizer.AudioInitFileName:
		s.serveInit(rw, req, name)
		return
	}
	if rec, ok := s.store.Lookup(name); ok {
		rw.Header().Set("Content-Type", "video/iso.segment")
		rw.Header().Set("Cache-Control", "no-cache, no-store, max-age=0")
		rw.Write(rec.Payload)
		return
	}
	s.mu.Lock()
	seg := s.live[name]
	s.mu.Unlock()
	if seg != nil {
		seg.serveHTTP(rw, req)
		return
	}
	http.NotFound(rw, req)
}

func (s *Server) serveInit(rw http.ResponseWriter, req *http.Request, name string) {
	kind := media.Audio
	contentType := "audio/mp4"
	if name == packetizer.VideoInitFileName {
		kind = media.Video
		contentType = "video/mp4"
	}
	payload, ok := s.assembler.InitSegment(kind)
	if !ok {
		http.NotFound(rw, req)
		return
	}
	rw.Header().Set("Content-Type", contentType)
	rw.Write(payload)
}

// ActiveLiveSegments reports how many in-progress segments are buffered,
// for diagnostics.
func (s *Server) ActiveLiveSegments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

var _ packetizer.ChunkedTransferSink = (*Server)(nil)
