// Package observer streams the rounds of a run to websocket viewers.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"followme.ai/internal/protocol"
)

type Config struct {
	Logger *slog.Logger
	// AllowRemote serves non-loopback clients too.
	AllowRemote bool
	// QueueSize bounds the per-viewer backlog; rounds are dropped for slow viewers.
	QueueSize int
}

type Server struct {
	log         *slog.Logger
	allowRemote bool
	queueSize   int

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64

	mu       sync.Mutex
	header   *protocol.RunHeader
	regions  []protocol.RegionInfo
	round    uint64
	done     []byte
	sessions map[string]*session
}

type session struct {
	out    chan []byte
	every  uint64
	agents []int // sorted; empty means all
	closed bool
}

func NewServer(cfg Config) *Server {
	l := cfg.Logger
	if l == nil {
		l = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	q := cfg.QueueSize
	if q <= 0 {
		q = 256
	}
	return &Server{
		log:         l.With("component", "observer"),
		allowRemote: cfg.AllowRemote,
		queueSize:   q,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: map[string]*session{},
	}
}

// Handler serves the bootstrap endpoint and the websocket stream.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/observer/v1/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/observer/v1/ws", s.WSHandler())
	return mux
}

// SetRegions publishes the region layout served by the bootstrap endpoint.
func (s *Server) SetRegions(regions []protocol.RegionInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions = slices.Clone(regions)
}

// Sessions reports the number of subscribed viewers.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) Begin(h protocol.RunHeader) error {
	b, err := json.Marshal(h)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.header = &h
	s.round = 0
	s.done = nil
	for _, ss := range s.sessions {
		s.sendLocked(ss, b)
	}
	return nil
}

func (s *Server) Round(m protocol.RoundMsg) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.round = m.Round
	for _, ss := range s.sessions {
		if !m.Done && m.Round%ss.every != 0 {
			continue
		}
		b, err := json.Marshal(filterAgents(m, ss.agents))
		if err != nil {
			return err
		}
		s.sendLocked(ss, b)
	}
	return nil
}

// End sends DONE to every viewer and closes their streams.
func (s *Server) End(d protocol.DoneMsg) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = b
	for _, ss := range s.sessions {
		s.sendLocked(ss, b)
		s.closeLocked(ss)
	}
	return nil
}

func (s *Server) sendLocked(ss *session, b []byte) {
	if ss.closed {
		return
	}
	select {
	case ss.out <- b:
	default:
		s.dropped.Add(1)
	}
}

func (s *Server) closeLocked(ss *session) {
	if !ss.closed {
		ss.closed = true
		close(ss.out)
	}
}

func filterAgents(m protocol.RoundMsg, ids []int) protocol.RoundMsg {
	if len(ids) == 0 {
		return m
	}
	kept := make([]protocol.AgentState, 0, len(ids))
	for _, a := range m.Agents {
		if _, ok := slices.BinarySearch(ids, a.ID); ok {
			kept = append(kept, a)
		}
	}
	m.Agents = kept
	return m
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		s.mu.Lock()
		resp := protocol.BootstrapResponse{
			ProtocolVersion: protocol.Version,
			Round:           s.round,
			Regions:         slices.Clone(s.regions),
		}
		if s.header != nil {
			resp.Run = *s.header
		}
		s.mu.Unlock()
		if resp.Regions == nil {
			resp.Regions = []protocol.RegionInfo{}
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := decodeSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		ss := &session{out: make(chan []byte, s.queueSize)}
		applySubscribe(ss, sub)
		s.join(sid, ss)
		defer s.leave(sid, ss)
		s.log.Debug("viewer joined", "session", sid, "every_rounds", ss.every, "agents", len(ss.agents))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok := <-ss.out:
					if !ok {
						_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"), time.Now().Add(time.Second))
						writeErr <- nil
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, ok := decodeSubscribe(msg)
			if !ok {
				continue
			}
			s.mu.Lock()
			applySubscribe(ss, sub)
			s.mu.Unlock()
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// join registers ss and primes it with the run header, or with DONE if the run is over.
func (s *Server) join(sid string, ss *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.header != nil {
		if b, err := json.Marshal(s.header); err == nil {
			s.sendLocked(ss, b)
		}
	}
	if s.done != nil {
		s.sendLocked(ss, s.done)
		s.closeLocked(ss)
		return
	}
	s.sessions[sid] = ss
}

func (s *Server) leave(sid string, ss *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.sessions[sid]; ok && cur == ss {
		delete(s.sessions, sid)
	}
	s.closeLocked(ss)
	s.log.Debug("viewer left", "session", sid)
}

func decodeSubscribe(msg []byte) (protocol.SubscribeMsg, bool) {
	var sub protocol.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != protocol.TypeSubscribe || sub.ProtocolVersion != protocol.Version {
		return sub, false
	}
	return sub, true
}

func applySubscribe(ss *session, sub protocol.SubscribeMsg) {
	ss.every = uint64(max(sub.EveryRounds, 1))
	ids := slices.Clone(sub.Agents)
	slices.Sort(ids)
	ss.agents = slices.Compact(ids)
}

func (s *Server) allowed(r *http.Request) bool {
	return s.allowRemote || isLoopbackRemote(r.RemoteAddr)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
