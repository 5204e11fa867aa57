// Package status is the host-readable state surface: HTTP JSON
// endpoints for the decoder snapshot, a websocket push feed of
// engine-position events, and the Prometheus-text metrics endpoint.
package status

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"engine-position-go/pkg/crank"
	"engine-position-go/pkg/errors"
	"engine-position-go/pkg/log"
	"engine-position-go/pkg/metrics"
)

// Decoder is the subset of the crank decoder the server reads.
type Decoder interface {
	Status() crank.Status
	Stats() crank.Stats
	ReadErrorFlags() crank.ErrorFlags
	PeriodLog() []uint32
}

// Event is one pushed engine-position event.
type Event struct {
	Kind        string `json:"kind"`
	EngineState string `json:"engine_state"`
	Time        int64  `json:"time"`
}

// Server serves decoder state over HTTP and pushes events over
// websockets.
type Server struct {
	decoder  Decoder
	registry *metrics.Registry
	logger   *log.Logger

	httpSrv  *http.Server
	listener net.Listener
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan Event
}

// NewServer creates a status server for one decoder channel.
func NewServer(decoder Decoder, registry *metrics.Registry) *Server {
	return &Server{
		decoder:  decoder,
		registry: registry,
		logger:   log.GetLogger("status"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// Handler returns the HTTP mux for tests and embedding.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/flags", s.handleFlags)
	mux.HandleFunc("/periods", s.handlePeriods)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start listens on addr and serves until Stop.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.RuntimeErrorInit("status server", err.Error())
	}
	s.listener = ln
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.WithField("addr", ln.Addr().String()).Info("status server listening")
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("status server stopped")
		}
	}()
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes the server and all websocket clients.
func (s *Server) Stop() error {
	s.mu.Lock()
	for c := range s.clients {
		close(c.send)
		delete(s.clients, c)
	}
	s.mu.Unlock()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Close()
}

// Publish pushes an event to every connected websocket client. Slow
// clients drop events rather than stalling the publisher.
func (s *Server) Publish(kind string, state crank.EnginePositionState) {
	ev := Event{Kind: kind, EngineState: state.String(), Time: time.Now().UnixMilli()}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- ev:
		default:
		}
	}
}

// Bind registers the server as the decoder's notification sink.
func Bind(s *Server, d *crank.Decoder) {
	d.SetHalfCycleSyncCallback(func(st crank.EnginePositionState) { s.Publish("half_cycle_sync", st) })
	d.SetFullSyncCallback(func(st crank.EnginePositionState) { s.Publish("full_sync", st) })
	d.SetOnceEveryCycleCallback(func(st crank.EnginePositionState) { s.Publish("once_every_cycle", st) })
	d.SetStallCallback(func(st crank.EnginePositionState) { s.Publish("stall", st) })
	d.SetLogWindowClosedCallback(func(st crank.EnginePositionState) { s.Publish("log_window_closed", st) })
}

type statusResponse struct {
	State               string `json:"state"`
	EngineState         string `json:"engine_state"`
	ToothCounterGap     int    `json:"tooth_counter_gap"`
	ToothCounterCycle   int    `json:"tooth_counter_cycle"`
	LastToothPeriod     uint32 `json:"last_tooth_period"`
	LastToothPeriodNorm uint32 `json:"last_tooth_period_norm"`
	CycleStartOffset    uint64 `json:"cycle_start_offset"`
	Angle               uint32 `json:"angle"`

	Stats crank.Stats `json:"stats"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.decoder.Status()
	s.writeJSON(w, statusResponse{
		State:               st.State.String(),
		EngineState:         st.EngineState.String(),
		ToothCounterGap:     st.ToothCounterGap,
		ToothCounterCycle:   st.ToothCounterCycle,
		LastToothPeriod:     st.LastToothPeriod,
		LastToothPeriodNorm: st.LastToothPeriodNorm,
		CycleStartOffset:    st.CycleStartOffset,
		Angle:               st.Angle,
		Stats:               s.decoder.Stats(),
	})
}

// handleFlags reads and clears the decoder error flags; the read is
// the host's acknowledgment, matching the flag semantics.
func (s *Server) handleFlags(w http.ResponseWriter, r *http.Request) {
	flags := s.decoder.ReadErrorFlags()
	s.writeJSON(w, map[string]interface{}{
		"flags": uint16(flags),
		"names": flags.String(),
	})
}

func (s *Server) handlePeriods(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"periods": s.decoder.PeriodLog(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write([]byte(s.registry.Gather()))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	client := &wsClient{conn: conn, send: make(chan Event, 16)}
	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()
	s.logger.WithField("remote", conn.RemoteAddr().String()).Debug("websocket client connected")

	go s.writeLoop(client)
	go s.readLoop(client)
}

func (s *Server) writeLoop(c *wsClient) {
	for ev := range c.send {
		if err := c.conn.WriteJSON(ev); err != nil {
			break
		}
	}
	c.conn.Close()
}

// readLoop discards inbound frames; its job is detecting disconnect.
func (s *Server) readLoop(c *wsClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		close(c.send)
		delete(s.clients, c)
	}
	s.mu.Unlock()
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Warn("response encode failed")
	}
}
