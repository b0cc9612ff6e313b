package main

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mahina/screencap"
	"github.com/mahina/screencap/internal/capture"
)

// controlServer exposes start/stop control over a websocket. Clients send
// JSON messages of the form:
//   { "type": "start" }
//   { "type": "stop" }
// and receive lifecycle events back:
//   { "type": "started" }
//   { "type": "stopped", "path": "..." }
//   { "type": "error", "error": "..." }
type controlServer struct {
	build  func() (screencap.Config, error)
	server *http.Server

	mu  sync.Mutex
	rec *screencap.Recorder
}

func newControlServer(addr string, build func() (screencap.Config, error)) *controlServer {
	router := http.NewServeMux()
	s := &controlServer{
		build: build,
		server: &http.Server{
			Addr:    addr,
			Handler: router,
		},
	}
	router.HandleFunc("/ws", s.handleWebsocket)
	return s
}

func (s *controlServer) Listen() error {
	fmt.Printf("Control endpoint on ws://%s/ws\n", s.server.Addr)
	return s.server.ListenAndServe()
}

func (s *controlServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := new(websocket.Upgrader).Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	defer s.stop()

	conn := &wsConn{ws: ws}

	for {
		msg := map[string]string{}
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}

		switch msg["type"] {
		case "start":
			if err := s.start(conn); err != nil {
				conn.send(map[string]string{"type": "error", "error": err.Error()})
			}
		case "stop":
			s.stop()
		default:
			conn.send(map[string]string{"type": "error", "error": "unknown message type"})
		}
	}
}

func (s *controlServer) start(conn *wsConn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec != nil {
		select {
		case <-s.rec.Done():
			// Previous session finished; fall through to a fresh one.
		default:
			return fmt.Errorf("already recording")
		}
	}

	cfg, err := s.build()
	if err != nil {
		return err
	}

	s.rec = screencap.NewRecorder(capture.NewToken(), cfg, &wsObserver{conn: conn})
	if err := s.rec.Start(); err != nil {
		s.rec = nil
		return err
	}
	return nil
}

func (s *controlServer) stop() {
	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()

	if rec != nil {
		rec.Stop()
	}
}

// wsConn serializes websocket writes; events arrive from the recorder's
// goroutines concurrently with command replies.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) send(msg map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.WriteJSON(msg)
}

// wsObserver forwards recorder lifecycle events to the control client.
type wsObserver struct {
	conn *wsConn
}

func (o *wsObserver) OnPrepared() {}

func (o *wsObserver) OnRecordingStarted() {
	o.conn.send(map[string]string{"type": "started"})
}

func (o *wsObserver) OnRecordingStopped(path string) {
	o.conn.send(map[string]string{"type": "stopped", "path": path})
}

func (o *wsObserver) OnError(err error) {
	o.conn.send(map[string]string{"type": "error", "error": err.Error()})
}
