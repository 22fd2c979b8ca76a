// Package observer serves the live websocket feed. Observers are
// never load-bearing: a slow or dead connection drops frames rather
// than stalling the tick loop.
package observer

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"savannah.ai/internal/observerproto"
)

type Server struct {
	log      *log.Logger
	hello    func() observerproto.HelloMsg
	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu   sync.Mutex
	subs map[uint64]chan []byte

	controls chan observerproto.ControlMsg
}

func NewServer(hello func() observerproto.HelloMsg, logger *log.Logger) *Server {
	return &Server{
		log:   logger,
		hello: hello,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		subs:     make(map[uint64]chan []byte),
		controls: make(chan observerproto.ControlMsg, 16),
	}
}

// Controls delivers pause/resume/step/delay/stop commands from any
// connected observer.
func (s *Server) Controls() <-chan observerproto.ControlMsg { return s.controls }

// Broadcast fans a message out to every subscriber. Full subscriber
// queues drop their oldest frame so each client converges on the
// latest tick.
func (s *Server) Broadcast(msg any) {
	b, err := json.Marshal(msg)
	if err != nil {
		s.log.Printf("observer broadcast encode: %v", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- b:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- b:
			default:
			}
		}
	}
}

// SubscriberCount reports the current number of connected observers.
func (s *Server) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send a subscribe first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil || sub.Type != "subscribe" || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected subscribe"),
				time.Now().Add(time.Second))
			return
		}

		hello, err := json.Marshal(s.hello())
		if err == nil {
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
				return
			}
		}

		id := s.nextID.Add(1)
		out := make(chan []byte, 8)
		s.mu.Lock()
		s.subs[id] = out
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			// Safe to close once the sub is gone: Broadcast holds the
			// lock while sending, so no writer can race the close. The
			// writer goroutine exits when the channel drains.
			close(out)
		}()

		writeErr := make(chan error, 1)
		go func() {
			for b := range out {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					return
				}
			}
		}()

		// Reader loop: control commands only.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var ctl observerproto.ControlMsg
			if err := json.Unmarshal(msg, &ctl); err != nil || ctl.Type != "control" {
				continue
			}
			select {
			case s.controls <- ctl:
			default:
				// Engine is behind on controls; client may resend.
			}
			select {
			case err := <-writeErr:
				_ = err
				return
			default:
			}
		}
	}
}

// Serve runs an HTTP server exposing the websocket at /observer until
// the listener is closed.
func (s *Server) Serve(addr string) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/observer", s.WSHandler())
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Printf("observer server: %v", err)
		}
	}()
	s.log.Printf("observer listening on %s", ln.Addr())
	return srv, nil
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
