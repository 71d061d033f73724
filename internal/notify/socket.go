// Package notify streams profile changes to local clients over a Unix socket.
package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Atharva-Kanherkar/sage/internal/insights"
	"go.uber.org/zap"
)

// writeTimeout bounds a single write to a slow client.
const writeTimeout = 2 * time.Second

// SubscribeFunc builds the message sent to a client that asks to subscribe,
// usually the current profile. Returning false sends nothing.
type SubscribeFunc func(ctx context.Context) (insights.SocketMessage, bool)

// SocketServer pushes newline-delimited JSON messages to connected clients.
type SocketServer struct {
	path        string
	logger      *zap.Logger
	onSubscribe SubscribeFunc

	listener net.Listener
	clients  map[net.Conn]*sync.Mutex
	mu       sync.RWMutex
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSocketServer creates a server for path. onSubscribe may be nil.
func NewSocketServer(path string, onSubscribe SubscribeFunc, logger *zap.Logger) *SocketServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SocketServer{
		path:        path,
		logger:      logger.Named("socket"),
		onSubscribe: onSubscribe,
		clients:     make(map[net.Conn]*sync.Mutex),
		done:        make(chan struct{}),
	}
}

// Path returns the socket path.
func (s *SocketServer) Path() string {
	return s.path
}

// Start begins listening for connections.
func (s *SocketServer) Start() error {
	// A stale socket from a crashed daemon blocks Listen.
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	s.listener = listener

	if err := os.Chmod(s.path, 0700); err != nil {
		s.logger.Warn("chmod socket", zap.Error(err))
	}

	s.wg.Add(1)
	go s.acceptLoop()
	s.logger.Info("listening", zap.String("path", s.path))
	return nil
}

// Stop closes the listener and every client, then removes the socket file.
func (s *SocketServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			s.listener.Close()
		}

		s.mu.Lock()
		for conn := range s.clients {
			conn.Close()
		}
		s.clients = make(map[net.Conn]*sync.Mutex)
		s.mu.Unlock()

		s.wg.Wait()
		os.Remove(s.path)
	})
}

// Broadcast sends msg to all connected clients. Clients that cannot keep
// up are disconnected.
func (s *SocketServer) Broadcast(msg insights.SocketMessage) {
	data, err := encode(msg)
	if err != nil {
		s.logger.Error("encode message", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for conn, wmu := range s.clients {
		if err := write(conn, wmu, data); err != nil {
			s.logger.Debug("drop client", zap.Error(err))
			conn.Close()
		}
	}
}

// ClientCount returns the number of connected clients.
func (s *SocketServer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *SocketServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept", zap.Error(err))
			continue
		}

		wmu := &sync.Mutex{}
		s.mu.Lock()
		s.clients[conn] = wmu
		count := len(s.clients)
		s.mu.Unlock()

		s.logger.Debug("client connected", zap.Int("clients", count))

		s.wg.Add(1)
		go s.handleClient(conn, wmu)
	}
}

func (s *SocketServer) handleClient(conn net.Conn, wmu *sync.Mutex) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		count := len(s.clients)
		s.mu.Unlock()
		conn.Close()
		s.logger.Debug("client disconnected", zap.Int("clients", count))
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var msg insights.SocketMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if msg.Type != insights.MsgTypeSubscribe || s.onSubscribe == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		reply, ok := s.onSubscribe(ctx)
		cancel()
		if !ok {
			continue
		}
		data, err := encode(reply)
		if err != nil {
			continue
		}
		if err := write(conn, wmu, data); err != nil {
			return
		}
	}
}

func encode(msg insights.SocketMessage) ([]byte, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func write(conn net.Conn, wmu *sync.Mutex, data []byte) error {
	wmu.Lock()
	defer wmu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := conn.Write(data)
	return err
}

// Message is a decoded socket message with the payload left raw.
type Message struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Subscribe connects to the server at path, asks for the current profile
// and calls fn for every message until ctx is done or the server goes away.
func Subscribe(ctx context.Context, path string, fn func(Message)) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	req, err := encode(insights.SocketMessage{Type: insights.MsgTypeSubscribe})
	if err != nil {
		return err
	}
	if _, err := conn.Write(req); err != nil {
		return err
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		fn(msg)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return scanner.Err()
}
