package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Signals carry SDP blobs.
	maxMessageSize = 64 * 1024

	sendBuffer = 64
)

var (
	// ErrSocketClosed is returned by Send after Close
	ErrSocketClosed = errors.New("socket closed")
	// ErrSendBufferFull is returned when the peer does not keep up
	ErrSendBufferFull = errors.New("send buffer full")
)

// Socket is a relay connection. Writes go through a buffered queue drained
// by writePump so that Send and Close never block the caller.
type Socket struct {
	id     string
	conn   *websocket.Conn
	logger *zap.Logger

	send    chan []byte
	closing chan struct{}

	mu          sync.Mutex
	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

func newSocket(id string, conn *websocket.Conn, logger *zap.Logger) *Socket {
	return &Socket{
		id:        id,
		conn:      conn,
		logger:    logger.With(zap.String("socket_id", id)),
		send:      make(chan []byte, sendBuffer),
		closing:   make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
	}
}

// ID returns the process-unique socket id
func (s *Socket) ID() string {
	return s.id
}

// Send queues msg for delivery
func (s *Socket) Send(msg []byte) error {
	select {
	case <-s.closing:
		return ErrSocketClosed
	default:
	}
	select {
	case s.send <- msg:
		return nil
	case <-s.closing:
		return ErrSocketClosed
	default:
		s.logger.Warn("Dropping slow socket")
		s.Close(websocket.CloseTryAgainLater, "too slow")
		return ErrSendBufferFull
	}
}

// Close asks the write pump to send a close frame and tear down the
// connection. Only the first call has an effect.
func (s *Socket) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeCode = code
		s.closeReason = reason
		s.mu.Unlock()
		close(s.closing)
	})
}

func (s *Socket) readPump(handle func(data []byte)) {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Debug("Socket read error", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		handle(data)
	}
}

func (s *Socket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debug("Socket write failed", zap.Error(err))
				s.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-s.closing:
			s.mu.Lock()
			code, reason := s.closeCode, s.closeReason
			s.mu.Unlock()
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason),
				time.Now().Add(writeWait))
			return
		}
	}
}

// reject closes a freshly upgraded connection that was never admitted
func reject(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait))
	_ = conn.Close()
}
