package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	pongWait     = 2 * pingInterval
	queueSize    = 256
)

var errSlowViewer = errors.New("viewer queue full")

// viewer is the io.Writer a surface renders into. Writes never block: a
// viewer that falls a full queue behind is dropped.
type viewer struct {
	conn  *websocket.Conn
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

func newViewer(conn *websocket.Conn) *viewer {
	return &viewer{
		conn:  conn,
		queue: make(chan []byte, queueSize),
		done:  make(chan struct{}),
	}
}

func (v *viewer) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)

	select {
	case <-v.done:
		return 0, websocket.ErrCloseSent
	case v.queue <- buf:
		return len(p), nil
	default:
		v.stop()
		return 0, errSlowViewer
	}
}

func (v *viewer) stop() {
	v.once.Do(func() { close(v.done) })
}

// pump owns every write to the connection
func (v *viewer) pump(closing <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case p := <-v.queue:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
				v.stop()
				return
			}
		case <-ticker.C:
			if err := v.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				v.stop()
				return
			}
		case <-closing:
			v.drain()
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed")
			_ = v.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			v.stop()
			return
		case <-v.done:
			return
		}
	}
}

// drain flushes output that was queued before the session closed
func (v *viewer) drain() {
	for {
		select {
		case p := <-v.queue:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
				return
			}
		default:
			return
		}
	}
}
