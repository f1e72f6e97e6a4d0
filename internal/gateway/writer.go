package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/pulsegate/internal/metrics"
)

const (
	writeDeadline  = 5 * time.Second
	sendBufferSize = 32
)

// clientWriter serializes all writes to one socket through a single
// goroutine, which is what gives a connection its per-connection FIFO
// ordering guarantee. Frames are dropped, never blocked on, when the
// buffer is full.
type clientWriter struct {
	connection *websocket.Conn
	clock      clockwork.Clock
	sendCh     chan []byte
	pingCh     chan struct{}
	doneCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func newClientWriter(connection *websocket.Conn, clock clockwork.Clock) *clientWriter {
	cw := &clientWriter{
		connection: connection,
		clock:      clock,
		sendCh:     make(chan []byte, sendBufferSize),
		pingCh:     make(chan struct{}, 1),
		doneCh:     make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	defer cw.wg.Done()

	for {
		select {
		case msg := <-cw.sendCh:
			start := cw.clock.Now()
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
			metrics.GatewayMessageSendDuration.Observe(cw.clock.Since(start).Seconds())
			metrics.GatewayMessagesSent.Inc()
		case <-cw.pingCh:
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-cw.doneCh:
			return
		}
	}
}

// enqueue hands a frame to the writer goroutine. Returns false when the
// buffer is full or the writer has stopped; the frame is dropped either
// way.
func (cw *clientWriter) enqueue(msg []byte) bool {
	select {
	case <-cw.doneCh:
		return false
	default:
	}

	select {
	case cw.sendCh <- msg:
		return true
	default:
		metrics.GatewaySendDrops.Inc()
		return false
	}
}

// ping requests a transport-level ping frame. Coalesces when one is
// already pending.
func (cw *clientWriter) ping() {
	select {
	case cw.pingCh <- struct{}{}:
	default:
	}
}

func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.doneCh)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

// stopGraceful writes a close frame with the reason before closing. The
// run goroutine is stopped first so the close frame is not a concurrent
// write.
func (cw *clientWriter) stopGraceful(reason string) {
	cw.stopOnce.Do(func() {
		close(cw.doneCh)
		cw.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		cw.updateWriteDeadline()
		_ = cw.connection.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

func (cw *clientWriter) updateWriteDeadline() {
	_ = cw.connection.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
}
