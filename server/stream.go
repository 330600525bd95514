package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/beacon/relay"
	"github.com/xraph/beacon/wire"
)

// maxClientFrame caps the payload of frames read from clients. Clients
// only send control frames.
const maxClientFrame = 4 << 10

// stream upgrades to WebSocket and pushes the session's frames until the
// client leaves or the relay stops. One goroutine writes, one reads.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	codec := wire.GetCodec(r.URL.Query().Get("format"))

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("server: websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close() //nolint:errcheck // best-effort close

	sess := s.relay.Attach(jobID)
	s.streams.Add(1)
	defer func() {
		s.relay.Detach(sess)
		s.streams.Add(-1)
	}()

	s.logger.Info("stream connected",
		slog.String("session_id", sess.ID()),
		slog.String("job_id", jobID),
		slog.String("codec", codec.Name()),
	)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	pings := make(chan []byte, 1)
	go s.readLoop(conn, pings, cancel)

	reason := s.writeLoop(ctx, conn, codec, sess, pings)
	s.logger.Info("stream disconnected",
		slog.String("session_id", sess.ID()),
		slog.String("reason", reason),
	)
}

// writeLoop owns every write to conn.
func (s *Server) writeLoop(ctx context.Context, conn net.Conn, codec wire.Codec, sess *relay.Session, pings <-chan []byte) string {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	op := ws.OpText
	if codec.Binary() {
		op = ws.OpBinary
	}

	write := func(f *wire.Frame) error {
		data, err := codec.Encode(f)
		if err != nil {
			s.logger.Warn("server: encode frame", slog.String("error", err.Error()))
			return nil
		}
		return s.writeMessage(conn, op, data)
	}

	for {
		select {
		case <-ctx.Done():
			s.writeClose(conn, ws.StatusNormalClosure, "")
			return "client closed"

		case <-sess.Done():
			s.writeClose(conn, ws.StatusGoingAway, "relay stopped")
			return "relay stopped"

		case <-sess.Ready():
			for _, f := range sess.Drain() {
				if err := write(f); err != nil {
					return "write failed: " + err.Error()
				}
			}

		case payload := <-pings:
			if err := s.writeMessage(conn, ws.OpPong, payload); err != nil {
				return "write failed: " + err.Error()
			}

		case <-ticker.C:
			if err := write(wire.NewHeartbeatFrame()); err != nil {
				return "write failed: " + err.Error()
			}
		}
	}
}

func (s *Server) writeMessage(conn net.Conn, op ws.OpCode, data []byte) error {
	//nolint:errcheck // a failed deadline surfaces on the write
	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return wsutil.WriteServerMessage(conn, op, data)
}

func (s *Server) writeClose(conn net.Conn, code ws.StatusCode, reason string) {
	//nolint:errcheck // best-effort close frame before disconnect
	s.writeMessage(conn, ws.OpClose, ws.NewCloseFrameBody(code, reason))
}

// readLoop consumes client frames so control frames are noticed. Pings
// are handed to the writer; a close frame or read error ends the stream.
func (s *Server) readLoop(conn net.Conn, pings chan<- []byte, cancel context.CancelFunc) {
	defer cancel()
	for {
		h, err := ws.ReadHeader(conn)
		if err != nil {
			return
		}
		if h.Length > maxClientFrame {
			s.logger.Warn("server: client frame too large", slog.Int64("length", h.Length))
			return
		}
		payload := make([]byte, h.Length)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}
		if h.Masked {
			ws.Cipher(payload, h.Mask, 0)
		}
		switch h.OpCode {
		case ws.OpClose:
			return
		case ws.OpPing:
			select {
			case pings <- payload:
			default:
			}
		}
	}
}
