package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/wire"
)

// Stream is an open push stream. Frames is closed when the connection
// ends; Err then reports why.
type Stream struct {
	conn   net.Conn
	rw     io.ReadWriter
	codec  wire.Codec
	frames chan *wire.Frame
	done   chan struct{}
	quit   chan struct{}
	logger *slog.Logger

	err    atomic.Pointer[error]
	closed atomic.Bool
}

// bufferedConn reads through the handshake reader so frames sent with
// the upgrade response are not lost.
type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

// Stream dials the push stream for jobID ("" follows every job).
func (c *Client) Stream(ctx context.Context, jobID string) (*Stream, error) {
	u, err := c.streamURL(jobID)
	if err != nil {
		return nil, fmt.Errorf("beacon/client: stream: %w", err)
	}

	conn, br, _, err := ws.Dial(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("beacon/client: stream: %w: %w", beacon.ErrTransportDisconnected, err)
	}

	var rw io.ReadWriter = conn
	if br != nil {
		rw = &bufferedConn{Conn: conn, r: io.MultiReader(br, conn)}
	}

	s := &Stream{
		conn:   conn,
		rw:     rw,
		codec:  wire.GetCodec(c.format),
		frames: make(chan *wire.Frame, 16),
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
		logger: c.logger,
	}
	go s.readLoop()

	c.logger.Debug("stream connected",
		slog.String("job_id", jobID),
		slog.String("format", s.codec.Name()),
	)
	return s, nil
}

func (c *Client) streamURL(jobID string) (string, error) {
	u, err := url.Parse(c.baseURL + "/v1/stream")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := url.Values{}
	if jobID != "" {
		q.Set("job_id", jobID)
	}
	if c.format != "" {
		q.Set("format", c.format)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Frames returns the decoded frames in arrival order.
func (s *Stream) Frames() <-chan *wire.Frame { return s.frames }

// Done is closed when the stream has ended.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err returns why the stream ended, or nil while it is open or after a
// local Close.
func (s *Stream) Err() error {
	if p := s.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Close ends the stream. Safe to call multiple times.
func (s *Stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.quit)
	//nolint:errcheck // best-effort close frame
	wsutil.WriteClientMessage(s.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
	return s.conn.Close()
}

// readLoop decodes server frames until the connection ends. Control
// frames are answered by wsutil.
func (s *Stream) readLoop() {
	defer close(s.done)
	defer close(s.frames)

	for {
		data, _, err := wsutil.ReadServerData(s.rw)
		if err != nil {
			if !s.closed.Load() {
				wrapped := fmt.Errorf("%w: %w", beacon.ErrTransportDisconnected, err)
				s.err.Store(&wrapped)
				s.logger.Debug("stream read ended", slog.String("error", err.Error()))
			}
			return
		}

		f, err := s.codec.Decode(data)
		if err != nil {
			s.logger.Warn("stream: invalid frame", slog.String("error", err.Error()))
			continue
		}
		select {
		case s.frames <- f:
		case <-s.quit:
			return
		}
	}
}

// IsLive reports whether a state frame announces a live relay.
func IsLive(f *wire.Frame) bool {
	return f.Type == wire.FrameState && strings.EqualFold(f.State, wire.StateLive)
}
