package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"soundd/internal/wire"
)

// CloseReason is why a Context's Serve loop returned.
type CloseReason int

const (
	// Aborting is an unrecoverable protocol error: bad header, truncation
	// beyond the max, version mismatch, or a stream id out of bounds.
	Aborting CloseReason = iota
	// Closing is a clean client-side disconnect.
	Closing
)

func (r CloseReason) String() string {
	if r == Aborting {
		return "ABORTING"
	}
	return "CLOSING"
}

// Master is notified exactly once when a Context's connection ends. The
// Server implements this to drop its reference to the context.
type Master interface {
	NotifyClosed(ctx *Context, reason CloseReason)
}

// Context owns one client's TCP connection: its framer, its child Stream
// Sessions keyed by server-assigned id, and the outbound reply queue. It
// runs single-threaded — Serve is the only goroutine that ever touches a
// Context's mutable state, matching the one-io-context-thread-per-context
// scheduling model this package is grounded on.
type Context struct {
	conn   net.Conn
	framer *wire.Framer
	engine Engine
	master Master
	logger *slog.Logger

	streams map[uint32]*Stream
	nextID  uint32

	responses []wire.Frame
	name      string
}

// NewContext returns a Context ready to Serve the given connection.
func NewContext(conn net.Conn, engine Engine, master Master, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		conn:    conn,
		framer:  wire.NewFramer(),
		engine:  engine,
		master:  master,
		logger:  logger,
		streams: make(map[uint32]*Stream),
	}
}

// Serve drives the read loop until the connection closes or an
// unrecoverable protocol error occurs, then notifies Master exactly once.
func (c *Context) Serve() {
	reason := Closing
	defer func() {
		c.abortAllStreams()
		c.master.NotifyClosed(c, reason)
	}()

	for {
		want := c.framer.Next()
		if want <= 0 || want > wire.NetworkBufferSize {
			want = wire.NetworkBufferSize
		}
		buf := make([]byte, want)
		n, err := c.conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Error("context read error", "error", err)
				reason = Aborting
			}
			return
		}

		if err := c.framer.Feed(buf[:n]); err != nil {
			c.logger.Error("context protocol error", "error", err)
			reason = Aborting
			return
		}

		for c.framer.ParsedAvailable() {
			if err := c.handleFrame(c.framer.Parsed()); err != nil {
				c.logger.Error("context fatal error handling frame", "error", err)
				reason = Aborting
				return
			}
		}
	}
}

func (c *Context) handleFrame(frame wire.Frame) error {
	switch frame.Type {
	case wire.Simple:
		if frame.Simple == wire.TRAIL {
			return c.drainResponses()
		}
		return fmt.Errorf("%w: unexpected simple code %s from client", wire.ErrProtocol, frame.Simple)
	case wire.Structured:
		msg, err := wire.UnmarshalClientMessage(frame.Payload)
		if err != nil {
			return err
		}
		return c.route(msg)
	default:
		return fmt.Errorf("%w: unknown frame type %d", wire.ErrProtocol, frame.Type)
	}
}

func (c *Context) route(msg wire.ClientMessage) error {
	switch {
	case msg.Context != nil:
		c.onContextConnect(*msg.Context)
		return nil
	case msg.Stream != nil:
		return c.onStreamMessage(*msg.Stream)
	default:
		return fmt.Errorf("%w: client message carries no recognized operation", wire.ErrProtocol)
	}
}

// onContextConnect is the only defined context-level operation: naming the
// connection. It always succeeds.
func (c *Context) onContextConnect(connect wire.ContextConnect) {
	c.logger.Info("context connecting", "name", connect.Name)
	c.name = connect.Name
	c.acknowledge()
}

func (c *Context) onStreamMessage(msg wire.ClientStreamMessage) error {
	var selected *Stream
	var id uint32

	if msg.StreamID == wire.NewStreamID {
		selected = NewStream(c.engine, c.logger)
		id = c.nextID
		c.nextID++
		c.streams[id] = selected
		c.logger.Debug("appended new stream", "stream_id", id)
	} else {
		var ok bool
		selected, ok = c.streams[msg.StreamID]
		if !ok {
			return fmt.Errorf("%w: stream id %d out of bounds", wire.ErrProtocol, msg.StreamID)
		}
		id = msg.StreamID
		c.logger.Debug("selected existing stream", "stream_id", id)
	}

	result := selected.OnClientMessage(msg)
	c.patch(result, id)

	if state := selected.State(); state == Terminated || state == Failed {
		delete(c.streams, id)
	}
	return nil
}

// patch translates a Stream Session's Result into a queued reply, stamping
// the stream id into any structured reply. Simple-code replies never carry
// a stream id — only the structured path does.
func (c *Context) patch(result Result, id uint32) {
	if result.Err != nil {
		c.logger.Warn("stream api failed", "stream_id", id, "error", result.Err)
		c.acknowledgeWithCode(wire.ERROR)
		return
	}
	if result.Structured != nil {
		result.Structured.StreamID = id
		c.acknowledgeWithProtobuf(*result.Structured)
		return
	}
	c.acknowledge()
}

func (c *Context) acknowledge() {
	c.acknowledgeWithCode(wire.ACK)
}

func (c *Context) acknowledgeWithCode(code wire.SimpleCode) {
	c.responses = append(c.responses, wire.NewBuilder().WithSimple(code).Construct())
}

func (c *Context) acknowledgeWithProtobuf(msg wire.ServerStreamMessage) {
	payload := wire.MarshalServerMessage(msg)
	c.responses = append(c.responses, wire.NewBuilder().WithPayload(payload).Construct())
}

// drainResponses fires on a client TRAIL: it writes every queued reply in
// arrival order, then terminates the batch with its own TRAIL.
func (c *Context) drainResponses() error {
	for _, frame := range c.responses {
		if _, err := c.conn.Write(frame.Encode()); err != nil {
			return fmt.Errorf("context write: %w", err)
		}
	}
	c.responses = c.responses[:0]

	trail := wire.NewBuilder().WithSimple(wire.TRAIL).Construct()
	if _, err := c.conn.Write(trail.Encode()); err != nil {
		return fmt.Errorf("context write: %w", err)
	}
	return nil
}

func (c *Context) abortAllStreams() {
	for id, s := range c.streams {
		s.Abort()
		delete(c.streams, id)
	}
}
