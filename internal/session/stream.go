// Package session implements the per-stream and per-connection state
// machines that sit between the wire protocol and the Audio Engine: Stream
// Sessions own one Handle each, and a Context Session owns the TCP
// connection, the framer, and the set of child Stream Sessions it routes
// messages to.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"soundd/internal/handle"
	"soundd/internal/pcm"
	"soundd/internal/wire"
)

// ErrConfiguration is returned for any stream operation invalid in its
// current state: double-connect, wrong direction for the attempted io op,
// or an unsupported sample spec.
var ErrConfiguration = errors.New("session: invalid stream configuration")

// State is a Stream Session's position in its lifecycle.
type State int

const (
	Unconfigured State = iota
	Creating
	Ready
	Terminated
	Failed
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "UNCONFIGURED"
	case Creating:
		return "CREATING"
	case Ready:
		return "READY"
	case Terminated:
		return "TERMINATED"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Engine is the subset of the Audio Engine a Stream Session needs: handle
// acquisition per direction. Implemented by internal/engine; kept as an
// interface here so sessions can be tested without a real device backend.
type Engine interface {
	AcquireWriteHandle(cfg wire.StreamConfiguration) (*handle.WriteHandle, error)
	AcquireReadHandle(cfg wire.StreamConfiguration) (*handle.ReadHandle, error)
}

// Result is a Stream Session's answer to a single client message: either an
// error (translated to an ERROR reply), a structured reply awaiting a
// stream id the owning Context patches in, or neither (a plain ACK).
type Result struct {
	Err        error
	Structured *wire.ServerStreamMessage
}

// Stream is one Stream Session: UNCONFIGURED -> CREATING -> READY ->
// (TERMINATED|FAILED). It owns exactly one Handle, acquired from the Engine
// on a successful connect.
type Stream struct {
	mu        sync.Mutex
	state     State
	direction wire.Direction
	config    wire.StreamConfiguration

	write *handle.WriteHandle
	read  *handle.ReadHandle

	engine Engine
	logger *slog.Logger
}

// NewStream returns a Stream Session in state UNCONFIGURED.
func NewStream(engine Engine, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{engine: engine, logger: logger}
}

// State reports the stream's current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnClientMessage dispatches one stream message to the matching handler for
// the session's current state.
func (s *Stream) OnClientMessage(msg wire.ClientStreamMessage) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case msg.Connect != nil:
		return s.onConnect(*msg.Connect)
	case msg.Push != nil:
		return s.onPush(*msg.Push)
	case msg.Pull != nil:
		return s.onPull(*msg.Pull)
	case msg.Close:
		return s.onClose()
	default:
		return Result{Err: fmt.Errorf("%w: stream message carries no recognized operation", wire.ErrProtocol)}
	}
}

func (s *Stream) onConnect(cfg wire.StreamConfiguration) Result {
	if s.state != Unconfigured {
		s.state = Failed
		s.logger.Error("double connect on stream", "state", s.state)
		return Result{Err: fmt.Errorf("%w: stream already configured", ErrConfiguration)}
	}
	s.state = Creating

	if cfg.SampleRate != wire.BaseSampleRate || cfg.Channels != 1 || cfg.Format < pcm.U8 || cfg.Format > pcm.F32BE {
		s.state = Failed
		err := fmt.Errorf("%w: unsupported sample spec (format %v, rate %d, channels %d)", ErrConfiguration, cfg.Format, cfg.SampleRate, cfg.Channels)
		s.logger.Error("stream configuration failed", "error", err)
		return Result{Err: err}
	}

	var err error
	switch cfg.Direction {
	case wire.Playback:
		s.write, err = s.engine.AcquireWriteHandle(cfg)
	case wire.Record:
		s.read, err = s.engine.AcquireReadHandle(cfg)
	default:
		err = fmt.Errorf("%w: unsupported direction %d", ErrConfiguration, cfg.Direction)
	}
	if err != nil {
		s.state = Failed
		s.logger.Error("stream configuration failed", "error", err)
		return Result{Err: err}
	}

	s.config = cfg
	s.direction = cfg.Direction
	s.state = Ready
	s.logger.Info("stream ready", "direction", cfg.Direction, "format", cfg.Format, "sample_rate", cfg.SampleRate)

	return Result{Structured: &wire.ServerStreamMessage{
		ConnectConfirmal: &wire.ConnectConfirmal{Opened: true, Configuration: cfg},
	}}
}

func (s *Stream) onPush(data wire.PushData) Result {
	if s.state != Ready || s.direction != wire.Playback {
		s.state = Failed
		return Result{Err: fmt.Errorf("%w: push invalid outside a ready playback stream", ErrConfiguration)}
	}
	accepted, err := s.write.Write(data.Data)
	if err != nil {
		s.state = Failed
		s.logger.Error("push failed", "error", err)
		return Result{Err: err}
	}
	s.logger.Debug("push accepted", "frames", accepted)
	return Result{}
}

func (s *Stream) onPull(req wire.PullRequest) Result {
	if s.state != Ready || s.direction != wire.Record {
		s.state = Failed
		return Result{Err: fmt.Errorf("%w: pull invalid outside a ready record stream", ErrConfiguration)}
	}
	wireBytes, delivered := s.read.Read(int(req.Size))
	s.logger.Debug("pull served", "requested", req.Size, "delivered", delivered)
	return Result{Structured: &wire.ServerStreamMessage{
		Push: &wire.PushData{Data: wireBytes, Size: req.Size},
	}}
}

func (s *Stream) onClose() Result {
	if s.state == Unconfigured {
		return Result{Err: fmt.Errorf("%w: close before connect", ErrConfiguration)}
	}
	s.abortHandlesLocked()
	s.state = Terminated
	s.logger.Info("stream closed")
	return Result{}
}

// Abort forces the stream to TERMINATED and releases its handle, without a
// client-initiated close message. Used by the owning Context when the
// connection itself is going away.
func (s *Stream) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortHandlesLocked()
	s.state = Terminated
}

func (s *Stream) abortHandlesLocked() {
	if s.write != nil {
		s.write.Abort()
	}
	if s.read != nil {
		s.read.Abort()
	}
}
