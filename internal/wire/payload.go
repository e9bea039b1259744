package wire

import (
	"encoding/binary"
	"fmt"

	"soundd/internal/pcm"
)

// Direction is the declared flow of a stream's audio.
type Direction uint8

const (
	Playback Direction = iota + 1
	Record
)

// NewStreamID is the sentinel stream id meaning "allocate a new stream".
const NewStreamID uint32 = 0xFFFFFFFF

// BufferConfig mirrors the client-declared buffering parameters of a
// Stream Configuration.
type BufferConfig struct {
	Total       uint32
	Prebuffer   uint32
	MinRequest  uint32
	Fragment    uint32
}

// StreamConfiguration is the Stream Configuration data-model entity: what a
// client proposes, and what the server echoes back once accepted.
type StreamConfiguration struct {
	ClientName string
	StreamName string
	Format     pcm.Format
	SampleRate uint32
	Channels   uint16
	Direction  Direction
	Buffer     BufferConfig
}

// ClientStreamMessage is the Client.Stream structured alternative: exactly
// one of Connect, Push, Pull, or Close is set.
type ClientStreamMessage struct {
	StreamID uint32
	Connect  *StreamConfiguration
	Push     *PushData
	Pull     *PullRequest
	Close    bool
}

// PushData carries PCM bytes from client to server (a playback push) or
// server to client (a capture pull's reply).
type PushData struct {
	Data []byte
	Size uint32
}

// PullRequest asks the server for Size frames from a capture stream.
type PullRequest struct {
	Size uint32
}

// ContextConnect is the Client.Context.Connect structured alternative.
type ContextConnect struct {
	Name string
}

// ClientMessage is the top-level Client structured payload: exactly one of
// Context or Stream is set.
type ClientMessage struct {
	Context *ContextConnect
	Stream  *ClientStreamMessage
}

// ConnectConfirmal is the Server.Stream.ConnectConfirmal structured
// alternative.
type ConnectConfirmal struct {
	Opened        bool
	Configuration StreamConfiguration
}

// ServerStreamMessage is the top-level Server.Stream structured payload.
type ServerStreamMessage struct {
	StreamID         uint32
	ConnectConfirmal *ConnectConfirmal
	Push             *PushData
}

// wire tags distinguishing the structured-payload alternatives. These are
// a serialization detail, not part of the external contract named in the
// spec (which only names the alternatives themselves).
const (
	tagContextConnect        = 1
	tagStreamConnect         = 2
	tagStreamPush            = 3
	tagStreamPull            = 4
	tagStreamClose           = 5
	tagStreamConnectConfirm  = 6
	tagStreamPushReply       = 7
)

type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}
func (w *writer) str(s string) { w.bytes([]byte(s)) }

type reader struct {
	buf []byte
	pos int
}

func (r *reader) u8() (uint8, error) {
	if r.pos+1 > len(r.buf) {
		return 0, fmt.Errorf("%w: truncated payload", ErrProtocol)
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, fmt.Errorf("%w: truncated payload", ErrProtocol)
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("%w: truncated payload", ErrProtocol)
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.buf) {
		return nil, fmt.Errorf("%w: truncated payload", ErrProtocol)
	}
	v := append([]byte(nil), r.buf[r.pos:r.pos+int(n)]...)
	r.pos += int(n)
	return v, nil
}

func (r *reader) str() (string, error) {
	b, err := r.bytes()
	return string(b), err
}

func writeConfiguration(w *writer, cfg StreamConfiguration) {
	w.str(cfg.ClientName)
	w.str(cfg.StreamName)
	w.u8(uint8(cfg.Format))
	w.u32(cfg.SampleRate)
	w.u16(cfg.Channels)
	w.u8(uint8(cfg.Direction))
	w.u32(cfg.Buffer.Total)
	w.u32(cfg.Buffer.Prebuffer)
	w.u32(cfg.Buffer.MinRequest)
	w.u32(cfg.Buffer.Fragment)
}

func readConfiguration(r *reader) (StreamConfiguration, error) {
	var cfg StreamConfiguration
	var err error
	if cfg.ClientName, err = r.str(); err != nil {
		return cfg, err
	}
	if cfg.StreamName, err = r.str(); err != nil {
		return cfg, err
	}
	format, err := r.u8()
	if err != nil {
		return cfg, err
	}
	cfg.Format = pcm.Format(format)
	if cfg.SampleRate, err = r.u32(); err != nil {
		return cfg, err
	}
	if cfg.Channels, err = r.u16(); err != nil {
		return cfg, err
	}
	direction, err := r.u8()
	if err != nil {
		return cfg, err
	}
	cfg.Direction = Direction(direction)
	if cfg.Buffer.Total, err = r.u32(); err != nil {
		return cfg, err
	}
	if cfg.Buffer.Prebuffer, err = r.u32(); err != nil {
		return cfg, err
	}
	if cfg.Buffer.MinRequest, err = r.u32(); err != nil {
		return cfg, err
	}
	if cfg.Buffer.Fragment, err = r.u32(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// top-level alternative discriminant for ClientMessage, kept separate from
// the stream-message tags above since a stream id's low byte could
// otherwise collide with tagContextConnect.
const (
	topLevelContext = 0
	topLevelStream  = 1
)

// MarshalClientMessage encodes a ClientMessage into a structured payload.
func MarshalClientMessage(msg ClientMessage) []byte {
	w := &writer{}
	switch {
	case msg.Context != nil:
		w.u8(topLevelContext)
		w.str(msg.Context.Name)
	case msg.Stream != nil:
		w.u8(topLevelStream)
		s := msg.Stream
		w.u32(s.StreamID)
		switch {
		case s.Connect != nil:
			w.u8(tagStreamConnect)
			writeConfiguration(w, *s.Connect)
		case s.Push != nil:
			w.u8(tagStreamPush)
			w.u32(s.Push.Size)
			w.bytes(s.Push.Data)
		case s.Pull != nil:
			w.u8(tagStreamPull)
			w.u32(s.Pull.Size)
		case s.Close:
			w.u8(tagStreamClose)
		}
	}
	return w.buf
}

// UnmarshalClientMessage parses a structured payload previously produced by
// MarshalClientMessage.
func UnmarshalClientMessage(payload []byte) (ClientMessage, error) {
	r := &reader{buf: payload}
	kind, err := r.u8()
	if err != nil {
		return ClientMessage{}, err
	}
	if kind == topLevelContext {
		name, err := r.str()
		if err != nil {
			return ClientMessage{}, err
		}
		return ClientMessage{Context: &ContextConnect{Name: name}}, nil
	}

	streamID, err := r.u32()
	if err != nil {
		return ClientMessage{}, err
	}
	tag, err := r.u8()
	if err != nil {
		return ClientMessage{}, err
	}

	stream := &ClientStreamMessage{StreamID: streamID}
	switch tag {
	case tagStreamConnect:
		cfg, err := readConfiguration(r)
		if err != nil {
			return ClientMessage{}, err
		}
		stream.Connect = &cfg
	case tagStreamPush:
		size, err := r.u32()
		if err != nil {
			return ClientMessage{}, err
		}
		data, err := r.bytes()
		if err != nil {
			return ClientMessage{}, err
		}
		stream.Push = &PushData{Size: size, Data: data}
	case tagStreamPull:
		size, err := r.u32()
		if err != nil {
			return ClientMessage{}, err
		}
		stream.Pull = &PullRequest{Size: size}
	case tagStreamClose:
		stream.Close = true
	default:
		return ClientMessage{}, fmt.Errorf("%w: unknown stream message tag %d", ErrProtocol, tag)
	}
	return ClientMessage{Stream: stream}, nil
}

// MarshalServerMessage encodes a ServerStreamMessage into a structured
// payload.
func MarshalServerMessage(msg ServerStreamMessage) []byte {
	w := &writer{}
	w.u32(msg.StreamID)
	switch {
	case msg.ConnectConfirmal != nil:
		w.u8(tagStreamConnectConfirm)
		w.u8(boolToU8(msg.ConnectConfirmal.Opened))
		writeConfiguration(w, msg.ConnectConfirmal.Configuration)
	case msg.Push != nil:
		w.u8(tagStreamPushReply)
		w.u32(msg.Push.Size)
		w.bytes(msg.Push.Data)
	}
	return w.buf
}

// UnmarshalServerMessage parses a structured payload previously produced by
// MarshalServerMessage.
func UnmarshalServerMessage(payload []byte) (ServerStreamMessage, error) {
	r := &reader{buf: payload}
	streamID, err := r.u32()
	if err != nil {
		return ServerStreamMessage{}, err
	}
	tag, err := r.u8()
	if err != nil {
		return ServerStreamMessage{}, err
	}
	msg := ServerStreamMessage{StreamID: streamID}
	switch tag {
	case tagStreamConnectConfirm:
		openedByte, err := r.u8()
		if err != nil {
			return ServerStreamMessage{}, err
		}
		cfg, err := readConfiguration(r)
		if err != nil {
			return ServerStreamMessage{}, err
		}
		msg.ConnectConfirmal = &ConnectConfirmal{Opened: openedByte != 0, Configuration: cfg}
	case tagStreamPushReply:
		size, err := r.u32()
		if err != nil {
			return ServerStreamMessage{}, err
		}
		data, err := r.bytes()
		if err != nil {
			return ServerStreamMessage{}, err
		}
		msg.Push = &PushData{Size: size, Data: data}
	default:
		return ServerStreamMessage{}, fmt.Errorf("%w: unknown server message tag %d", ErrProtocol, tag)
	}
	return msg, nil
}

func boolToU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
