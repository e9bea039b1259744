package wire

import (
	"encoding/binary"
	"fmt"
)

type stage int

const (
	stageHeader stage = iota
	stagePayload
)

const headerStageBytes = 5 // 1 header byte + 4 bytes of simple-code-or-length

// Framer turns a byte stream into a sequence of whole Frames and back. It
// holds no socket of its own: callers feed it bytes as they arrive (of any
// size, including one at a time) and drain completed frames from its queue.
type Framer struct {
	stage  stage
	acc    []byte
	curLen uint32

	parsed []Frame
}

// NewFramer returns a framer starting in the HEADER stage.
func NewFramer() *Framer {
	return &Framer{}
}

// Next reports how many more bytes the framer needs to complete its current
// stage; callers may use this as a read-size hint, but Feed tolerates any
// chunking.
func (f *Framer) Next() int {
	switch f.stage {
	case stageHeader:
		return headerStageBytes - len(f.acc)
	default:
		return int(f.curLen) - len(f.acc)
	}
}

// Feed appends data to the framer's accumulator and advances its state
// machine, queuing every frame completed in the process. It returns
// ErrProtocol on a bad header, unsupported version/type, or a declared
// structured length exceeding MaxBytesOnMessage — in the last case, before
// any payload byte is consumed.
func (f *Framer) Feed(data []byte) error {
	f.acc = append(f.acc, data...)

	for {
		switch f.stage {
		case stageHeader:
			if len(f.acc) < headerStageBytes {
				return nil
			}
			header := f.acc[0]
			version := header >> 4
			typ := Type(header & 0x0F)
			if version != Version {
				return fmt.Errorf("%w: unsupported version %d", ErrProtocol, version)
			}
			code := binary.LittleEndian.Uint32(f.acc[1:headerStageBytes])

			switch typ {
			case Simple:
				f.parsed = append(f.parsed, Frame{Version: version, Type: Simple, Simple: SimpleCode(code)})
				f.acc = append([]byte(nil), f.acc[headerStageBytes:]...)
			case Structured:
				if code > MaxBytesOnMessage {
					return fmt.Errorf("%w: declared length %d exceeds MaxBytesOnMessage", ErrProtocol, code)
				}
				f.curLen = code
				f.acc = append([]byte(nil), f.acc[headerStageBytes:]...)
				f.stage = stagePayload
			default:
				return fmt.Errorf("%w: unsupported type %d", ErrProtocol, typ)
			}
		case stagePayload:
			if uint32(len(f.acc)) < f.curLen {
				return nil
			}
			payload := append([]byte(nil), f.acc[:f.curLen]...)
			f.parsed = append(f.parsed, Frame{Version: Version, Type: Structured, Payload: payload})
			f.acc = append([]byte(nil), f.acc[f.curLen:]...)
			f.stage = stageHeader
		}
	}
}

// ParsedAvailable reports whether at least one frame is waiting in the
// parsed queue.
func (f *Framer) ParsedAvailable() bool {
	return len(f.parsed) > 0
}

// Parsed pops the oldest parsed frame. It panics if none is available;
// callers must check ParsedAvailable first, matching the factory this
// framer is grounded on.
func (f *Framer) Parsed() Frame {
	frame := f.parsed[0]
	f.parsed = f.parsed[1:]
	return frame
}
