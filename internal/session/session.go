// Package session holds the per-connection state machine: a stack of
// mode frames, each carrying its mode, the options it was started with
// and the sink that receives binary messages while it is on top.
//
// The base frame is command mode with a NullSink and can never be
// popped, so a Session always has a mode, a config and a sink.
package session

import (
	"fmt"
	"sync"

	gerrors "capgate/internal/errors"
	"capgate/internal/sink"
)

// Mode names a connection state.
type Mode string

const (
	ModeCommand            Mode = "command"
	ModeAudioUpload        Mode = "audioupload"
	ModeCaptureImageFrames Mode = "captureimageframes"
	ModeCaptureAudio       Mode = "captureaudiosamples"
)

// captureModes lists the modes "begin" can enter, in match order.
var captureModes = []Mode{ModeAudioUpload, ModeCaptureImageFrames, ModeCaptureAudio}

// IsCapture reports whether m is one of the modes entered with begin.
func (m Mode) IsCapture() bool {
	for _, c := range captureModes {
		if m == c {
			return true
		}
	}
	return false
}

// Options are the per-frame settings parsed from a begin command.
// Only the fields relevant to the frame's mode are meaningful.
type Options struct {
	Ext       string // file extension: png/jpg for frames, wav for audio
	Format    string // sample format, "pcm"
	Rate      int    // sample rate in Hz
	Bits      int    // bits per sample
	Mono      bool
	BigEndian bool
}

// DefaultOptions returns the options a mode starts with before any
// -flags are applied.
func DefaultOptions(m Mode) Options {
	switch m {
	case ModeCaptureImageFrames:
		return Options{Ext: "png"}
	case ModeAudioUpload:
		return Options{Ext: "wav"}
	case ModeCaptureAudio:
		return Options{Ext: "pcm", Format: "pcm", Rate: 16000, Bits: 16}
	}
	return Options{}
}

func (o Options) String() string {
	if o.Format == "" {
		return fmt.Sprintf("ext=%s", o.Ext)
	}
	ch, end := "stereo", "le"
	if o.Mono {
		ch = "mono"
	}
	if o.BigEndian {
		end = "be"
	}
	return fmt.Sprintf("format=%s rate=%d bits=%d %s %s", o.Format, o.Rate, o.Bits, ch, end)
}

// Frame is one level of the mode stack.
type Frame struct {
	Mode    Mode
	Options Options
	Sink    sink.Sink
}

// Session is the state of one connection.  It is driven by the
// connection's own goroutine; the accessors may be called from others.
type Session struct {
	ID int

	mu    sync.Mutex
	stack []Frame
}

// New returns a Session for connection id in command mode.
func New(id int) *Session {
	return &Session{
		ID:    id,
		stack: []Frame{{Mode: ModeCommand, Sink: sink.NullSink{}}},
	}
}

// Push enters a new mode on top of the current one.
func (s *Session) Push(f Frame) {
	if f.Sink == nil {
		f.Sink = sink.NullSink{}
	}
	s.mu.Lock()
	s.stack = append(s.stack, f)
	s.mu.Unlock()
}

// Pop leaves the current mode and returns the frame now on top.  The
// base frame is never removed; popping it returns ErrBaseMode.
func (s *Session) Pop() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 1 {
		return s.stack[0], gerrors.ErrBaseMode
	}
	s.stack[len(s.stack)-1] = Frame{}
	s.stack = s.stack[:len(s.stack)-1]
	return s.stack[len(s.stack)-1], nil
}

func (s *Session) top() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stack[len(s.stack)-1]
}

// Mode returns the current mode.
func (s *Session) Mode() Mode { return s.top().Mode }

// Config returns the options of the current mode.
func (s *Session) Config() Options { return s.top().Options }

// Sink returns the sink for the next binary message.
func (s *Session) Sink() sink.Sink { return s.top().Sink }

// Depth returns the number of frames, including the base.
func (s *Session) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stack)
}
