// Package sink decides what happens to a binary message.  Each mode
// frame owns one Sink; the connection hands every binary message to
// the sink of the top frame and never looks at the bytes itself.
package sink

import (
	"io"
	"sync"

	gerrors "capgate/internal/errors"
	"capgate/internal/metrics"
	"capgate/internal/staging"
	"capgate/util"
)

// Sink consumes one binary message.
type Sink interface {
	// Accept reads r to EOF.  It returns the number of bytes consumed
	// and the name of the stored artifact, if any.
	Accept(r io.Reader) (Result, error)

	// Kind names the sink in logs ("frames", "audio", "samples", "null").
	Kind() string
}

// Result describes one accepted message.
type Result struct {
	Bytes int64
	Name  string // empty when nothing was persisted
}

// sequence is the part shared by FrameSink and AudioSink: a counter
// starting at 1 that only advances when a file was written completely.
type sequence struct {
	mu      sync.Mutex
	area    *staging.Area
	next    int
	name    func(int) string
	metrics *metrics.Collector
	stored  func(*metrics.Collector)
}

func (s *sequence) accept(r io.Reader) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := s.name(s.next)
	n, err := s.area.WriteFile(name, r)
	s.metrics.BytesReceived(n)
	if err != nil {
		return Result{Bytes: n}, err
	}
	s.next++
	s.stored(s.metrics)
	return Result{Bytes: n, Name: name}, nil
}

// Next returns the index the next stored file will get.
func (s *sequence) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// FrameSink stores each message as f_NNNNNN.<ext>.
type FrameSink struct {
	sequence
	Ext string
}

// NewFrameSink returns a FrameSink writing into area.  ext is "png" or
// "jpg".
func NewFrameSink(area *staging.Area, ext string, m *metrics.Collector) *FrameSink {
	s := &FrameSink{Ext: ext}
	s.sequence = sequence{
		area:    area,
		next:    1,
		name:    func(i int) string { return staging.FrameName(i, ext) },
		metrics: m,
		stored:  (*metrics.Collector).FrameStored,
	}
	return s
}

func (s *FrameSink) Accept(r io.Reader) (Result, error) { return s.accept(r) }
func (s *FrameSink) Kind() string                       { return "frames" }

// AudioSink stores each message as a_NNN.wav.
type AudioSink struct {
	sequence
}

// NewAudioSink returns an AudioSink writing into area.
func NewAudioSink(area *staging.Area, m *metrics.Collector) *AudioSink {
	s := &AudioSink{}
	s.sequence = sequence{
		area:    area,
		next:    1,
		name:    func(i int) string { return staging.AudioName(i, "wav") },
		metrics: m,
		stored:  (*metrics.Collector).AudioStored,
	}
	return s
}

func (s *AudioSink) Accept(r io.Reader) (Result, error) { return s.accept(r) }
func (s *AudioSink) Kind() string                       { return "audio" }

// SampleSink receives raw PCM while capturing audio samples.  Nothing
// is persisted yet; the data is drained so the transport can move on.
type SampleSink struct {
	Metrics *metrics.Collector
}

func (s *SampleSink) Accept(r io.Reader) (Result, error) {
	n, err := util.Copy(io.Discard, r)
	s.Metrics.BytesReceived(n)
	return Result{Bytes: n}, err
}

func (s *SampleSink) Kind() string { return "samples" }

// NullSink is the base frame's sink.  Binary data in command mode has
// nowhere to go; it is drained and reported as discarded.
type NullSink struct{}

func (NullSink) Accept(r io.Reader) (Result, error) {
	n, err := util.Copy(io.Discard, r)
	if err != nil {
		return Result{Bytes: n}, err
	}
	return Result{Bytes: n}, gerrors.ErrDiscarded
}

func (NullSink) Kind() string { return "null" }
