// Package metrics provides lightweight, lock-free counters for tracking
// runtime statistics of a capgate process.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for the gateway.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	bytesIn           atomic.Int64
	bytesOut          atomic.Int64
	framesStored      atomic.Int64
	audioStored       atomic.Int64
	exportsOK         atomic.Int64
	exportsFailed     atomic.Int64
	handoffs          atomic.Int64
	errorsTotal       atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastExport   time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ActiveConnections returns the current number of open connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes of binary payload from clients.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes of exported video sent to clients.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Staging metrics ──────────────────────────────────────────────────

// FrameStored records one persisted image frame.
func (c *Collector) FrameStored() {
	if c == nil {
		return
	}
	c.framesStored.Add(1)
}

// AudioStored records one persisted audio file.
func (c *Collector) AudioStored() {
	if c == nil {
		return
	}
	c.audioStored.Add(1)
}

// FramesStored returns the lifetime frame count.
func (c *Collector) FramesStored() int64 {
	if c == nil {
		return 0
	}
	return c.framesStored.Load()
}

// ── Export / handoff metrics ─────────────────────────────────────────

// ExportFinished records the outcome of one export job.
func (c *Collector) ExportFinished(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.exportsOK.Add(1)
		c.mu.Lock()
		c.lastExport = time.Now()
		c.mu.Unlock()
		return
	}
	c.exportsFailed.Add(1)
}

// Exports returns the succeeded and failed export counts.
func (c *Collector) Exports() (ok, failed int64) {
	if c == nil {
		return 0, 0
	}
	return c.exportsOK.Load(), c.exportsFailed.Load()
}

// HandoffCompleted records one audio transfer between connections.
func (c *Collector) HandoffCompleted() {
	if c == nil {
		return
	}
	c.handoffs.Add(1)
}

// Handoffs returns the number of completed transfers.
func (c *Collector) Handoffs() int64 {
	if c == nil {
		return 0
	}
	return c.handoffs.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  int64  `json:"connections_total"`
	BytesIn           int64  `json:"bytes_in"`
	BytesOut          int64  `json:"bytes_out"`
	FramesStored      int64  `json:"frames_stored"`
	AudioStored       int64  `json:"audio_stored"`
	ExportsOK         int64  `json:"exports_ok"`
	ExportsFailed     int64  `json:"exports_failed"`
	Handoffs          int64  `json:"handoffs"`
	ErrorsTotal       int64  `json:"errors_total"`
	LastExport        string `json:"last_export,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive: c.connectionsActive.Load(),
		ConnectionsTotal:  c.connectionsTotal.Load(),
		BytesIn:           c.bytesIn.Load(),
		BytesOut:          c.bytesOut.Load(),
		FramesStored:      c.framesStored.Load(),
		AudioStored:       c.audioStored.Load(),
		ExportsOK:         c.exportsOK.Load(),
		ExportsFailed:     c.exportsFailed.Load(),
		Handoffs:          c.handoffs.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.lastExport.IsZero() {
		s.LastExport = c.lastExport.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
