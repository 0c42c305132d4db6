// Package handoff moves a staged audio file from one connection to
// another once both sides have agreed: the giver with "give audio to
// <id>" and the acceptor with "accept audio from <id>", in either order.
package handoff

import (
	"fmt"
	"sort"
	"sync"
	"time"

	gerrors "capgate/internal/errors"
	"capgate/internal/metrics"
	"capgate/internal/registry"
	"capgate/internal/staging"
	"capgate/util"
)

// pair is an ordered (giver, acceptor) couple.
type pair struct {
	giver, acceptor int
}

// consent holds the two halves of an agreement.
type consent struct {
	gives   bool
	accepts bool
	since   time.Time
}

// Coordinator records consents and runs transfers.  All consent state
// lives under one mutex; a record is deleted in the same critical
// section that sees it complete, so each agreement transfers once.
type Coordinator struct {
	Root     *staging.Root
	Registry *registry.Registry
	Metrics  *metrics.Collector
	Logger   *util.Logger
	TTL      time.Duration // zero keeps consents until disconnect

	mu    sync.Mutex
	pairs map[pair]*consent
	now   func() time.Time
}

// New returns a Coordinator moving files between areas under root.
func New(root *staging.Root, reg *registry.Registry, ttl time.Duration) *Coordinator {
	return &Coordinator{
		Root:     root,
		Registry: reg,
		TTL:      ttl,
		Logger:   util.NewLogger(0),
		pairs:    make(map[pair]*consent),
		now:      time.Now,
	}
}

// Give records that giver offers its audio to acceptor.  It reports
// whether this completed an agreement; the transfer has then already
// run and both sides have been notified.
func (c *Coordinator) Give(giver, acceptor int) (bool, error) {
	return c.record(pair{giver, acceptor}, func(s *consent) { s.gives = true })
}

// Accept records that acceptor takes the audio of giver.
func (c *Coordinator) Accept(acceptor, giver int) (bool, error) {
	return c.record(pair{giver, acceptor}, func(s *consent) { s.accepts = true })
}

func (c *Coordinator) record(p pair, set func(*consent)) (bool, error) {
	c.mu.Lock()
	c.expireLocked()
	s, ok := c.pairs[p]
	if !ok {
		s = &consent{since: c.now()}
		c.pairs[p] = s
	}
	set(s)
	complete := s.gives && s.accepts
	if complete {
		delete(c.pairs, p)
	}
	c.mu.Unlock()

	if !complete {
		return false, nil
	}
	return true, c.transfer(p)
}

// transfer moves the giver's a_001.wav into the acceptor's area and
// tells both clients how it went.
func (c *Coordinator) transfer(p pair) error {
	from, to := c.area(p.giver), c.area(p.acceptor)

	err := staging.Move(from, to, staging.AudioFile)
	if err != nil {
		if gerrors.IsNotExist(err) {
			err = fmt.Errorf("%w: %v", gerrors.ErrNoAudio, err)
		}
		c.Logger.Warn("handoff %d -> %d: %v", p.giver, p.acceptor, err)
		c.Metrics.RecordError(err.Error())
		msg := "handoff error: " + gerrors.ErrNoAudio.Error()
		if !gerrors.Is(err, gerrors.ErrNoAudio) {
			msg = "handoff error: " + gerrors.Brief(err)
		}
		c.notify(p.acceptor, msg)
		c.notify(p.giver, msg)
		return err
	}

	c.Metrics.HandoffCompleted()
	c.Logger.Info("handoff: %d gave audio to %d", p.giver, p.acceptor)
	c.notify(p.acceptor, fmt.Sprintf("%d: %d gave audio", p.acceptor, p.giver))
	c.notify(p.giver, fmt.Sprintf("%d: %d accepted audio", p.giver, p.acceptor))
	return nil
}

func (c *Coordinator) area(id int) *staging.Area {
	if c.Registry != nil {
		if e, ok := c.Registry.Lookup(id); ok && e.Area != nil {
			return e.Area
		}
	}
	return c.Root.Area(id)
}

func (c *Coordinator) notify(id int, msg string) {
	if c.Registry == nil {
		return
	}
	e, ok := c.Registry.Lookup(id)
	if !ok || e.Conn == nil {
		return
	}
	if err := e.Conn.Notify(msg); err != nil {
		if gerrors.Is(err, gerrors.ErrNotifyBacklog) {
			c.Logger.Warn("handoff notify %d: dropped %q: %v", id, msg, err)
			return
		}
		c.Logger.Debug("handoff notify %d: %v", id, err)
	}
}

// Pending lists, one line per consent, the unmatched agreements that
// involve id, oldest first.
func (c *Coordinator) Pending(id int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()

	type line struct {
		since time.Time
		text  string
	}
	var lines []line
	for p, s := range c.pairs {
		if p.giver != id && p.acceptor != id {
			continue
		}
		if s.gives {
			lines = append(lines, line{s.since, fmt.Sprintf("%d: gives audio to %d", p.giver, p.acceptor)})
		}
		if s.accepts {
			lines = append(lines, line{s.since, fmt.Sprintf("%d: accepts audio from %d", p.acceptor, p.giver)})
		}
	}
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].since.Equal(lines[j].since) {
			return lines[i].text < lines[j].text
		}
		return lines[i].since.Before(lines[j].since)
	})

	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.text
	}
	return out
}

// Forget drops every consent involving id.  Called on disconnect.
func (c *Coordinator) Forget(id int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for p := range c.pairs {
		if p.giver == id || p.acceptor == id {
			delete(c.pairs, p)
			n++
		}
	}
	return n
}

// Len returns the number of unmatched agreements.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	return len(c.pairs)
}

func (c *Coordinator) expireLocked() {
	if c.TTL <= 0 {
		return
	}
	cutoff := c.now().Add(-c.TTL)
	for p, s := range c.pairs {
		if s.since.Before(cutoff) {
			c.Logger.Verbose("handoff %d -> %d expired", p.giver, p.acceptor)
			delete(c.pairs, p)
		}
	}
}
