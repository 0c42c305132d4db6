package core

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	gerrors "capgate/internal/errors"
	"capgate/internal/export"
	"capgate/internal/handoff"
	"capgate/internal/metrics"
	"capgate/internal/registry"
	"capgate/internal/session"
	"capgate/internal/sink"
	"capgate/internal/staging"
	"capgate/internal/transport"
	"capgate/util"
)

// Conn is the connection a Handler serves.  *transport.Conn
// implements it.
type Conn interface {
	NextMessage() (transport.MessageType, io.Reader, error)
	SendText(msg string) error
	Notify(msg string) error
	SendStream(r io.Reader, timeout time.Duration) (int64, error)
	RemoteAddr() string
}

// Handler runs the command protocol for one connection at a time;
// it is shared by all connections.
type Handler struct {
	Root     *staging.Root
	Registry *registry.Registry
	Handoff  *handoff.Coordinator
	Exporter *export.Exporter
	Metrics  *metrics.Collector
	Logger   *util.Logger

	// DestroyTimeout bounds removal of a staging area on disconnect.
	DestroyTimeout time.Duration
}

// client is the per-connection state a Handler threads through its
// helpers.
type client struct {
	id   int
	sess *session.Session
	area *staging.Area
	conn Conn
	log  *util.Logger
}

func (c *client) reply(msg string) {
	if err := c.conn.SendText(msg); err != nil {
		c.log.Debug("send %q: %v", msg, err)
	}
}

// Serve assigns conn an id and a staging area, then processes its
// messages in arrival order until the connection ends.  Everything the
// connection owned is released before Serve returns.
func (h *Handler) Serve(ctx context.Context, conn Conn) {
	id := h.Registry.NextID()
	log := h.Logger.With(strconv.Itoa(id))

	area, err := h.Root.Create(id)
	if err != nil {
		log.Error("%v", err)
		h.Metrics.RecordError(err.Error())
		conn.SendText(gerrors.ClientMessage(err)) //nolint:errcheck
		return
	}

	c := &client{id: id, sess: session.New(id), area: area, conn: conn, log: log}
	h.Registry.Register(&registry.Entry{Session: c.sess, Area: area, Conn: conn})
	h.Metrics.ConnectionOpened()
	defer h.release(c)

	h.Logger.Info("connected client %d from %s, with folder %s, mode %s", id, conn.RemoteAddr(), staging.DirName(id), c.sess.Mode())

	if err := conn.SendText(strconv.Itoa(id)); err != nil {
		log.Debug("send id: %v", err)
		return
	}

	for {
		typ, r, err := conn.NextMessage()
		if err != nil {
			if transport.IsClosed(err) {
				log.Info("closed connection")
			} else {
				log.Warn("read: %v", err)
			}
			return
		}

		switch typ {
		case transport.Binary:
			h.binary(c, r)
		case transport.Text:
			data, err := io.ReadAll(r)
			if err != nil {
				log.Warn("read command: %v", err)
				return
			}
			h.command(ctx, c, string(data))
		}
	}
}

func (h *Handler) release(c *client) {
	dropped := h.Handoff.Forget(c.id)
	h.Registry.Remove(c.id)
	h.Metrics.ConnectionClosed()

	timeout := h.DestroyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.area.Destroy(ctx); err != nil {
		c.log.Warn("%v", err)
		h.Metrics.RecordError(err.Error())
		return
	}
	if dropped > 0 {
		c.log.Verbose("dropped %d pending handoffs", dropped)
	}
	c.log.Info("deleted %s/", staging.DirName(c.id))
}

// binary hands one binary message to the sink of the current mode.
func (h *Handler) binary(c *client, r io.Reader) {
	s := c.sess.Sink()
	res, err := s.Accept(r)
	switch {
	case gerrors.Is(err, gerrors.ErrDiscarded):
		h.Metrics.BytesReceived(res.Bytes)
		c.log.Verbose("discarded %d bytes of binary data in %s mode", res.Bytes, c.sess.Mode())
	case err != nil:
		c.log.Warn("%s sink: %v", s.Kind(), err)
		h.Metrics.RecordError(err.Error())
		c.reply(gerrors.ClientMessage(err))
	case res.Name != "":
		c.log.Debug("stored %s (%d bytes)", res.Name, res.Bytes)
	}
}

// command runs one text message.  Protocol errors are logged and
// otherwise ignored, as are verbs the current mode does not accept.
func (h *Handler) command(ctx context.Context, c *client, text string) {
	c.log.Info("%s", text)

	cmd, err := session.ParseCommand(text)
	if err != nil {
		c.log.Warn("%v", err)
		return
	}
	mode := c.sess.Mode()
	if !session.Allowed(mode, cmd.Verb) {
		c.log.Verbose("ignored %q in %s mode", text, mode)
		return
	}

	switch cmd.Verb {
	case session.VerbBegin:
		c.sess.Push(session.Frame{Mode: cmd.Mode, Options: cmd.Options, Sink: h.newSink(c.area, cmd)})
		c.log.Info("mode: %s (%s)", cmd.Mode, cmd.Options)
		c.reply("mode: " + string(cmd.Mode))

	case session.VerbEnd:
		f, err := c.sess.Pop()
		if err != nil {
			perr := gerrors.Protocol(text, err)
			c.log.Warn("%v", perr)
			c.reply(gerrors.ClientMessage(perr))
			return
		}
		c.log.Info("mode: %s", f.Mode)
		c.reply("mode: " + string(f.Mode))

	case session.VerbExport:
		if _, err := h.Exporter.Export(ctx, c.area, c.conn); err != nil {
			c.reply(gerrors.ClientMessage(err))
		}

	case session.VerbGive, session.VerbAccept:
		h.handoff(c, cmd)

	case session.VerbPending:
		lines := h.Handoff.Pending(c.id)
		if len(lines) == 0 {
			c.reply("no pending handoffs")
			return
		}
		c.reply(strings.Join(lines, "\n"))
	}
}

func (h *Handler) handoff(c *client, cmd session.Command) {
	if cmd.Peer == c.id {
		c.log.Warn("%v", gerrors.Protocol(cmd.Raw, fmt.Errorf("%w: cannot hand off to self", gerrors.ErrBadPeer)))
		return
	}

	var err error
	if cmd.Verb == session.VerbGive {
		c.reply(fmt.Sprintf("%d: gives audio to %d", c.id, cmd.Peer))
		_, err = h.Handoff.Give(c.id, cmd.Peer)
	} else {
		c.reply(fmt.Sprintf("%d: accepts audio from %d", c.id, cmd.Peer))
		_, err = h.Handoff.Accept(c.id, cmd.Peer)
	}
	if err != nil {
		// Both sides have already been told.
		c.log.Verbose("handoff: %v", err)
	}
}

func (h *Handler) newSink(area *staging.Area, cmd session.Command) sink.Sink {
	switch cmd.Mode {
	case session.ModeCaptureImageFrames:
		return sink.NewFrameSink(area, cmd.Options.Ext, h.Metrics)
	case session.ModeAudioUpload:
		return sink.NewAudioSink(area, h.Metrics)
	case session.ModeCaptureAudio:
		return &sink.SampleSink{Metrics: h.Metrics}
	}
	return sink.NullSink{}
}
