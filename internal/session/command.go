package session

import (
	"fmt"
	"strconv"
	"strings"

	gerrors "capgate/internal/errors"
)

// Verb identifies a text command.
type Verb int

const (
	VerbUnknown Verb = iota
	VerbBegin
	VerbEnd
	VerbExport
	VerbGive
	VerbAccept
	VerbPending
)

var verbNames = map[Verb]string{
	VerbUnknown: "unknown",
	VerbBegin:   "begin",
	VerbEnd:     "end",
	VerbExport:  "export",
	VerbGive:    "give",
	VerbAccept:  "accept",
	VerbPending: "pending",
}

func (v Verb) String() string { return verbNames[v] }

// Command prefixes.  Matching is by prefix and case-sensitive.
const (
	prefixBegin   = "begin "
	prefixGive    = "give audio to"
	prefixAccept  = "accept audio from"
	prefixExport  = "export"
	prefixPending = "pending handoffs"
	wordEnd       = "end"
)

// Command is a parsed text message.
type Command struct {
	Verb    Verb
	Mode    Mode    // VerbBegin
	Options Options // VerbBegin
	Peer    int     // VerbGive, VerbAccept
	Raw     string
}

// ParseCommand parses one text message.  Unrecognised text yields a
// ProtocolError wrapping ErrUnknownCommand, a begin with an unknown mode
// ErrUnknownMode, and a give/accept without a usable id ErrBadPeer.
func ParseCommand(text string) (Command, error) {
	cmd := Command{Raw: text}

	switch {
	case text == wordEnd:
		cmd.Verb = VerbEnd

	case strings.HasPrefix(text, prefixBegin):
		cmd.Verb = VerbBegin
		rest := text[len(prefixBegin):]
		for _, m := range captureModes {
			if strings.HasPrefix(rest, string(m)) {
				cmd.Mode = m
				break
			}
		}
		if cmd.Mode == "" {
			return cmd, gerrors.Protocol(text, gerrors.ErrUnknownMode)
		}
		cmd.Options = parseOptions(cmd.Mode, text)

	case strings.HasPrefix(text, prefixExport):
		cmd.Verb = VerbExport

	case strings.HasPrefix(text, prefixGive):
		cmd.Verb = VerbGive
		peer, err := parsePeer(text[len(prefixGive):])
		if err != nil {
			return cmd, gerrors.Protocol(text, err)
		}
		cmd.Peer = peer

	case strings.HasPrefix(text, prefixAccept):
		cmd.Verb = VerbAccept
		peer, err := parsePeer(text[len(prefixAccept):])
		if err != nil {
			return cmd, gerrors.Protocol(text, err)
		}
		cmd.Peer = peer

	case strings.HasPrefix(text, prefixPending):
		cmd.Verb = VerbPending

	default:
		return cmd, gerrors.Protocol(text, gerrors.ErrUnknownCommand)
	}
	return cmd, nil
}

func parsePeer(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: %q", gerrors.ErrBadPeer, strings.TrimSpace(s))
	}
	return id, nil
}

// parseOptions applies the " -name value" flags of a begin command to
// the mode's defaults.  Unknown flags and invalid values are ignored.
func parseOptions(m Mode, text string) Options {
	opts := DefaultOptions(m)
	parts := strings.Split(text, " -")
	for _, p := range parts[1:] {
		f := strings.Fields(p)
		if len(f) == 0 {
			continue
		}
		switch m {
		case ModeCaptureImageFrames:
			if f[0] == "mime" && len(f) == 2 && (f[1] == "png" || f[1] == "jpg") {
				opts.Ext = f[1]
			}
		case ModeCaptureAudio:
			applySampleOption(&opts, f)
		}
	}
	return opts
}

func applySampleOption(opts *Options, f []string) {
	switch f[0] {
	case "stereo":
		opts.Mono = false
	case "mono":
		opts.Mono = true
	case "le":
		opts.BigEndian = false
	case "be":
		opts.BigEndian = true
	case "f":
		if len(f) == 2 && f[1] == "pcm" {
			opts.Format, opts.Ext = f[1], f[1]
		}
	case "r", "b":
		if len(f) != 2 {
			return
		}
		n, err := strconv.Atoi(f[1])
		if err != nil || n <= 0 {
			return
		}
		if f[0] == "r" {
			opts.Rate = n
		} else {
			opts.Bits = n
		}
	}
}

// Allowed reports whether v may run in mode m.  Capture modes only
// understand begin and end; everything else needs command mode.
func Allowed(m Mode, v Verb) bool {
	if v == VerbBegin || v == VerbEnd {
		return true
	}
	return m == ModeCommand
}
