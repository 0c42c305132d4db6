package session

import (
	"errors"
	"testing"

	gerrors "capgate/internal/errors"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text string
		verb Verb
		mode Mode
		opts Options
		peer int
	}{
		{"end", VerbEnd, "", Options{}, 0},
		{"export", VerbExport, "", Options{}, 0},
		{"export -fmt mp4", VerbExport, "", Options{}, 0},
		{"pending handoffs", VerbPending, "", Options{}, 0},
		{"give audio to 3", VerbGive, "", Options{}, 3},
		{"give audio to   12  ", VerbGive, "", Options{}, 12},
		{"accept audio from 0", VerbAccept, "", Options{}, 0},
		{"begin audioupload", VerbBegin, ModeAudioUpload, Options{Ext: "wav"}, 0},
		{"begin captureimageframes", VerbBegin, ModeCaptureImageFrames, Options{Ext: "png"}, 0},
		{"begin captureimageframes -mime jpg", VerbBegin, ModeCaptureImageFrames, Options{Ext: "jpg"}, 0},
		{"begin captureimageframes -mime gif", VerbBegin, ModeCaptureImageFrames, Options{Ext: "png"}, 0},
		{"begin captureimageframes -fps 10 -mime jpg", VerbBegin, ModeCaptureImageFrames, Options{Ext: "jpg"}, 0},
		{"begin captureaudiosamples", VerbBegin, ModeCaptureAudio,
			Options{Ext: "pcm", Format: "pcm", Rate: 16000, Bits: 16}, 0},
		{"begin captureaudiosamples -f pcm -r 44100 -b 24 -mono -be", VerbBegin, ModeCaptureAudio,
			Options{Ext: "pcm", Format: "pcm", Rate: 44100, Bits: 24, Mono: true, BigEndian: true}, 0},
		{"begin captureaudiosamples -r fast -b -1 -stereo -le", VerbBegin, ModeCaptureAudio,
			Options{Ext: "pcm", Format: "pcm", Rate: 16000, Bits: 16}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			cmd, err := ParseCommand(tt.text)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cmd.Verb != tt.verb {
				t.Errorf("Verb = %s, want %s", cmd.Verb, tt.verb)
			}
			if cmd.Mode != tt.mode {
				t.Errorf("Mode = %q, want %q", cmd.Mode, tt.mode)
			}
			if cmd.Options != tt.opts {
				t.Errorf("Options = %+v, want %+v", cmd.Options, tt.opts)
			}
			if cmd.Peer != tt.peer {
				t.Errorf("Peer = %d, want %d", cmd.Peer, tt.peer)
			}
		})
	}
}

func TestParseCommand_Errors(t *testing.T) {
	tests := []struct {
		text string
		want error
	}{
		{"hello", gerrors.ErrUnknownCommand},
		{"End", gerrors.ErrUnknownCommand},
		{"end now", gerrors.ErrUnknownCommand},
		{"", gerrors.ErrUnknownCommand},
		{"begin videostream", gerrors.ErrUnknownMode},
		{"give audio to bob", gerrors.ErrBadPeer},
		{"give audio to", gerrors.ErrBadPeer},
		{"accept audio from -4", gerrors.ErrBadPeer},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			_, err := ParseCommand(tt.text)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !gerrors.IsProtocol(err) {
				t.Errorf("expected a ProtocolError, got %T", err)
			}
		})
	}
}

func TestAllowed(t *testing.T) {
	tests := []struct {
		mode Mode
		verb Verb
		want bool
	}{
		{ModeCommand, VerbExport, true},
		{ModeCommand, VerbGive, true},
		{ModeCommand, VerbBegin, true},
		{ModeCommand, VerbEnd, true},
		{ModeCaptureImageFrames, VerbBegin, true},
		{ModeCaptureImageFrames, VerbEnd, true},
		{ModeCaptureImageFrames, VerbExport, false},
		{ModeAudioUpload, VerbAccept, false},
		{ModeCaptureAudio, VerbPending, false},
	}
	for _, tt := range tests {
		if got := Allowed(tt.mode, tt.verb); got != tt.want {
			t.Errorf("Allowed(%s, %s) = %v, want %v", tt.mode, tt.verb, got, tt.want)
		}
	}
}
