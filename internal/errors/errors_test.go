package errors

import (
	"fmt"
	"io"
	"os"
	"testing"
)

func TestStorageError_Format(t *testing.T) {
	err := &StorageError{Op: "write", Path: "client_0000001/f_000001.png", Err: io.ErrShortWrite}
	want := "storage write client_0000001/f_000001.png: short write"
	if got := err.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestStorageError_Unwrap(t *testing.T) {
	err := Storage("rename", "a_001.wav", os.ErrNotExist)
	if !Is(err, os.ErrNotExist) {
		t.Error("should unwrap to os.ErrNotExist")
	}
	if !IsStorage(err) {
		t.Error("IsStorage should be true")
	}
	if !IsNotExist(err) {
		t.Error("IsNotExist should be true")
	}
}

func TestConstructors_NilPassThrough(t *testing.T) {
	if Storage("write", "x", nil) != nil {
		t.Error("Storage(nil) should be nil")
	}
	if Transcode("encode", nil) != nil {
		t.Error("Transcode(nil) should be nil")
	}
}

func TestTranscodeError_Format(t *testing.T) {
	err := Transcode("encode", fmt.Errorf("exit status 1"))
	want := "transcode encode: exit status 1"
	if got := err.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestConfigError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  ConfigError
		want string
	}{
		{
			name: "with value and hint",
			err: ConfigError{
				Field:   "port",
				Value:   99999,
				Message: "out of range 1-65535",
				Hint:    "omit the flag to listen on 8080",
			},
			want: "config: --port=99999: out of range 1-65535\n  hint: omit the flag to listen on 8080",
		},
		{
			name: "missing value no hint",
			err: ConfigError{
				Field:   "staging-root",
				Message: "must not be empty",
			},
			want: "config: --staging-root: must not be empty",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got:\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}

func TestClientMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"no frames", Transcode("probe", ErrNoFrames), "transcode error: no image frames found"},
		{"no output wrapped", Transcode("encode", fmt.Errorf("out.mp4: %w", ErrNoOutput)), "transcode error: no output"},
		{"breaker", Transcode("encode", ErrCircuitOpen), "transcode error: transcoder unavailable"},
		{"protocol", Protocol("end", ErrBaseMode), "error: already in command mode"},
		{"storage", Storage("write", "/srv/staging/client_0000001/f_000001.png", io.ErrShortWrite), "error: storage failure"},
		{"staging missing", Storage("create", "/srv/staging/client_0000001/a_001.wav", fmt.Errorf("%w: %w", ErrStagingNotCreated, os.ErrNotExist)), "error: staging area not created"},
		{"transcode storage", Transcode("prepare", Storage("remove", "/srv/staging/client_0000001/out.mp4", os.ErrPermission)), "transcode error: storage failure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClientMessage(tt.err); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBrief_HidesPaths(t *testing.T) {
	err := fmt.Errorf("handoff 1 -> 2: %w", Storage("rename", "/srv/staging/client_0000001/a_001.wav", os.ErrPermission))
	got := Brief(err)
	if got != "storage failure" {
		t.Errorf("Brief = %q", got)
	}
	if Brief(ErrNoAudio) != "no staged audio" {
		t.Errorf("Brief(ErrNoAudio) = %q", Brief(ErrNoAudio))
	}
}

func TestIsProtocol(t *testing.T) {
	if !IsProtocol(Protocol("begin nothing", ErrUnknownMode)) {
		t.Error("expected protocol error")
	}
	if IsProtocol(fmt.Errorf("boom")) {
		t.Error("plain error is not a protocol error")
	}
}

func TestSentinels(t *testing.T) {
	// Verify sentinel errors are distinct.
	sentinels := []error{
		ErrBaseMode, ErrUnknownMode, ErrUnknownCommand, ErrBadPeer,
		ErrDiscarded, ErrNoFrames, ErrNoOutput, ErrNoAudio,
		ErrCircuitOpen, ErrTimeout, ErrConnectionClosed, ErrNotifyBacklog,
		ErrStagingNotCreated,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && Is(a, b) {
				t.Errorf("sentinel %d and %d should not match", i, j)
			}
		}
	}
}
