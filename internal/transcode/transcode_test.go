package transcode

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"reflect"
	"strings"
	"testing"
	"time"

	gerrors "capgate/internal/errors"
	"capgate/internal/retry"
)

func TestEncodeArgs(t *testing.T) {
	got := EncodeArgs("/s/client_0000001/f_%06d.png", "/s/client_0000001/out.mp4", Rates{Input: 10, Output: 30})
	want := []string{
		"-y", "-framerate", "10", "-i", "/s/client_0000001/f_%06d.png",
		"-c:v", "libx264", "-r", "30", "-pix_fmt", "yuv420p",
		"/s/client_0000001/out.mp4",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("EncodeArgs =\n%q\nwant\n%q", got, want)
	}
}

func TestMuxArgs(t *testing.T) {
	got := MuxArgs("d/out.mp4", "d/a_001.wav", "d/avout.mp4")
	want := []string{
		"-y", "-i", "d/out.mp4", "-i", "d/a_001.wav",
		"-c:v", "copy", "-c:a", "aac", "-strict", "experimental",
		"d/avout.mp4",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MuxArgs =\n%q\nwant\n%q", got, want)
	}
}

func TestEncodeArgs_PathWithSpaces(t *testing.T) {
	args := EncodeArgs("/my dir/f_%06d.jpg", "/my dir/out.mp4", Rates{10, 30})
	if args[4] != "/my dir/f_%06d.jpg" {
		t.Errorf("pattern split or quoted: %q", args[4])
	}
}

func TestExec_Run(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no sh on PATH")
	}
	e := &Exec{Path: sh}

	if err := e.Run(context.Background(), []string{"-c", "exit 0"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = e.Run(context.Background(), []string{"-c", "echo broken pipe >&2; exit 3"})
	if err == nil || !strings.Contains(err.Error(), "broken pipe") {
		t.Errorf("expected stderr in error, got %v", err)
	}
}

func TestExec_Timeout(t *testing.T) {
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("no sleep on PATH")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = (&Exec{Path: sleep}).Run(ctx, []string{"5"})
	if !errors.Is(Classify(err), gerrors.ErrTimeout) {
		t.Errorf("expected timeout, got %v", err)
	}
}

func TestExec_MissingBinary(t *testing.T) {
	err := (&Exec{Path: "/nonexistent/ffmpeg"}).Run(context.Background(), nil)
	if !errors.Is(Classify(err), gerrors.ErrNoOutput) {
		t.Errorf("expected ErrNoOutput, got %v", err)
	}
}

type failing struct{ calls int }

func (f *failing) Run(context.Context, []string) error {
	f.calls++
	return errors.New("exit status 1")
}

func TestGuarded_FailsFast(t *testing.T) {
	inner := &failing{}
	g := &Guarded{
		Runner:  inner,
		Breaker: retry.NewCircuitBreaker(&retry.CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}),
	}
	for i := 0; i < 2; i++ {
		g.Run(context.Background(), nil) //nolint:errcheck
	}

	err := g.Run(context.Background(), nil)
	if !errors.Is(Classify(err), gerrors.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("tool called %d times, want 2", inner.calls)
	}
}

func TestToolFault(t *testing.T) {
	if sh, err := exec.LookPath("sh"); err == nil {
		exit := (&Exec{Path: sh}).Run(context.Background(), []string{"-c", "echo invalid data >&2; exit 1"})
		if exit == nil || ToolFault(exit) {
			t.Errorf("a non-zero exit is the job's fault, got ToolFault(%v) = true", exit)
		}
	}

	missingAbs := (&Exec{Path: "/nonexistent/ffmpeg"}).Run(context.Background(), nil)
	missingPath := (&Exec{Path: "capgate-no-such-transcoder"}).Run(context.Background(), nil)

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"exit status", errors.New("exec \"ffmpeg\": exit status 1: invalid data"), false},
		{"missing absolute path", missingAbs, true},
		{"missing on PATH", missingPath, true},
		{"deadline", fmt.Errorf("ffmpeg: %w", context.DeadlineExceeded), true},
		{"not found", fmt.Errorf("start: %w", exec.ErrNotFound), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToolFault(tt.err); got != tt.want {
				t.Errorf("ToolFault(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestGuarded_JobFailuresKeepCircuitClosed(t *testing.T) {
	inner := &failing{}
	g := &Guarded{
		Runner: inner,
		Breaker: retry.NewCircuitBreaker(&retry.CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: time.Hour,
			IsFailure:    ToolFault,
		}),
	}
	for i := 0; i < 5; i++ {
		err := g.Run(context.Background(), nil)
		if errors.Is(err, gerrors.ErrCircuitOpen) {
			t.Fatalf("call %d: circuit opened on a job failure", i)
		}
	}
	if inner.calls != 5 {
		t.Errorf("tool called %d times, want 5", inner.calls)
	}
}

func TestClassify_Nil(t *testing.T) {
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}
