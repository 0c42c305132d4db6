// Package transcode drives the external transcoder (ffmpeg).  Commands
// are built as argument vectors and started directly, never through a
// shell, so staging paths are passed verbatim.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strconv"
	"strings"

	gerrors "capgate/internal/errors"
	"capgate/internal/retry"
	"capgate/util"
)

// Runner runs the transcoder with the given arguments.  It blocks until
// the tool exits or ctx is done.
type Runner interface {
	Run(ctx context.Context, args []string) error
}

// Exec runs a binary found at Path (or on $PATH).
type Exec struct {
	Path   string
	Logger *util.Logger
}

// stderrTail bounds how much of the tool's stderr ends up in an error.
const stderrTail = 512

// Run starts the tool and waits for it.  A non-zero exit is returned
// with the tail of the tool's stderr.
func (e *Exec) Run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, e.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if e.Logger != nil {
		e.Logger.Debug("exec: %s", cmd.String())
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", e.Path, ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > stderrTail {
			msg = "..." + msg[len(msg)-stderrTail:]
		}
		if msg != "" {
			return fmt.Errorf("exec %q: %w: %s", e.Path, err, msg)
		}
		return fmt.Errorf("exec %q: %w", e.Path, err)
	}
	return nil
}

// Guarded wraps a Runner with a circuit breaker: after repeated
// consecutive failures calls fail fast with ErrCircuitOpen until the
// breaker's reset timeout has passed.
type Guarded struct {
	Runner  Runner
	Breaker *retry.CircuitBreaker
}

func (g *Guarded) Run(ctx context.Context, args []string) error {
	return g.Breaker.Execute(ctx, func(ctx context.Context) error {
		return g.Runner.Run(ctx, args)
	})
}

// ToolFault reports whether err means the transcoder could not run at
// all or hung, as opposed to rejecting the input of one job.  Only
// these errors should count against a breaker shared by every
// connection.
func ToolFault(err error) bool {
	var execErr *exec.Error
	var pathErr *fs.PathError
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, exec.ErrNotFound):
		return true
	case errors.As(err, &execErr), errors.As(err, &pathErr):
		return true
	}
	return false
}

// Rates are the frame rates used to encode an image sequence.
type Rates struct {
	Input  int // frames per second of the captured sequence
	Output int // frames per second of the encoded video
}

// EncodeArgs builds the command that turns the image sequence matched
// by pattern into an H.264 video at out.
func EncodeArgs(pattern, out string, r Rates) []string {
	return []string{
		"-y",
		"-framerate", strconv.Itoa(r.Input),
		"-i", pattern,
		"-c:v", "libx264",
		"-r", strconv.Itoa(r.Output),
		"-pix_fmt", "yuv420p",
		out,
	}
}

// MuxArgs builds the command that adds audio to video, copying the
// video stream and encoding the audio as AAC.
func MuxArgs(video, audio, out string) []string {
	return []string{
		"-y",
		"-i", video,
		"-i", audio,
		"-c:v", "copy",
		"-c:a", "aac",
		"-strict", "experimental",
		out,
	}
}

// Classify maps a Runner error onto the sentinel clients are told
// about: ErrTimeout for an expired deadline, ErrCircuitOpen as is, and
// ErrNoOutput for everything else.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", gerrors.ErrTimeout, err)
	case errors.Is(err, gerrors.ErrCircuitOpen):
		return err
	default:
		return fmt.Errorf("%w: %v", gerrors.ErrNoOutput, err)
	}
}
