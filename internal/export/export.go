// Package export turns a connection's staged frames (and audio, when
// present) into one mp4 and sends it back over the connection.
package export

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	gerrors "capgate/internal/errors"
	"capgate/internal/metrics"
	"capgate/internal/staging"
	"capgate/internal/transcode"
	"capgate/util"
)

// Progress messages.  Clients match on these strings verbatim,
// including the spelling of the first one.
const (
	MsgBegin        = "begining transcode"
	MsgDetectedPNG  = "transcoder detected png list"
	MsgDetectedJPG  = "transcoder detected jpg list"
	MsgEncoded      = "..."
	MsgWithAudio    = "finished transcode"
	MsgWithoutAudio = "finished transcode without audio"
)

// Client is the connection an export reports to.
type Client interface {
	SendText(msg string) error
	SendStream(r io.Reader, timeout time.Duration) (int64, error)
}

// Exporter runs export jobs.  One Exporter is shared by all connections;
// a job only touches the area it is given.
type Exporter struct {
	Runner  transcode.Runner
	Timeout time.Duration // per transcoder invocation and for delivery
	Rates   transcode.Rates
	Logger  *util.Logger
	Metrics *metrics.Collector
}

// Result describes a delivered export.
type Result struct {
	JobID    string
	Format   string // "png" or "jpg"
	Audio    bool
	Artifact string // staged file name that was sent
	Bytes    int64
	Digest   string // BLAKE3 of the delivered bytes, hex
	Purged   int
	Elapsed  time.Duration
}

// Export runs one job against area, reporting progress to c.  On
// success the area is emptied; on failure it is left as it was, minus
// any stale outputs, so the client can retry.
func (e *Exporter) Export(ctx context.Context, area *staging.Area, c Client) (*Result, error) {
	start := time.Now()
	res := &Result{JobID: uuid.NewString()}
	log := e.logger().With("export " + res.JobID[:8])

	err := e.run(ctx, area, c, res, log)
	e.Metrics.ExportFinished(err == nil)
	if err != nil {
		e.Metrics.RecordError(err.Error())
		log.Warn("%v", err)
		return nil, err
	}
	res.Elapsed = time.Since(start)
	log.Info("delivered %s (%d bytes, blake3 %s) in %s", res.Artifact, res.Bytes, res.Digest[:16], res.Elapsed.Truncate(time.Millisecond))
	return res, nil
}

func (e *Exporter) run(ctx context.Context, area *staging.Area, c Client, res *Result, log *util.Logger) error {
	if err := c.SendText(MsgBegin); err != nil {
		return err
	}

	for _, stale := range []string{staging.VideoOut, staging.MuxOut} {
		if err := area.Remove(stale); err != nil {
			return gerrors.Transcode("prepare", err)
		}
	}

	format, err := probeFrames(area)
	if err != nil {
		return err
	}
	res.Format = format
	msg := MsgDetectedPNG
	if format == "jpg" {
		msg = MsgDetectedJPG
	}
	if err := c.SendText(msg); err != nil {
		return err
	}

	video := area.Path(staging.VideoOut)
	args := transcode.EncodeArgs(area.Path(staging.FramePattern(format)), video, e.Rates)
	if err := e.invoke(ctx, "encode", args, area, staging.VideoOut); err != nil {
		return err
	}
	if err := c.SendText(MsgEncoded); err != nil {
		return err
	}

	res.Artifact = staging.VideoOut
	res.Audio, err = area.Exists(staging.AudioFile)
	if err != nil {
		return gerrors.Transcode("probe", err)
	}
	if !res.Audio {
		if err := c.SendText(MsgWithoutAudio); err != nil {
			return err
		}
	} else {
		if err := c.SendText(MsgWithAudio); err != nil {
			return err
		}
		args := transcode.MuxArgs(video, area.Path(staging.AudioFile), area.Path(staging.MuxOut))
		if err := e.invoke(ctx, "mux", args, area, staging.MuxOut); err != nil {
			return err
		}
		res.Artifact = staging.MuxOut
	}

	if err := e.deliver(area, c, res); err != nil {
		return err
	}

	res.Purged, err = area.Purge()
	if err != nil {
		// Delivered already; a stale file is not the client's problem.
		log.Warn("purge after delivery: %v", err)
	}
	return nil
}

// probeFrames picks the image format from the first frame on disk,
// preferring png.
func probeFrames(area *staging.Area) (string, error) {
	for _, ext := range []string{"png", "jpg"} {
		ok, err := area.Exists(staging.FrameName(1, ext))
		if err != nil {
			return "", gerrors.Transcode("probe", err)
		}
		if ok {
			return ext, nil
		}
	}
	return "", gerrors.Transcode("probe", gerrors.ErrNoFrames)
}

// invoke runs the transcoder once under the export timeout and checks
// that it left output behind.
func (e *Exporter) invoke(ctx context.Context, stage string, args []string, area *staging.Area, output string) error {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	if err := e.Runner.Run(ctx, args); err != nil {
		return gerrors.Transcode(stage, transcode.Classify(err))
	}
	ok, err := area.Exists(output)
	if err != nil {
		return gerrors.Transcode(stage, err)
	}
	if !ok {
		return gerrors.Transcode(stage, gerrors.ErrNoOutput)
	}
	return nil
}

func (e *Exporter) deliver(area *staging.Area, c Client, res *Result) error {
	f, err := area.Open(res.Artifact)
	if err != nil {
		return gerrors.Transcode("deliver", fmt.Errorf("%w: %v", gerrors.ErrNoOutput, err))
	}
	defer f.Close()

	h := blake3.New()
	n, err := c.SendStream(io.TeeReader(f, h), e.Timeout)
	res.Bytes = n
	if err != nil {
		return fmt.Errorf("send %s: %w", res.Artifact, err)
	}
	e.Metrics.BytesSent(n)
	res.Digest = hex.EncodeToString(h.Sum(nil))
	return nil
}

func (e *Exporter) logger() *util.Logger {
	if e.Logger == nil {
		return util.NewLogger(0)
	}
	return e.Logger
}
