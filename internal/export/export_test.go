package export

import (
	"context"
	"errors"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	gerrors "capgate/internal/errors"
	"capgate/internal/metrics"
	"capgate/internal/staging"
	"capgate/internal/transcode"
)

// fakeTool writes a marker file at the output path (the last argument)
// instead of transcoding.
type fakeTool struct {
	mu    sync.Mutex
	calls [][]string
	fail  map[string]bool // stage name -> fail ("encode" or "mux")
	noOut bool
	block bool
}

func (f *fakeTool) Run(ctx context.Context, args []string) error {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()

	stage := "encode"
	if strings.HasSuffix(args[len(args)-1], staging.MuxOut) {
		stage = "mux"
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.fail[stage] {
		return errors.New("exit status 1")
	}
	if f.noOut {
		return nil
	}
	return os.WriteFile(args[len(args)-1], []byte(stage+" output"), 0o644)
}

// client records everything the export sends.
type client struct {
	texts  []string
	blobs  [][]byte
	broken bool
}

func (c *client) SendText(msg string) error {
	c.texts = append(c.texts, msg)
	return nil
}

func (c *client) SendStream(r io.Reader, _ time.Duration) (int64, error) {
	if c.broken {
		return 0, errors.New("broken pipe")
	}
	data, err := io.ReadAll(r)
	c.blobs = append(c.blobs, data)
	return int64(len(data)), err
}

func setup(t *testing.T, tool *fakeTool) (*Exporter, *staging.Area, *metrics.Collector) {
	t.Helper()
	root, err := staging.NewRoot(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	area, err := root.Create(1)
	if err != nil {
		t.Fatal(err)
	}
	m := metrics.New()
	return &Exporter{
		Runner:  tool,
		Timeout: time.Second,
		Rates:   transcode.Rates{Input: 10, Output: 30},
		Metrics: m,
	}, area, m
}

func stage(t *testing.T, area *staging.Area, names ...string) {
	t.Helper()
	for _, n := range names {
		if _, err := area.WriteFile(n, strings.NewReader(n)); err != nil {
			t.Fatal(err)
		}
	}
}

func TestExport_PNGWithoutAudio(t *testing.T) {
	tool := &fakeTool{}
	e, area, m := setup(t, tool)
	stage(t, area, "f_000001.png", "f_000002.png", "f_000003.png")

	c := &client{}
	res, err := e.Export(context.Background(), area, c)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{MsgBegin, MsgDetectedPNG, MsgEncoded, MsgWithoutAudio}
	if !reflect.DeepEqual(c.texts, want) {
		t.Errorf("texts = %q, want %q", c.texts, want)
	}
	if len(c.blobs) != 1 || string(c.blobs[0]) != "encode output" {
		t.Fatalf("blobs = %q", c.blobs)
	}
	if len(tool.calls) != 1 {
		t.Fatalf("tool called %d times, want 1", len(tool.calls))
	}
	wantArgs := transcode.EncodeArgs(area.Path("f_%06d.png"), area.Path(staging.VideoOut), e.Rates)
	if !reflect.DeepEqual(tool.calls[0], wantArgs) {
		t.Errorf("encode args = %q", tool.calls[0])
	}

	if res.Artifact != staging.VideoOut || res.Audio || res.Format != "png" {
		t.Errorf("res = %+v", res)
	}
	if len(res.Digest) != 64 || res.JobID == "" {
		t.Errorf("digest %q job %q", res.Digest, res.JobID)
	}
	if res.Purged != 4 {
		t.Errorf("purged %d, want 4", res.Purged)
	}

	entries, err := os.ReadDir(area.Dir)
	if err != nil {
		t.Fatalf("area directory removed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("%d files left after export", len(entries))
	}
	if ok, _ := m.Exports(); ok != 1 {
		t.Errorf("exports ok = %d", ok)
	}
	if m.TotalBytesOut() != int64(len("encode output")) {
		t.Errorf("bytes out = %d", m.TotalBytesOut())
	}
}

func TestExport_JPGWithAudio(t *testing.T) {
	tool := &fakeTool{}
	e, area, _ := setup(t, tool)
	stage(t, area, "f_000001.jpg", "f_000002.jpg", staging.AudioFile)

	c := &client{}
	res, err := e.Export(context.Background(), area, c)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{MsgBegin, MsgDetectedJPG, MsgEncoded, MsgWithAudio}
	if !reflect.DeepEqual(c.texts, want) {
		t.Errorf("texts = %q, want %q", c.texts, want)
	}
	if len(tool.calls) != 2 {
		t.Fatalf("tool called %d times, want 2", len(tool.calls))
	}
	wantMux := transcode.MuxArgs(area.Path(staging.VideoOut), area.Path(staging.AudioFile), area.Path(staging.MuxOut))
	if !reflect.DeepEqual(tool.calls[1], wantMux) {
		t.Errorf("mux args = %q", tool.calls[1])
	}
	if len(c.blobs) != 1 || string(c.blobs[0]) != "mux output" {
		t.Errorf("blobs = %q", c.blobs)
	}
	if !res.Audio || res.Artifact != staging.MuxOut {
		t.Errorf("res = %+v", res)
	}
}

func TestExport_PrefersPNG(t *testing.T) {
	e, area, _ := setup(t, &fakeTool{})
	stage(t, area, "f_000001.png", "f_000001.jpg")

	c := &client{}
	if _, err := e.Export(context.Background(), area, c); err != nil {
		t.Fatal(err)
	}
	if c.texts[1] != MsgDetectedPNG {
		t.Errorf("detected %q", c.texts[1])
	}
}

func TestExport_Failures(t *testing.T) {
	tests := []struct {
		name   string
		staged []string
		tool   *fakeTool
		want   string
		texts  int
	}{
		{"no frames", []string{"a_001.wav"}, &fakeTool{}, "transcode error: no image frames found", 1},
		{"frames not starting at 1", []string{"f_000002.png"}, &fakeTool{}, "transcode error: no image frames found", 1},
		{"encode fails", []string{"f_000001.png"}, &fakeTool{fail: map[string]bool{"encode": true}}, "transcode error: no output", 2},
		{"encode leaves nothing", []string{"f_000001.png"}, &fakeTool{noOut: true}, "transcode error: no output", 2},
		{"mux fails", []string{"f_000001.png", "a_001.wav"}, &fakeTool{fail: map[string]bool{"mux": true}}, "transcode error: no output", 4},
		{"timeout", []string{"f_000001.png"}, &fakeTool{block: true}, "transcode error: timeout", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, area, m := setup(t, tt.tool)
			e.Timeout = 50 * time.Millisecond
			stage(t, area, tt.staged...)

			c := &client{}
			_, err := e.Export(context.Background(), area, c)
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := gerrors.ClientMessage(err); got != tt.want {
				t.Errorf("ClientMessage = %q, want %q", got, tt.want)
			}
			if len(c.texts) != tt.texts {
				t.Errorf("texts = %q, want %d messages", c.texts, tt.texts)
			}
			if len(c.blobs) != 0 {
				t.Error("no binary should be sent on failure")
			}
			for _, n := range tt.staged {
				if ok, _ := area.Exists(n); !ok {
					t.Errorf("%s purged after failed export", n)
				}
			}
			if _, failed := m.Exports(); failed != 1 {
				t.Errorf("exports failed = %d", failed)
			}
		})
	}
}

func TestExport_RemovesStaleOutput(t *testing.T) {
	tool := &fakeTool{noOut: true}
	e, area, _ := setup(t, tool)
	stage(t, area, "f_000001.png", staging.VideoOut, staging.MuxOut)

	_, err := e.Export(context.Background(), area, &client{})
	if got := gerrors.ClientMessage(err); got != "transcode error: no output" {
		t.Errorf("stale out.mp4 was treated as fresh output: %v", err)
	}
}

func TestExport_DeliveryFailureKeepsStaging(t *testing.T) {
	e, area, _ := setup(t, &fakeTool{})
	stage(t, area, "f_000001.png")

	if _, err := e.Export(context.Background(), area, &client{broken: true}); err == nil {
		t.Fatal("expected delivery error")
	}
	if ok, _ := area.Exists("f_000001.png"); !ok {
		t.Error("frames purged although nothing was delivered")
	}
}
