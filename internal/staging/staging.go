// Package staging manages the per-connection directories that hold
// captured media until it is exported.
//
// Every connection owns exactly one Area, named client_NNNNNNN after
// its id, directly under the staging root.  Frames are stored as
// f_NNNNNN.<ext>, audio as a_NNN.<ext>; the transcoder writes out.mp4
// and avout.mp4 next to them.
package staging

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	gerrors "capgate/internal/errors"
	"capgate/internal/retry"
	"capgate/util"
)

// Names of the transcoder's outputs inside an Area.
const (
	VideoOut = "out.mp4"
	MuxOut   = "avout.mp4"
)

// AudioFile is the staged audio consumed by export and handoff.
var AudioFile = AudioName(1, "wav")

// dirPattern matches the directories this package creates.
var dirPattern = regexp.MustCompile(`^client_\d{7}$`)

// DirName returns the directory name for connection id.
func DirName(id int) string { return fmt.Sprintf("client_%07d", id) }

// FrameName returns the file name of the index'th image frame.
func FrameName(index int, ext string) string { return fmt.Sprintf("f_%06d.%s", index, ext) }

// FramePattern is the printf-style sequence the transcoder reads.
func FramePattern(ext string) string { return "f_%06d." + ext }

// AudioName returns the file name of the index'th audio upload.
func AudioName(index int, ext string) string { return fmt.Sprintf("a_%03d.%s", index, ext) }

// Root is the directory holding every Area.
type Root struct {
	Path    string
	Backoff *retry.Backoff // used by Destroy; nil means StagingBackoff
}

// NewRoot returns a Root at path, creating the directory if needed.
func NewRoot(path string) (*Root, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, gerrors.Storage("create", path, err)
	}
	return &Root{Path: path, Backoff: retry.StagingBackoff()}, nil
}

// Area returns the Area for id without touching the filesystem.
func (r *Root) Area(id int) *Area {
	return &Area{ID: id, Dir: filepath.Join(r.Path, DirName(id)), root: r}
}

// Create makes the directory for id and returns its Area.
func (r *Root) Create(id int) (*Area, error) {
	a := r.Area(id)
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return nil, gerrors.Storage("create", a.Dir, err)
	}
	return a, nil
}

// PurgeAll removes every client_NNNNNNN directory under the root, with
// at most concurrency removals in flight.  It returns once all of them
// have finished, with the number removed and any failures joined.
func (r *Root) PurgeAll(ctx context.Context, concurrency int) (int, error) {
	entries, err := os.ReadDir(r.Path)
	if err != nil {
		return 0, gerrors.Storage("read", r.Path, err)
	}
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		removed int
		errs    []error
	)
	sem := make(chan struct{}, concurrency)

	for _, e := range entries {
		if !e.IsDir() || !dirPattern.MatchString(e.Name()) {
			continue
		}
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		dir := filepath.Join(r.Path, e.Name())

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			err := os.RemoveAll(dir)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, gerrors.Storage("remove", dir, err))
				return
			}
			removed++
		}()
	}

	wg.Wait()
	return removed, gerrors.Join(errs...)
}

// Area is one connection's staging directory.
type Area struct {
	ID  int
	Dir string

	root *Root
}

// Path returns the full path of name inside the area.
func (a *Area) Path(name string) string { return filepath.Join(a.Dir, name) }

// Exists reports whether name is present in the area.
func (a *Area) Exists(name string) (bool, error) {
	_, err := os.Stat(a.Path(name))
	switch {
	case err == nil:
		return true, nil
	case gerrors.IsNotExist(err):
		return false, nil
	default:
		return false, gerrors.Storage("stat", a.Path(name), err)
	}
}

// WriteFile streams r into name, replacing any previous content.  A
// failed write leaves no partial file behind.
func (a *Area) WriteFile(name string, r io.Reader) (int64, error) {
	path := a.Path(name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		if gerrors.IsNotExist(err) {
			err = fmt.Errorf("%w: %w", gerrors.ErrStagingNotCreated, err)
		}
		return 0, gerrors.Storage("create", path, err)
	}

	n, err := util.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path) //nolint:errcheck
		return n, gerrors.Storage("write", path, err)
	}
	return n, nil
}

// Open opens name for reading.
func (a *Area) Open(name string) (*os.File, error) {
	f, err := os.Open(a.Path(name))
	if err != nil {
		return nil, gerrors.Storage("open", a.Path(name), err)
	}
	return f, nil
}

// Remove deletes name; a missing file is not an error.
func (a *Area) Remove(name string) error {
	err := os.Remove(a.Path(name))
	if err != nil && !gerrors.IsNotExist(err) {
		return gerrors.Storage("remove", a.Path(name), err)
	}
	return nil
}

// Purge deletes every file in the area but keeps the directory, so the
// connection can start another capture.
func (a *Area) Purge() (int, error) {
	entries, err := os.ReadDir(a.Dir)
	if err != nil {
		return 0, gerrors.Storage("purge", a.Dir, err)
	}
	var errs []error
	n := 0
	for _, e := range entries {
		if err := os.RemoveAll(a.Path(e.Name())); err != nil {
			errs = append(errs, gerrors.Storage("remove", a.Path(e.Name()), err))
			continue
		}
		n++
	}
	return n, gerrors.Join(errs...)
}

// Destroy removes the area directory and everything in it, retrying
// transient failures.  A permission error is not retried.
func (a *Area) Destroy(ctx context.Context) error {
	b := retry.StagingBackoff()
	if a.root != nil && a.root.Backoff != nil {
		b = a.root.Backoff
	}
	return b.Do(ctx, func(int) error {
		err := os.RemoveAll(a.Dir)
		switch {
		case err == nil:
			return nil
		case gerrors.Is(err, fs.ErrPermission):
			return retry.Permanent(gerrors.Storage("remove", a.Dir, err))
		default:
			return gerrors.Storage("remove", a.Dir, err)
		}
	})
}

// Move relocates name from one area to another.  The source no longer
// exists afterwards.
func Move(from, to *Area, name string) error {
	src, dst := from.Path(name), to.Path(name)
	if err := os.Rename(src, dst); err != nil {
		return gerrors.Storage("rename", src, err)
	}
	return nil
}
