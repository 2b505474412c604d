package fdtable

import (
	"testing"

	"github.com/webos-run/webos/pkg/stream"
	"github.com/webos-run/webos/pkg/vfs"
)

type fakeHandle struct {
	closed  int
	failNow bool
}

func (f *fakeHandle) ReadAt([]byte, int64) (int, error)  { return 0, nil }
func (f *fakeHandle) WriteAt([]byte, int64) (int, error) { return 0, nil }
func (f *fakeHandle) Truncate(int64) error               { return nil }
func (f *fakeHandle) Close() error {
	f.closed++
	if f.failNow {
		return vfs.ErrPermission
	}
	return nil
}

func TestTrackIsIdempotent(t *testing.T) {
	tbl := New(nil)
	h := &fakeHandle{}
	tbl.TrackFileHandle(h)
	tbl.TrackFileHandle(h)
	if tbl.OpenHandleCount() != 1 {
		t.Fatalf("expected 1 tracked handle, got %d", tbl.OpenHandleCount())
	}
}

func TestCloseFileHandlesEmptiesSetEvenOnError(t *testing.T) {
	tbl := New(nil)
	ok := &fakeHandle{}
	bad := &fakeHandle{failNow: true}
	tbl.TrackFileHandle(ok)
	tbl.TrackFileHandle(bad)
	tbl.CloseFileHandles()
	if tbl.OpenHandleCount() != 0 {
		t.Fatalf("expected empty set after close, got %d", tbl.OpenHandleCount())
	}
	if ok.closed != 1 || bad.closed != 1 {
		t.Fatalf("expected both handles closed once, got ok=%d bad=%d", ok.closed, bad.closed)
	}
}

func TestRedirectStderrToStdoutSharesIdentity(t *testing.T) {
	tbl := New(nil)
	w, _ := stream.Pipe(1)
	tbl.SetStdout(w)
	tbl.RedirectStderrToStdout()
	if tbl.Stderr != tbl.Stdout {
		t.Fatal("stderr and stdout must be the same identity after redirect")
	}
}
