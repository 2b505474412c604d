package vfs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// OSDriver mounts a real host directory into the VFS namespace.
// cmd/webos mounts one of these at "/" so a booted kernel can drive
// an actual host filesystem instead of the in-memory default MemDriver
// provides for tests and embedded use.
type OSDriver struct {
	base string
}

// NewOSDriver roots driver at base, which must already exist.
func NewOSDriver(base string) (*OSDriver, error) {
	info, err := os.Stat(base)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrNotDir
	}
	return &OSDriver{base: filepath.Clean(base)}, nil
}

func (d *OSDriver) host(rel string) string {
	return filepath.Join(d.base, filepath.FromSlash(rel))
}

func translateErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotExist
	case errors.Is(err, fs.ErrExist):
		return ErrExist
	case errors.Is(err, fs.ErrPermission):
		return ErrPermission
	default:
		return err
	}
}

func statToVFS(info fs.FileInfo) Stat {
	st := Stat{
		Size:      info.Size(),
		MTime:     info.ModTime(),
		LinkCount: 1,
		Mode:      modeFromFS(info),
	}
	switch {
	case info.IsDir():
		st.Type = TypeDir
	case info.Mode()&fs.ModeSymlink != 0:
		st.Type = TypeSymlink
	default:
		st.Type = TypeFile
	}
	return st
}

// modeFromFS maps the host permission bits onto the user/group/other
// rwx layout of Stat.Mode one bit at a time, since the Mode* constants
// do not share fs.FileMode's bit positions.
func modeFromFS(info fs.FileInfo) uint32 {
	perm := uint32(info.Mode().Perm())
	mode := uint32(0)
	if perm&0400 != 0 {
		mode |= ModeUserRead
	}
	if perm&0200 != 0 {
		mode |= ModeUserWrite
	}
	if perm&0100 != 0 {
		mode |= ModeUserExec
	}
	if perm&0040 != 0 {
		mode |= ModeGroupRead
	}
	if perm&0020 != 0 {
		mode |= ModeGroupWrite
	}
	if perm&0010 != 0 {
		mode |= ModeGroupExec
	}
	if perm&0004 != 0 {
		mode |= ModeOtherRead
	}
	if perm&0002 != 0 {
		mode |= ModeOtherWrite
	}
	if perm&0001 != 0 {
		mode |= ModeOtherExec
	}
	return mode
}

func modeToFS(mode uint32) fs.FileMode {
	var perm fs.FileMode
	if mode&ModeUserRead != 0 {
		perm |= 0400
	}
	if mode&ModeUserWrite != 0 {
		perm |= 0200
	}
	if mode&ModeUserExec != 0 {
		perm |= 0100
	}
	if mode&ModeGroupRead != 0 {
		perm |= 0040
	}
	if mode&ModeGroupWrite != 0 {
		perm |= 0020
	}
	if mode&ModeGroupExec != 0 {
		perm |= 0010
	}
	if mode&ModeOtherRead != 0 {
		perm |= 0004
	}
	if mode&ModeOtherWrite != 0 {
		perm |= 0002
	}
	if mode&ModeOtherExec != 0 {
		perm |= 0001
	}
	return perm
}

func (d *OSDriver) Lstat(rel string) (Stat, error) {
	info, err := os.Lstat(d.host(rel))
	if err != nil {
		return Stat{}, translateErr(err)
	}
	return statToVFS(info), nil
}

func (d *OSDriver) Stat(rel string) (Stat, error) {
	info, err := os.Stat(d.host(rel))
	if err != nil {
		return Stat{}, translateErr(err)
	}
	return statToVFS(info), nil
}

func (d *OSDriver) ReadDir(rel string) ([]string, error) {
	entries, err := os.ReadDir(d.host(rel))
	if err != nil {
		return nil, translateErr(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// osHandle adapts *os.File to the Handle contract.
type osHandle struct {
	f *os.File
}

func (h *osHandle) ReadAt(buf []byte, position int64) (int, error) {
	n, err := h.f.ReadAt(buf, position)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, translateErr(err)
}

func (h *osHandle) WriteAt(buf []byte, position int64) (int, error) {
	n, err := h.f.WriteAt(buf, position)
	return n, translateErr(err)
}

func (h *osHandle) Truncate(size int64) error {
	return translateErr(h.f.Truncate(size))
}

func (h *osHandle) Close() error {
	return h.f.Close()
}

func (d *OSDriver) Open(rel string, flags OpenFlags) (Handle, error) {
	var osFlags int
	switch {
	case flags.Read && flags.Write:
		osFlags = os.O_RDWR
	case flags.Write:
		osFlags = os.O_WRONLY
	default:
		osFlags = os.O_RDONLY
	}
	if flags.Create {
		osFlags |= os.O_CREATE
	}
	if flags.Truncate {
		osFlags |= os.O_TRUNC
	}
	if flags.Append {
		osFlags |= os.O_APPEND
	}
	f, err := os.OpenFile(d.host(rel), osFlags, 0644)
	if err != nil {
		return nil, translateErr(err)
	}
	info, err := f.Stat()
	if err == nil && info.IsDir() {
		f.Close()
		return nil, ErrIsDir
	}
	return &osHandle{f: f}, nil
}

func (d *OSDriver) Mkdir(rel string, recursive bool) error {
	if recursive {
		return translateErr(os.MkdirAll(d.host(rel), 0755))
	}
	return translateErr(os.Mkdir(d.host(rel), 0755))
}

func (d *OSDriver) Rmdir(rel string) error {
	entries, err := os.ReadDir(d.host(rel))
	if err != nil {
		return translateErr(err)
	}
	if len(entries) > 0 {
		return ErrNotEmpty
	}
	return translateErr(os.Remove(d.host(rel)))
}

func (d *OSDriver) Unlink(rel string) error {
	info, err := os.Lstat(d.host(rel))
	if err != nil {
		return translateErr(err)
	}
	if info.IsDir() {
		return ErrIsDir
	}
	return translateErr(os.Remove(d.host(rel)))
}

func (d *OSDriver) Symlink(target, rel string) error {
	return translateErr(os.Symlink(target, d.host(rel)))
}

func (d *OSDriver) Readlink(rel string) (string, error) {
	target, err := os.Readlink(d.host(rel))
	if err != nil {
		return "", translateErr(err)
	}
	return target, nil
}

func (d *OSDriver) Chmod(rel string, mode uint32) error {
	return translateErr(os.Chmod(d.host(rel), modeToFS(mode)))
}

// Chown is a no-op on this backend: changing host file ownership
// requires privileges this process does not assume it has, and the
// VFS's uid/gid bookkeeping is advisory metadata rather than an
// enforced host security boundary for an OS-backed mount.
func (d *OSDriver) Chown(rel string, uid, gid uint32) error {
	return nil
}
