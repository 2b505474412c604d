// Package vfs implements the virtual filesystem: a tree of mounts
// exposing a POSIX-shaped operation set as plain blocking calls,
// device files under /dev, and the system text files the shell and
// services consume.
package vfs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// NodeType enumerates the inode kinds.
type NodeType int

const (
	TypeFile NodeType = iota
	TypeDir
	TypeSymlink
	TypeBlockDevice
	TypeCharDevice
	TypeFifo
	TypeSocket
)

// Mode bits, POSIX-flavored rwx for user/group/other.
const (
	ModeUserRead = 1 << (8 + iota)
	ModeUserWrite
	ModeUserExec
	ModeGroupRead
	ModeGroupWrite
	ModeGroupExec
	ModeOtherRead
	ModeOtherWrite
	ModeOtherExec
)

const DefaultFileMode = ModeUserRead | ModeUserWrite | ModeGroupRead | ModeOtherRead
const DefaultDirMode = DefaultFileMode | ModeUserExec | ModeGroupExec | ModeOtherExec

// Stat is the POSIX-flavored metadata attached to an inode.
type Stat struct {
	Type      NodeType
	Mode      uint32
	UID       uint32
	GID       uint32
	Size      int64
	MTime     time.Time
	LinkCount int
	Target    string // symlink destination
}

// OpenFlags selects an open mode the way POSIX open flags do.
type OpenFlags struct {
	Read     bool
	Write    bool
	Append   bool
	Truncate bool
	Create   bool
}

// Credentials identifies the caller for permission checks. uid 0
// bypasses mode bits entirely.
type Credentials struct {
	UID    uint32
	GID    uint32
	Groups []uint32
}

var ErrNotExist = errors.New("vfs: no such file or directory")
var ErrExist = errors.New("vfs: file exists")
var ErrNotDir = errors.New("vfs: not a directory")
var ErrIsDir = errors.New("vfs: is a directory")
var ErrNotEmpty = errors.New("vfs: directory not empty")
var ErrPermission = errors.New("vfs: permission denied")
var ErrNoMount = errors.New("vfs: no mount covers path")

// Handle is the open-file primitive every backend returns.
type Handle interface {
	ReadAt(buf []byte, position int64) (int, error)
	WriteAt(buf []byte, position int64) (int, error)
	Truncate(size int64) error
	Close() error
}

// Driver is what a single mount provides: the same byte-level
// operation set regardless of backend.
type Driver interface {
	Lstat(rel string) (Stat, error)
	Stat(rel string) (Stat, error) // follows symlinks
	ReadDir(rel string) ([]string, error)
	Open(rel string, flags OpenFlags) (Handle, error)
	Mkdir(rel string, recursive bool) error
	Rmdir(rel string) error
	Unlink(rel string) error
	Symlink(target, rel string) error
	Readlink(rel string) (string, error)
	Chmod(rel string, mode uint32) error
	Chown(rel string, uid, gid uint32) error
}

type mountEntry struct {
	prefix string // "" for root
	driver Driver
}

// VFS is the composite filesystem assembled from mounted backends
// under one path namespace.
type VFS struct {
	mu     sync.RWMutex
	mounts []mountEntry
}

// New creates a VFS with an in-memory root mount.
func New() *VFS {
	v := &VFS{}
	v.mounts = append(v.mounts, mountEntry{prefix: "", driver: NewMemDriver()})
	return v
}

// Mount attaches driver at prefix. Path resolution walks the longest
// matching prefix.
func (v *VFS) Mount(prefix string, driver Driver) {
	v.mu.Lock()
	defer v.mu.Unlock()
	prefix = canonicalize(prefix)
	if prefix == "/" {
		prefix = ""
	}
	v.mounts = append(v.mounts, mountEntry{prefix: prefix, driver: driver})
	sort.Slice(v.mounts, func(i, j int) bool {
		return len(v.mounts[i].prefix) > len(v.mounts[j].prefix)
	})
}

// Umount detaches the mount at prefix.
func (v *VFS) Umount(prefix string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	prefix = canonicalize(prefix)
	if prefix == "/" {
		prefix = ""
	}
	for i, m := range v.mounts {
		if m.prefix == prefix {
			v.mounts = append(v.mounts[:i], v.mounts[i+1:]...)
			return nil
		}
	}
	return ErrNoMount
}

// resolve finds the mount covering path and returns the driver plus
// the path relative to that mount's root.
func (v *VFS) resolve(path string) (Driver, string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, m := range v.mounts {
		if m.prefix == "" || path == m.prefix || strings.HasPrefix(path, m.prefix+"/") {
			rel := strings.TrimPrefix(path, m.prefix)
			if rel == "" {
				rel = "/"
			}
			return m.driver, rel, nil
		}
	}
	return nil, "", ErrNoMount
}

func checkRead(st Stat, c Credentials) bool {
	if c.UID == 0 {
		return true
	}
	if st.UID == c.UID {
		return st.Mode&ModeUserRead != 0
	}
	if inGroup(st.GID, c) {
		return st.Mode&ModeGroupRead != 0
	}
	return st.Mode&ModeOtherRead != 0
}

func checkWrite(st Stat, c Credentials) bool {
	if c.UID == 0 {
		return true
	}
	if st.UID == c.UID {
		return st.Mode&ModeUserWrite != 0
	}
	if inGroup(st.GID, c) {
		return st.Mode&ModeGroupWrite != 0
	}
	return st.Mode&ModeOtherWrite != 0
}

func checkExec(st Stat, c Credentials) bool {
	if c.UID == 0 {
		return true
	}
	if st.UID == c.UID {
		return st.Mode&ModeUserExec != 0
	}
	if inGroup(st.GID, c) {
		return st.Mode&ModeGroupExec != 0
	}
	return st.Mode&ModeOtherExec != 0
}

func inGroup(gid uint32, c Credentials) bool {
	if gid == c.GID {
		return true
	}
	for _, g := range c.Groups {
		if g == gid {
			return true
		}
	}
	return false
}

// Lstat returns metadata without following a trailing symlink.
func (v *VFS) Lstat(path string) (Stat, error) {
	d, rel, err := v.resolve(path)
	if err != nil {
		return Stat{}, err
	}
	return d.Lstat(rel)
}

// Stat returns metadata, following symlinks.
func (v *VFS) Stat(path string) (Stat, error) {
	d, rel, err := v.resolve(path)
	if err != nil {
		return Stat{}, err
	}
	return d.Stat(rel)
}

// Exists reports whether path resolves to anything.
func (v *VFS) Exists(path string) bool {
	_, err := v.Stat(path)
	return err == nil
}

// Readlink returns a symlink's target. It Lstats first to confirm
// the node is actually a symlink; Readlink on a non-symlink returns
// an explicit error rather than silently reporting "not a symlink".
func (v *VFS) Readlink(path string) (string, error) {
	st, err := v.Lstat(path)
	if err != nil {
		return "", err
	}
	if st.Type != TypeSymlink {
		return "", fmt.Errorf("vfs: %s: not a symlink", path)
	}
	d, rel, err := v.resolve(path)
	if err != nil {
		return "", err
	}
	return d.Readlink(rel)
}

// Open opens path for the given credentials/flags, creating a Handle
// the caller's FDTable will track.
func (v *VFS) Open(path string, flags OpenFlags, creds Credentials) (Handle, error) {
	d, rel, err := v.resolve(path)
	if err != nil {
		return nil, err
	}
	st, statErr := d.Stat(rel)
	if statErr == nil {
		if flags.Write && !checkWrite(st, creds) {
			return nil, ErrPermission
		}
		if flags.Read && !checkRead(st, creds) {
			return nil, ErrPermission
		}
		if st.Type == TypeDir && (flags.Write || flags.Create) {
			return nil, ErrIsDir
		}
	} else if !flags.Create {
		return nil, ErrNotExist
	}
	h, err := d.Open(rel, flags)
	if err != nil {
		return nil, err
	}
	if flags.Create && statErr == nil {
		// existing + create: owner already set by backend at creation
	}
	if statErr != nil && flags.Create {
		d.Chown(rel, creds.UID, creds.GID)
	}
	return h, nil
}

// Close closes a previously opened handle.
func (v *VFS) Close(h Handle) error {
	return h.Close()
}

// ReadFile reads an entire file.
func (v *VFS) ReadFile(path string, creds Credentials) ([]byte, error) {
	h, err := v.Open(path, OpenFlags{Read: true}, creds)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	st, err := v.Stat(path)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, st.Size)
	n, err := h.ReadAt(buf, 0)
	if err != nil && n == 0 && st.Size > 0 {
		return nil, err
	}
	return buf[:n], nil
}

// WriteFile writes an entire file, creating/truncating it.
func (v *VFS) WriteFile(path string, data []byte, creds Credentials) error {
	h, err := v.Open(path, OpenFlags{Write: true, Create: true, Truncate: true}, creds)
	if err != nil {
		return err
	}
	defer h.Close()
	_, err = h.WriteAt(data, 0)
	return err
}

// AppendFile appends to a file, creating it if absent.
func (v *VFS) AppendFile(path string, data []byte, creds Credentials) error {
	d, rel, err := v.resolve(path)
	if err != nil {
		return err
	}
	st, statErr := d.Stat(rel)
	var offset int64
	if statErr == nil {
		offset = st.Size
	}
	h, err := v.Open(path, OpenFlags{Write: true, Append: true, Create: true}, creds)
	if err != nil {
		return err
	}
	defer h.Close()
	_, err = h.WriteAt(data, offset)
	return err
}

// Mkdir creates a directory.
func (v *VFS) Mkdir(path string, recursive bool, creds Credentials) error {
	d, rel, err := v.resolve(path)
	if err != nil {
		return err
	}
	err = d.Mkdir(rel, recursive)
	if err == nil {
		d.Chown(rel, creds.UID, creds.GID)
	}
	return err
}

// Rmdir removes an empty directory.
func (v *VFS) Rmdir(path string) error {
	d, rel, err := v.resolve(path)
	if err != nil {
		return err
	}
	return d.Rmdir(rel)
}

// Unlink removes a file, symlink, or device node.
func (v *VFS) Unlink(path string) error {
	d, rel, err := v.resolve(path)
	if err != nil {
		return err
	}
	return d.Unlink(rel)
}

// ReadDir lists directory entry names.
func (v *VFS) ReadDir(path string) ([]string, error) {
	d, rel, err := v.resolve(path)
	if err != nil {
		return nil, err
	}
	return d.ReadDir(rel)
}

// Symlink creates a symlink at path pointing at target.
func (v *VFS) Symlink(target, path string) error {
	d, rel, err := v.resolve(path)
	if err != nil {
		return err
	}
	return d.Symlink(target, rel)
}

// Chmod changes a node's mode bits.
func (v *VFS) Chmod(path string, mode uint32) error {
	d, rel, err := v.resolve(path)
	if err != nil {
		return err
	}
	return d.Chmod(rel, mode)
}

// Chown changes a node's owner/group.
func (v *VFS) Chown(path string, uid, gid uint32) error {
	d, rel, err := v.resolve(path)
	if err != nil {
		return err
	}
	return d.Chown(rel, uid, gid)
}

// Glob expands an absolute pattern against this VFS's directory listings.
func (v *VFS) Glob(pattern string) []string {
	return Glob(pattern, v.ReadDir)
}

// GlobAt expands pattern against this VFS's directory listings,
// resolving a relative pattern's directory against cwd while
// preserving relative output.
func (v *VFS) GlobAt(pattern, cwd string) []string {
	return GlobRelative(pattern, cwd, v.ReadDir)
}
