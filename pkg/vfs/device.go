package vfs

import (
	"crypto/rand"
	"sync"
	"time"
)

// DeviceHandle backs a single open of a device file; device drivers
// ignore the position argument freely (most devices are not seekable).
type DeviceHandle interface {
	ReadAt(buf []byte, position int64) (int, error)
	WriteAt(buf []byte, position int64) (int, error)
	Close() error
}

// DeviceFactory constructs a fresh DeviceHandle for each Open call,
// matching real /dev semantics (e.g. multiple readers of /dev/zero
// each get their own cursor-less stream).
type DeviceFactory func() DeviceHandle

// DevDriver implements Driver for /dev: a flat registry of named
// device nodes, each delegating read/write to its registered device
// handler. Devices are named rather than major/minor-numbered; there
// is no real device table to mirror.
type DevDriver struct {
	mu      sync.Mutex
	devices map[string]deviceEntry
}

type deviceEntry struct {
	stat    Stat
	factory DeviceFactory
}

// NewDevDriver creates a /dev driver pre-populated with the standard
// pseudo-devices: null, zero, random, urandom, full. tty and console
// are not registered here.
func NewDevDriver() *DevDriver {
	d := &DevDriver{devices: map[string]deviceEntry{}}
	d.Register("null", TypeCharDevice, nullFactory)
	d.Register("zero", TypeCharDevice, zeroFactory)
	d.Register("full", TypeCharDevice, fullFactory)
	d.Register("random", TypeCharDevice, randomFactory)
	d.Register("urandom", TypeCharDevice, randomFactory)
	return d
}

// Register adds a device node under /dev with the given type and
// factory. A nil factory (e.g. /dev/tty before a terminal attaches)
// makes Open fail with ErrPermission.
func (d *DevDriver) Register(name string, t NodeType, factory DeviceFactory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[name] = deviceEntry{
		stat:    Stat{Type: t, Mode: DefaultFileMode, MTime: time.Now(), LinkCount: 1},
		factory: factory,
	}
}

func (d *DevDriver) lookup(rel string) (deviceEntry, string, bool) {
	name := splitPath(rel)
	if len(name) != 1 {
		return deviceEntry{}, "", false
	}
	e, ok := d.devices[name[0]]
	return e, name[0], ok
}

func (d *DevDriver) Lstat(rel string) (Stat, error) {
	if rel == "/" {
		return Stat{Type: TypeDir, Mode: DefaultDirMode}, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	e, _, ok := d.lookup(rel)
	if !ok {
		return Stat{}, ErrNotExist
	}
	return e.stat, nil
}

func (d *DevDriver) Stat(rel string) (Stat, error) { return d.Lstat(rel) }

func (d *DevDriver) ReadDir(rel string) ([]string, error) {
	if rel != "/" {
		return nil, ErrNotDir
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.devices))
	for n := range d.devices {
		names = append(names, n)
	}
	sortStrings(names)
	return names, nil
}

type deviceFileHandle struct {
	inner DeviceHandle
}

func (h *deviceFileHandle) ReadAt(buf []byte, position int64) (int, error) {
	return h.inner.ReadAt(buf, position)
}
func (h *deviceFileHandle) WriteAt(buf []byte, position int64) (int, error) {
	return h.inner.WriteAt(buf, position)
}
func (h *deviceFileHandle) Truncate(int64) error { return nil }
func (h *deviceFileHandle) Close() error         { return h.inner.Close() }

func (d *DevDriver) Open(rel string, flags OpenFlags) (Handle, error) {
	d.mu.Lock()
	e, _, ok := d.lookup(rel)
	d.mu.Unlock()
	if !ok {
		return nil, ErrNotExist
	}
	if e.factory == nil {
		return nil, ErrPermission
	}
	return &deviceFileHandle{inner: e.factory()}, nil
}

func (d *DevDriver) Mkdir(string, bool) error         { return ErrExist }
func (d *DevDriver) Rmdir(string) error               { return ErrPermission }
func (d *DevDriver) Unlink(rel string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, name, ok := d.lookup(rel)
	if !ok {
		return ErrNotExist
	}
	delete(d.devices, name)
	return nil
}
func (d *DevDriver) Symlink(string, string) error       { return ErrPermission }
func (d *DevDriver) Readlink(string) (string, error)    { return "", ErrNotExist }
func (d *DevDriver) Chmod(rel string, mode uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, name, ok := d.lookup(rel)
	if !ok {
		return ErrNotExist
	}
	e.stat.Mode = mode
	d.devices[name] = e
	return nil
}
func (d *DevDriver) Chown(rel string, uid, gid uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, name, ok := d.lookup(rel)
	if !ok {
		return ErrNotExist
	}
	e.stat.UID, e.stat.GID = uid, gid
	d.devices[name] = e
	return nil
}

// --- built-in pseudo-device factories ---

type nullDevice struct{}

func nullFactory() DeviceHandle { return nullDevice{} }
func (nullDevice) ReadAt(buf []byte, off int64) (int, error)  { return 0, nil }
func (nullDevice) WriteAt(buf []byte, off int64) (int, error) { return len(buf), nil }
func (nullDevice) Close() error                           { return nil }

type zeroDevice struct{}

func zeroFactory() DeviceHandle { return zeroDevice{} }
func (zeroDevice) ReadAt(buf []byte, off int64) (int, error) {
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), nil
}
func (zeroDevice) WriteAt(buf []byte, off int64) (int, error) { return len(buf), nil }
func (zeroDevice) Close() error                           { return nil }

type fullDevice struct{}

func fullFactory() DeviceHandle { return fullDevice{} }
func (fullDevice) ReadAt(buf []byte, off int64) (int, error) {
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), nil
}
func (fullDevice) WriteAt(buf []byte, off int64) (int, error) { return 0, errDeviceFull }
func (fullDevice) Close() error                       { return nil }

var errDeviceFull = &deviceError{"no space left on device"}

type deviceError struct{ msg string }

func (e *deviceError) Error() string { return e.msg }

type randomDevice struct{}

func randomFactory() DeviceHandle { return randomDevice{} }
func (randomDevice) ReadAt(buf []byte, off int64) (int, error)  { return rand.Read(buf) }
func (randomDevice) WriteAt(buf []byte, off int64) (int, error) { return len(buf), nil }
func (randomDevice) Close() error                            { return nil }
