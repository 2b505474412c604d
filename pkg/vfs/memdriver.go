package vfs

import (
	"strings"
	"sync"
	"time"
)

// memNode is one node of the in-memory tree backing MemDriver.
type memNode struct {
	stat     Stat
	data     []byte
	children map[string]*memNode // nil unless Type == TypeDir
}

// MemDriver is the default in-memory root filesystem backend: a
// tmpfs-equivalent tree of memNodes, guarded by a single mutex. The
// cron and process goroutines call in concurrently, so the lock is
// real.
type MemDriver struct {
	mu   sync.Mutex
	root *memNode
}

// NewMemDriver creates an empty in-memory filesystem with just "/".
func NewMemDriver() *MemDriver {
	return &MemDriver{
		root: &memNode{
			stat:     Stat{Type: TypeDir, Mode: DefaultDirMode, MTime: time.Now(), LinkCount: 1},
			children: map[string]*memNode{},
		},
	}
}

func splitPath(rel string) []string {
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return nil
	}
	return strings.Split(rel, "/")
}

// walk finds the node at rel, following symlinks if follow is true.
// Must be called with d.mu held.
func (d *MemDriver) walk(rel string, follow bool) (*memNode, error) {
	segs := splitPath(rel)
	n := d.root
	for i, s := range segs {
		if n.stat.Type != TypeDir {
			return nil, ErrNotDir
		}
		child, ok := n.children[s]
		if !ok {
			return nil, ErrNotExist
		}
		if child.stat.Type == TypeSymlink && (follow || i < len(segs)-1) {
			target := child.stat.Target
			if !strings.HasPrefix(target, "/") {
				return nil, ErrNotExist // only absolute symlink targets supported here
			}
			resolved, err := d.walk(target, true)
			if err != nil {
				return nil, err
			}
			child = resolved
		}
		n = child
	}
	return n, nil
}

// parent finds the parent directory node and final name component.
func (d *MemDriver) parent(rel string) (*memNode, string, error) {
	segs := splitPath(rel)
	if len(segs) == 0 {
		return nil, "", ErrExist // operating on root itself
	}
	parentRel := "/" + strings.Join(segs[:len(segs)-1], "/")
	p, err := d.walk(parentRel, true)
	if err != nil {
		return nil, "", err
	}
	if p.stat.Type != TypeDir {
		return nil, "", ErrNotDir
	}
	return p, segs[len(segs)-1], nil
}

func (d *MemDriver) Lstat(rel string) (Stat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.walk(rel, false)
	if err != nil {
		return Stat{}, err
	}
	return n.stat, nil
}

func (d *MemDriver) Stat(rel string) (Stat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.walk(rel, true)
	if err != nil {
		return Stat{}, err
	}
	return n.stat, nil
}

func (d *MemDriver) ReadDir(rel string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.walk(rel, true)
	if err != nil {
		return nil, err
	}
	if n.stat.Type != TypeDir {
		return nil, ErrNotDir
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sortStrings(names)
	return names, nil
}

type memHandle struct {
	d      *MemDriver
	node   *memNode
	append bool
}

func (h *memHandle) ReadAt(buf []byte, position int64) (int, error) {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	if position >= int64(len(h.node.data)) {
		return 0, nil
	}
	n := copy(buf, h.node.data[position:])
	return n, nil
}

func (h *memHandle) WriteAt(buf []byte, position int64) (int, error) {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	if h.append {
		position = int64(len(h.node.data))
	}
	end := position + int64(len(buf))
	if end > int64(len(h.node.data)) {
		grown := make([]byte, end)
		copy(grown, h.node.data)
		h.node.data = grown
	}
	copy(h.node.data[position:], buf)
	h.node.stat.Size = int64(len(h.node.data))
	h.node.stat.MTime = time.Now()
	return len(buf), nil
}

func (h *memHandle) Truncate(size int64) error {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	if size < int64(len(h.node.data)) {
		h.node.data = h.node.data[:size]
	} else if size > int64(len(h.node.data)) {
		grown := make([]byte, size)
		copy(grown, h.node.data)
		h.node.data = grown
	}
	h.node.stat.Size = size
	return nil
}

func (h *memHandle) Close() error { return nil }

func (d *MemDriver) Open(rel string, flags OpenFlags) (Handle, error) {
	d.mu.Lock()
	n, err := d.walk(rel, true)
	if err == ErrNotExist && flags.Create {
		parent, name, perr := d.parent(rel)
		if perr != nil {
			d.mu.Unlock()
			return nil, perr
		}
		n = &memNode{stat: Stat{Type: TypeFile, Mode: DefaultFileMode, MTime: time.Now(), LinkCount: 1}}
		parent.children[name] = n
		parent.stat.MTime = time.Now()
	} else if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	if n.stat.Type == TypeDir {
		d.mu.Unlock()
		return nil, ErrIsDir
	}
	if flags.Truncate {
		n.data = nil
		n.stat.Size = 0
	}
	d.mu.Unlock()
	return &memHandle{d: d, node: n, append: flags.Append}, nil
}

func (d *MemDriver) Mkdir(rel string, recursive bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	segs := splitPath(rel)
	n := d.root
	for i, s := range segs {
		child, ok := n.children[s]
		if !ok {
			if !recursive && i < len(segs)-1 {
				return ErrNotExist
			}
			child = &memNode{
				stat:     Stat{Type: TypeDir, Mode: DefaultDirMode, MTime: time.Now(), LinkCount: 1},
				children: map[string]*memNode{},
			}
			n.children[s] = child
		} else if child.stat.Type != TypeDir {
			return ErrNotDir
		} else if i == len(segs)-1 && !recursive {
			return ErrExist
		}
		n = child
	}
	return nil
}

func (d *MemDriver) Rmdir(rel string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	parent, name, err := d.parent(rel)
	if err != nil {
		return err
	}
	n, ok := parent.children[name]
	if !ok {
		return ErrNotExist
	}
	if n.stat.Type != TypeDir {
		return ErrNotDir
	}
	if len(n.children) > 0 {
		return ErrNotEmpty
	}
	delete(parent.children, name)
	return nil
}

func (d *MemDriver) Unlink(rel string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	parent, name, err := d.parent(rel)
	if err != nil {
		return err
	}
	n, ok := parent.children[name]
	if !ok {
		return ErrNotExist
	}
	if n.stat.Type == TypeDir {
		return ErrIsDir
	}
	delete(parent.children, name)
	return nil
}

func (d *MemDriver) Symlink(target, rel string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	parent, name, err := d.parent(rel)
	if err != nil {
		return err
	}
	if _, exists := parent.children[name]; exists {
		return ErrExist
	}
	parent.children[name] = &memNode{
		stat: Stat{Type: TypeSymlink, Mode: DefaultFileMode, Target: target, MTime: time.Now(), LinkCount: 1},
	}
	return nil
}

func (d *MemDriver) Readlink(rel string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.walk(rel, false)
	if err != nil {
		return "", err
	}
	if n.stat.Type != TypeSymlink {
		return "", ErrNotExist
	}
	return n.stat.Target, nil
}

func (d *MemDriver) Chmod(rel string, mode uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.walk(rel, true)
	if err != nil {
		return err
	}
	n.stat.Mode = mode
	return nil
}

func (d *MemDriver) Chown(rel string, uid, gid uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.walk(rel, true)
	if err != nil {
		return err
	}
	n.stat.UID = uid
	n.stat.GID = gid
	return nil
}
