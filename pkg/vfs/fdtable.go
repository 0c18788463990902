package vfs

import (
	"errors"
	"fmt"
	"sync"
)

// Descriptor table errors.
var (
	ErrBadDescriptor = errors.New("vfs: bad file descriptor")
	ErrTableFull     = errors.New("vfs: too many open files")
)

// MaxDescriptors is the size of a process file descriptor table.
const MaxDescriptors = 1024

// FileType is the type of the object behind a descriptor.
type FileType uint8

const (
	FileTypeRegular FileType = iota
	FileTypeDir
	FileTypePipe
	FileTypeCharDevice
	FileTypeSocket
)

func (t FileType) String() string {
	switch t {
	case FileTypeRegular:
		return "regular"
	case FileTypeDir:
		return "dir"
	case FileTypePipe:
		return "pipe"
	case FileTypeCharDevice:
		return "chardev"
	case FileTypeSocket:
		return "socket"
	default:
		return fmt.Sprintf("FileType(%d)", uint8(t))
	}
}

// File is an open file description.
type File struct {
	// Name is the path or label the file was opened with.
	Name string
	// Type is the type of the underlying object.
	Type FileType
	// Inode is the underlying object, e.g. a socket.
	Inode any

	mu     sync.Mutex
	offset int64
}

// NewFile creates an open file description.
func NewFile(name string, typ FileType, inode any) *File {
	return &File{Name: name, Type: typ, Inode: inode}
}

// Offset returns the current file offset.
func (f *File) Offset() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset
}

// Seek sets the file offset.
func (f *File) Seek(off int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offset = off
}

// FileDescriptorTable maps descriptor numbers to open files.
type FileDescriptorTable struct {
	mu    sync.RWMutex
	files []*File
}

// NewFileDescriptorTable creates an empty table.
func NewFileDescriptorTable() *FileDescriptorTable {
	return &FileDescriptorTable{files: make([]*File, 0, 8)}
}

// Insert places f at the lowest free descriptor and returns it.
func (t *FileDescriptorTable) Insert(f *File) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for fd, cur := range t.files {
		if cur == nil {
			t.files[fd] = f
			return fd, nil
		}
	}
	if len(t.files) >= MaxDescriptors {
		return -1, ErrTableFull
	}
	t.files = append(t.files, f)
	return len(t.files) - 1, nil
}

// Get returns the file behind fd.
func (t *FileDescriptorTable) Get(fd int) (*File, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if fd < 0 || fd >= len(t.files) || t.files[fd] == nil {
		return nil, fmt.Errorf("fd %d: %w", fd, ErrBadDescriptor)
	}
	return t.files[fd], nil
}

// Remove closes fd and returns the file it referred to.
func (t *FileDescriptorTable) Remove(fd int) (*File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if fd < 0 || fd >= len(t.files) || t.files[fd] == nil {
		return nil, fmt.Errorf("fd %d: %w", fd, ErrBadDescriptor)
	}
	f := t.files[fd]
	t.files[fd] = nil
	return f, nil
}

// Len returns the number of open descriptors.
func (t *FileDescriptorTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, f := range t.files {
		if f != nil {
			n++
		}
	}
	return n
}
