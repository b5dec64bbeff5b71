package fsserver

import (
	"fmt"
	"io"
	"os"
)

// Disk is the backing store a Server reads/writes sector by sector.
// MemDisk (tests, in-process demos) and FileDisk (a real on-disk image)
// are the two implementations provided.
type Disk interface {
	ReadBlock(n uint32) ([BlockSize]byte, error)
	WriteBlock(n uint32, data [BlockSize]byte) error
	NumBlocks() uint32
}

// MemDisk is an in-memory Disk, used by tests; cmd/yalnixd always
// uses a FileDisk.
type MemDisk struct {
	blocks [][BlockSize]byte
}

// NewMemDisk allocates a zero-filled disk of n blocks.
func NewMemDisk(n uint32) *MemDisk {
	return &MemDisk{blocks: make([][BlockSize]byte, n)}
}

func (d *MemDisk) ReadBlock(n uint32) ([BlockSize]byte, error) {
	if n >= uint32(len(d.blocks)) {
		return [BlockSize]byte{}, fmt.Errorf("fsserver: block %d out of range", n)
	}
	return d.blocks[n], nil
}

func (d *MemDisk) WriteBlock(n uint32, data [BlockSize]byte) error {
	if n >= uint32(len(d.blocks)) {
		return fmt.Errorf("fsserver: block %d out of range", n)
	}
	d.blocks[n] = data
	return nil
}

func (d *MemDisk) NumBlocks() uint32 { return uint32(len(d.blocks)) }

// FileDisk is a Disk backed by a flat file, one BlockSize-byte sector
// per block, the way the original file server addresses a raw disk
// partition.
type FileDisk struct {
	f    *os.File
	n    uint32
}

// OpenFileDisk opens an existing disk image of exactly n blocks.
func OpenFileDisk(path string, n uint32) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileDisk{f: f, n: n}, nil
}

// CreateFileDisk creates a new zero-filled disk image of n blocks.
func CreateFileDisk(path string, n uint32) (*FileDisk, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(n) * BlockSize); err != nil {
		f.Close()
		return nil, err
	}
	return &FileDisk{f: f, n: n}, nil
}

func (d *FileDisk) ReadBlock(n uint32) ([BlockSize]byte, error) {
	var buf [BlockSize]byte
	if n >= d.n {
		return buf, fmt.Errorf("fsserver: block %d out of range", n)
	}
	if _, err := d.f.ReadAt(buf[:], int64(n)*BlockSize); err != nil && err != io.EOF {
		return buf, err
	}
	return buf, nil
}

func (d *FileDisk) WriteBlock(n uint32, data [BlockSize]byte) error {
	if n >= d.n {
		return fmt.Errorf("fsserver: block %d out of range", n)
	}
	_, err := d.f.WriteAt(data[:], int64(n)*BlockSize)
	return err
}

func (d *FileDisk) NumBlocks() uint32 { return d.n }

// Close releases the underlying file handle.
func (d *FileDisk) Close() error { return d.f.Close() }
