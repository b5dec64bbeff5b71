package kernel

import (
	"encoding/binary"
	"io"
	"os"
)

// Image is a loaded program: page-rounded text/data segments, a BSS
// size, and an entry point. Image is the boundary a host's Loader
// must produce; the on-disk executable format behind it is the
// loader's own business.
type Image struct {
	Text     []byte
	Data     []byte
	BSSPages int
	Entry    uint64
	Argv     []string
}

// TextPages returns the number of pages Text occupies.
func (img *Image) TextPages() int { return pagesFor(len(img.Text)) }

// DataPages returns the number of pages Data occupies.
func (img *Image) DataPages() int { return pagesFor(len(img.Data)) }

func pagesFor(n int) int {
	if n == 0 {
		return 0
	}
	return (n + PageSize - 1) / PageSize
}

// Loader loads a named program image for Exec. The default
// implementation, FileLoader, reads a flat on-disk format; a host can
// substitute any other backend (e.g. one that serves images out of
// the file server over fsclient).
type Loader interface {
	Load(name string) (*Image, error)
}

// fileHeader is the flat on-disk image format FileLoader reads:
// {textLen, dataLen, bssPages, entry}, each a big-endian uint64,
// followed by textLen bytes of text and dataLen bytes of data.
type fileHeader struct {
	TextLen  uint64
	DataLen  uint64
	BSSPages uint64
	Entry    uint64
}

// FileLoader loads images from a directory on disk.
type FileLoader struct {
	Dir string
}

func (l *FileLoader) Load(name string) (*Image, error) {
	f, err := os.Open(l.Dir + "/" + name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var hdr fileHeader
	if err := binary.Read(f, binary.BigEndian, &hdr); err != nil {
		return nil, err
	}
	img := &Image{
		Text:     make([]byte, hdr.TextLen),
		Data:     make([]byte, hdr.DataLen),
		BSSPages: int(hdr.BSSPages),
		Entry:    hdr.Entry,
	}
	if _, err := io.ReadFull(f, img.Text); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(f, img.Data); err != nil {
		return nil, err
	}
	return img, nil
}
