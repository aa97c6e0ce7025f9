// Package vpk reads Valve package (VPK) archives and the addon metadata
// stored inside them.
package vpk

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

const (
	signature = 0x55aa1234

	headerSizeV1 = 12
	headerSizeV2 = 28

	// dirArchiveIndex marks entries whose data lives in the directory file itself.
	dirArchiveIndex = 0x7fff
	entryTerminator = 0xffff

	// maxTreeSize bounds the directory tree read into memory.
	maxTreeSize = 64 << 20
)

var (
	// ErrNotVPK is returned for files without the VPK signature.
	ErrNotVPK = errors.New("not a vpk archive")
	// ErrNotFound is returned by ReadFile for paths absent from the archive.
	ErrNotFound = errors.New("file not found in archive")
)

type entry struct {
	crc          uint32
	preload      []byte
	archiveIndex uint16
	offset       uint32
	length       uint32
}

// Archive is an open single-file VPK. Entries stored in numbered sibling
// archives are listed but cannot be read.
type Archive struct {
	f          *os.File
	version    uint32
	headerSize int64
	treeSize   int64
	entries    map[string]*entry
}

// Open reads the header and directory tree of the archive at path.
func Open(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	a, err := readArchive(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return a, nil
}

func readArchive(f *os.File) (*Archive, error) {
	var head [3]uint32
	if err := binary.Read(f, binary.LittleEndian, &head); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrNotVPK
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if head[0] != signature {
		return nil, ErrNotVPK
	}

	a := &Archive{
		f:        f,
		version:  head[1],
		treeSize: int64(head[2]),
		entries:  make(map[string]*entry),
	}

	switch a.version {
	case 1:
		a.headerSize = headerSizeV1
	case 2:
		a.headerSize = headerSizeV2
	default:
		return nil, fmt.Errorf("unsupported vpk version %d", a.version)
	}

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	if a.treeSize > maxTreeSize || a.headerSize+a.treeSize > st.Size() {
		return nil, fmt.Errorf("directory tree size %d exceeds archive", a.treeSize)
	}

	tree := io.NewSectionReader(f, a.headerSize, a.treeSize)
	if err := a.readTree(bufio.NewReader(tree)); err != nil {
		return nil, fmt.Errorf("reading directory tree: %w", err)
	}
	return a, nil
}

// readTree walks the extension / directory / filename levels of the tree.
// Each level is a list of NUL-terminated strings closed by an empty string.
func (a *Archive) readTree(r *bufio.Reader) error {
	for {
		ext, err := readCString(r)
		if err != nil {
			return err
		}
		if ext == "" {
			return nil
		}
		for {
			dir, err := readCString(r)
			if err != nil {
				return err
			}
			if dir == "" {
				break
			}
			for {
				name, err := readCString(r)
				if err != nil {
					return err
				}
				if name == "" {
					break
				}
				e, err := readEntry(r)
				if err != nil {
					return fmt.Errorf("entry %s/%s.%s: %w", dir, name, ext, err)
				}
				a.entries[joinPath(dir, name, ext)] = e
			}
		}
	}
}

func readEntry(r *bufio.Reader) (*entry, error) {
	var raw struct {
		CRC          uint32
		PreloadBytes uint16
		ArchiveIndex uint16
		Offset       uint32
		Length       uint32
		Terminator   uint16
	}
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return nil, err
	}
	if raw.Terminator != entryTerminator {
		return nil, fmt.Errorf("bad entry terminator %#x", raw.Terminator)
	}

	e := &entry{
		crc:          raw.CRC,
		archiveIndex: raw.ArchiveIndex,
		offset:       raw.Offset,
		length:       raw.Length,
	}
	if raw.PreloadBytes > 0 {
		e.preload = make([]byte, raw.PreloadBytes)
		if _, err := io.ReadFull(r, e.preload); err != nil {
			return nil, fmt.Errorf("reading preload data: %w", err)
		}
	}
	return e, nil
}

func readCString(r *bufio.Reader) (string, error) {
	s, err := r.ReadString(0)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return s[:len(s)-1], nil
}

// joinPath builds the lookup key for an entry. A single space stands for an
// empty directory or extension. Keys are lowercase; the engine ignores case.
func joinPath(dir, name, ext string) string {
	var b strings.Builder
	if dir != " " {
		b.WriteString(strings.Trim(dir, "/"))
		b.WriteByte('/')
	}
	b.WriteString(name)
	if ext != " " {
		b.WriteByte('.')
		b.WriteString(ext)
	}
	return strings.ToLower(b.String())
}

// Version returns the archive format version (1 or 2).
func (a *Archive) Version() uint32 {
	return a.version
}

// Files returns every path in the archive, sorted.
func (a *Archive) Files() []string {
	files := make([]string, 0, len(a.entries))
	for name := range a.entries {
		files = append(files, name)
	}
	sort.Strings(files)
	return files
}

// Has reports whether path is in the archive.
func (a *Archive) Has(path string) bool {
	_, ok := a.entries[strings.ToLower(path)]
	return ok
}

// ReadFile returns the contents of the file at path.
func (a *Archive) ReadFile(path string) ([]byte, error) {
	e, ok := a.entries[strings.ToLower(path)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}

	data := make([]byte, len(e.preload)+int(e.length))
	copy(data, e.preload)
	if e.length == 0 {
		return data, nil
	}

	if e.archiveIndex != dirArchiveIndex {
		return nil, fmt.Errorf("%s is stored in external archive %d", path, e.archiveIndex)
	}

	off := a.headerSize + a.treeSize + int64(e.offset)
	if _, err := a.f.ReadAt(data[len(e.preload):], off); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// Close closes the underlying file.
func (a *Archive) Close() error {
	return a.f.Close()
}
