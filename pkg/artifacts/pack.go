package artifacts

import (
	"encoding/binary"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
)

// The .gra distribution archive: per-file brotli streams followed by a
// central index. The index stores the file mode so executable bits survive
// the round trip.

type graFile struct {
	offset  int64
	size    int64
	decSize int64
	mode    uint32
}

type graFolder struct {
	folders map[string]*graFolder
	files   map[string]*graFile
}

func newGraFolder() *graFolder {
	return &graFolder{
		folders: map[string]*graFolder{},
		files:   map[string]*graFile{},
	}
}

// GraWriter writes .gra archives.
type GraWriter struct {
	hdl      *os.File
	root     *graFolder
	dirStack []*graFolder
	current  *graFolder
	buffer   []byte
}

// NewGraWriter creates a new archive and opens it for writing.
func NewGraWriter(filename string) (*GraWriter, error) {
	hdl, err := os.Create(filename)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create archive %s", filename)
	}

	root := newGraFolder()

	// skip the header: 4 magic bytes and 3 uint64s
	_, err = hdl.Seek(int64(4+24), io.SeekStart)
	if err != nil {
		hdl.Close()
		return nil, eris.Wrap(err, "failed to reserve archive header")
	}

	return &GraWriter{
		hdl:      hdl,
		root:     root,
		dirStack: []*graFolder{root},
		current:  root,
		buffer:   make([]byte, 4096),
	}, nil
}

// OpenDirectory creates a new directory entry. Anything written until the
// matching CloseDirectory call lands inside it.
func (w *GraWriter) OpenDirectory(dirname string) {
	dir := newGraFolder()
	w.current.folders[dirname] = dir
	w.dirStack = append(w.dirStack, dir)
	w.current = dir
}

// CloseDirectory closes the directory that was opened last.
func (w *GraWriter) CloseDirectory() error {
	stackLen := len(w.dirStack)
	if stackLen < 2 {
		return eris.New("no directory left on stack")
	}

	w.dirStack = w.dirStack[:stackLen-1]
	w.current = w.dirStack[stackLen-2]
	return nil
}

// WriteFile compresses the given file into the current archive directory.
func (w *GraWriter) WriteFile(filename string, reader *os.File, mode fs.FileMode) error {
	item := new(graFile)
	offset, err := w.hdl.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	item.offset = offset
	item.mode = uint32(mode.Perm())
	brw := brotli.NewWriterLevel(w.hdl, brotli.BestCompression)

	decSize, err := io.CopyBuffer(brw, reader, w.buffer)
	if err != nil {
		return err
	}

	err = brw.Close()
	if err != nil {
		return err
	}

	newPos, err := w.hdl.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	item.size = newPos - offset
	item.decSize = decSize
	w.current.files[filename] = item

	return nil
}

// Close writes the central index and finalizes the archive.
func (w *GraWriter) Close() error {
	if len(w.dirStack) != 1 {
		w.hdl.Close()
		return eris.New("open directories left over")
	}

	items := uint64(0)
	buffer := make([]byte, 48)
	tocOffset, err := w.hdl.Seek(0, io.SeekCurrent)
	if err != nil {
		w.hdl.Close()
		return err
	}

	err = writeIndexEntries(w.root, w.hdl, &items, buffer)
	if err != nil {
		w.hdl.Close()
		return err
	}

	_, err = w.hdl.Seek(0, io.SeekStart)
	if err != nil {
		w.hdl.Close()
		return err
	}

	copy(buffer[:4], "GRNY")
	binary.LittleEndian.PutUint64(buffer[4:12], 1)
	binary.LittleEndian.PutUint64(buffer[12:20], uint64(tocOffset))
	binary.LittleEndian.PutUint64(buffer[20:28], items)

	_, err = w.hdl.Write(buffer[:28])
	if err != nil {
		w.hdl.Close()
		return err
	}

	return w.hdl.Close()
}

func writeIndexEntry(hdl *os.File, buffer []byte, file *graFile, name string) error {
	binary.LittleEndian.PutUint64(buffer[:8], uint64(file.offset))
	binary.LittleEndian.PutUint64(buffer[8:16], uint64(file.size))
	binary.LittleEndian.PutUint64(buffer[16:24], uint64(file.decSize))
	binary.LittleEndian.PutUint32(buffer[24:28], file.mode)
	binary.LittleEndian.PutUint16(buffer[28:30], uint16(len(name)))

	_, err := hdl.Write(buffer[:30])
	if err != nil {
		return err
	}

	_, err = hdl.WriteString(name)
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeIndexEntries(folder *graFolder, hdl *os.File, items *uint64, buffer []byte) error {
	// deterministic order so identical layouts produce identical archives
	for _, name := range sortedKeys(folder.folders) {
		err := writeIndexEntry(hdl, buffer, &graFile{}, name)
		if err != nil {
			return err
		}

		err = writeIndexEntries(folder.folders[name], hdl, items, buffer)
		if err != nil {
			return err
		}

		err = writeIndexEntry(hdl, buffer, &graFile{}, "..")
		if err != nil {
			return err
		}
	}

	for _, name := range sortedKeys(folder.files) {
		err := writeIndexEntry(hdl, buffer, folder.files[name], name)
		if err != nil {
			return err
		}
	}

	*items += uint64(len(folder.folders)*2 + len(folder.files))
	return nil
}

// Pack archives an installed layout into a .gra file.
func Pack(layoutRoot, outPath string) error {
	writer, err := NewGraWriter(outPath)
	if err != nil {
		return err
	}

	err = packDir(writer, layoutRoot)
	if err != nil {
		writer.hdl.Close()
		return err
	}

	return writer.Close()
}

func packDir(writer *GraWriter, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return eris.Wrapf(err, "failed to read directory %s", dir)
	}

	for _, entry := range entries {
		itemPath := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			writer.OpenDirectory(entry.Name())
			err = packDir(writer, itemPath)
			if err != nil {
				return err
			}

			err = writer.CloseDirectory()
			if err != nil {
				return err
			}
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return eris.Wrapf(err, "failed to stat %s", itemPath)
		}

		handle, err := os.Open(itemPath)
		if err != nil {
			return eris.Wrapf(err, "failed to open %s", itemPath)
		}

		err = writer.WriteFile(entry.Name(), handle, info.Mode())
		handle.Close()
		if err != nil {
			return eris.Wrapf(err, "failed to pack %s", itemPath)
		}
	}

	return nil
}
