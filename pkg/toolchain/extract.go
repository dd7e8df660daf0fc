package toolchain

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"
)

type extractor func(f *os.File, bar *progressbar.ProgressBar, destPath string, entry Entry) error

func getExtractor(url string) (extractor, error) {
	switch {
	case strings.HasSuffix(url, ".zip"):
		return extractZip, nil
	case strings.HasSuffix(url, ".tar.gz"), strings.HasSuffix(url, ".tgz"):
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, entry Entry) error {
			reader, err := gzip.NewReader(f)
			if err != nil {
				return eris.Wrap(err, "failed to open gzip stream")
			}
			defer reader.Close()

			return extractTar(reader, f, bar, destPath, entry)
		}, nil
	case strings.HasSuffix(url, ".tar.bz2"):
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, entry Entry) error {
			return extractTar(bzip2.NewReader(f), f, bar, destPath, entry)
		}, nil
	case strings.HasSuffix(url, ".tar.xz"):
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, entry Entry) error {
			reader, err := xz.NewReader(f)
			if err != nil {
				return eris.Wrap(err, "failed to open xz stream")
			}

			return extractTar(reader, f, bar, destPath, entry)
		}, nil
	}

	return nil, eris.Errorf("no extractor for archive URL %s", url)
}

// openExtractorDest normalizes the archive entry path, strips the configured
// number of leading elements and creates the destination file.
func openExtractorDest(destPath, item string, entry Entry) (*os.File, string, error) {
	pathParts := strings.Split(filepath.Clean(filepath.FromSlash(item)), string(filepath.Separator))
	if entry.Strip >= len(pathParts) {
		return nil, "", nil
	}

	dest := filepath.Join(destPath, strings.Join(pathParts[entry.Strip:], string(filepath.Separator)))
	if dest == destPath {
		return nil, "", nil
	}

	// .. components must not let an archive write outside its store entry
	if !strings.HasPrefix(dest, destPath+string(filepath.Separator)) {
		return nil, "", eris.Errorf("archive entry %s escapes the extraction root", item)
	}

	destParent := filepath.Dir(dest)
	err := os.MkdirAll(destParent, 0o755)
	if err != nil {
		return nil, "", eris.Wrapf(err, "failed to create directory %s", destParent)
	}

	destHandle, err := os.Create(dest)
	if err != nil {
		return nil, "", eris.Wrapf(err, "failed to create file %s", dest)
	}

	return destHandle, dest, nil
}

func extractZip(f *os.File, bar *progressbar.ProgressBar, destPath string, entry Entry) error {
	stat, err := f.Stat()
	if err != nil {
		return eris.Wrap(err, "failed to stat archive")
	}

	archive, err := zip.NewReader(f, stat.Size())
	if err != nil {
		return eris.Wrap(err, "failed to open zip archive")
	}

	buf := make([]byte, 4096)
	for _, item := range archive.File {
		if strings.HasSuffix(item.Name, "/") {
			continue
		}

		destHandle, dest, err := openExtractorDest(destPath, item.Name, entry)
		if err != nil {
			return err
		}
		if destHandle == nil {
			continue
		}

		itemHandle, err := item.Open()
		if err != nil {
			destHandle.Close()
			return eris.Wrapf(err, "failed to open archive entry %s", item.Name)
		}

		err = copyEntry(destHandle, itemHandle, buf, f, bar)
		itemHandle.Close()
		destHandle.Close()
		if err != nil {
			return eris.Wrapf(err, "failed to extract %s to %s", item.Name, dest)
		}
	}

	return nil
}

func extractTar(r io.Reader, f *os.File, bar *progressbar.ProgressBar, destPath string, entry Entry) error {
	buf := make([]byte, 4096)
	archive := tar.NewReader(r)

	for {
		item, err := archive.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return eris.Wrap(err, "failed to read archive entry")
		}

		fi := item.FileInfo()
		if fi.IsDir() {
			continue
		}

		destHandle, dest, err := openExtractorDest(destPath, item.Name, entry)
		if err != nil {
			return err
		}
		if destHandle == nil {
			continue
		}

		if item.Typeflag == tar.TypeSymlink {
			destHandle.Close()
			err = os.Remove(dest)
			if err != nil {
				return eris.Wrapf(err, "failed to remove placeholder file %s", dest)
			}

			err = os.Symlink(item.Linkname, dest)
			if err != nil {
				return eris.Wrapf(err, "failed to create symlink %s pointing to %s", dest, item.Linkname)
			}
			continue
		}

		err = copyEntry(destHandle, archive, buf, f, bar)
		destHandle.Close()
		if err != nil {
			return eris.Wrapf(err, "failed to extract %s to %s", item.Name, dest)
		}

		os.Chmod(dest, fi.Mode())
	}

	return nil
}

func copyEntry(dest io.Writer, src io.Reader, buf []byte, f *os.File, bar *progressbar.ProgressBar) error {
	for {
		n, err := src.Read(buf)
		if err != nil && n < 1 {
			if err == io.EOF {
				return nil
			}
			return err
		}

		if _, err = dest.Write(buf[:n]); err != nil {
			return err
		}

		pos, err := f.Seek(0, io.SeekCurrent)
		if err == nil {
			bar.Set64(pos)
		}
	}
}
