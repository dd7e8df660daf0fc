package toolchain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
	"lukechampine.com/blake3"

	"github.com/conneroisu/farm/pkg/glog"
)

// Resolved is the content-addressed handle for a materialized toolchain.
// It's a plain value; downstream components never mutate it.
type Resolved struct {
	Spec      Spec
	StorePath string
	BinDir    string
}

const fetchAttempts = 3

// Resolver turns pinned specs into store paths. The store is append-only and
// keyed by content, so concurrent resolutions of independent specs are safe.
type Resolver struct {
	manifest  *Manifest
	cacheRoot string
	client    *http.Client
}

func NewResolver(manifest *Manifest, cacheRoot string) *Resolver {
	return &Resolver{
		manifest:  manifest,
		cacheRoot: cacheRoot,
		client: &http.Client{
			Timeout: time.Minute * 30,
		},
	}
}

// DefaultCacheRoot returns the store location, honoring GRANARY_CACHE.
func DefaultCacheRoot() string {
	if override := os.Getenv("GRANARY_CACHE"); override != "" {
		return override
	}

	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = ".cache"
	}
	return filepath.Join(cacheDir, "granary")
}

func storeDigest(spec Spec, sha string) string {
	sum := blake3.Sum256([]byte(fmt.Sprintf("%s@%s#%s", spec.Name, spec.Version, sha)))
	return hex.EncodeToString(sum[:])[:12]
}

// Resolve materializes the given spec. On a warm cache this only checks the
// store stamp; on a miss it downloads, verifies and unpacks the pinned
// artifact. Two resolutions of the same spec always yield the same store path.
func (r *Resolver) Resolve(ctx context.Context, spec Spec) (Resolved, error) {
	var resolved Resolved

	if err := spec.Validate(); err != nil {
		return resolved, err
	}

	entry, err := r.manifest.Lookup(spec)
	if err != nil {
		return resolved, err
	}

	digest := storeDigest(spec, entry.Sha256)
	storePath := filepath.Join(r.cacheRoot, "store", fmt.Sprintf("%s-%s-%s", digest, spec.Name, spec.Version))
	resolved = Resolved{
		Spec:      spec,
		StorePath: storePath,
		BinDir:    filepath.Join(storePath, entry.BinDir()),
	}

	stampToken := entry.URL + "#" + entry.Sha256
	if stampMatches(storePath, stampToken) {
		glog.Log(ctx).Debug().Str("toolchain", spec.String()).Msg("store hit")
		return resolved, nil
	}

	err = withStoreLock(storePath, func() error {
		// another process may have finished while we waited for the lock
		if stampMatches(storePath, stampToken) {
			return nil
		}

		return r.fetchAndUnpack(ctx, spec, entry, storePath, stampToken)
	})
	if err != nil {
		return Resolved{}, err
	}

	return resolved, nil
}

func (r *Resolver) fetchAndUnpack(ctx context.Context, spec Spec, entry Entry, storePath, stampToken string) error {
	glog.Log(ctx).Info().
		Str("toolchain", spec.String()).
		Str("url", entry.URL).
		Msg("fetching toolchain")

	archive, err := os.CreateTemp(filepath.Dir(storePath), ".fetch-*")
	if err != nil {
		return eris.Wrap(err, "failed to create download file")
	}
	defer func() {
		archive.Close()
		os.Remove(archive.Name())
	}()

	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			glog.Log(ctx).Warn().
				Str("toolchain", spec.String()).
				Msgf("retrying download (attempt %d)", attempt+1)
			time.Sleep(time.Duration(attempt) * time.Second)
		}

		lastErr = r.download(ctx, entry, archive)
		if lastErr == nil || !eris.Is(lastErr, ErrNetwork) {
			break
		}
	}
	if lastErr != nil {
		return lastErr
	}

	// The store is append-only but a partially unpacked tree from a crashed
	// run must not survive.
	err = os.RemoveAll(storePath)
	if err != nil {
		return eris.Wrapf(err, "failed to clear store path %s", storePath)
	}

	extractor, err := getExtractor(entry.URL)
	if err != nil {
		return err
	}

	if _, err = archive.Seek(0, io.SeekStart); err != nil {
		return eris.Wrap(err, "failed to rewind download")
	}

	stat, err := archive.Stat()
	if err != nil {
		return eris.Wrap(err, "failed to stat download")
	}

	bar := newProgressBar(stat.Size(), "      unpack")
	err = extractor(archive, bar, storePath, entry)
	if err != nil {
		return err
	}

	for _, binPath := range entry.MarkExec {
		binPath = filepath.Join(storePath, binPath)
		fi, err := os.Stat(binPath)
		if err != nil {
			return eris.Wrapf(err, "failed to read permissions for %s", binPath)
		}

		err = os.Chmod(binPath, fi.Mode()|0o700)
		if err != nil {
			return eris.Wrapf(err, "failed to mark %s as executable", binPath)
		}
	}

	return writeStamp(storePath, stampToken)
}

func (r *Resolver) download(ctx context.Context, entry Entry, dest *os.File) error {
	if err := dest.Truncate(0); err != nil {
		return eris.Wrap(err, "failed to reset download file")
	}
	if _, err := dest.Seek(0, io.SeekStart); err != nil {
		return eris.Wrap(err, "failed to reset download file")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.URL, nil)
	if err != nil {
		return eris.Wrapf(err, "invalid toolchain URL %s", entry.URL)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return eris.Wrapf(ErrNetwork, "download of %s failed: %v", entry.URL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return eris.Wrapf(ErrNotFound, "%s answered %s", entry.URL, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return eris.Wrapf(ErrNetwork, "%s answered %s", entry.URL, resp.Status)
	}

	hash := sha256.New()
	bar := newProgressBar(resp.ContentLength, "    download")
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if err != nil && n < 1 {
			if err == io.EOF {
				break
			}
			return eris.Wrapf(ErrNetwork, "download of %s aborted: %v", entry.URL, err)
		}

		if _, err = hash.Write(buf[:n]); err != nil {
			return eris.Wrapf(err, "failed to hash download of %s", entry.URL)
		}

		if _, err = dest.Write(buf[:n]); err != nil {
			return eris.Wrap(err, "failed to write download to disk")
		}

		bar.Write(buf[:n])
	}
	bar.Finish()

	digest := hex.EncodeToString(hash.Sum(nil))
	if digest != entry.Sha256 {
		return eris.Wrapf(ErrIntegrity, "%s: got %s, pinned %s", entry.URL, digest, entry.Sha256)
	}

	return nil
}

func newProgressBar(length int64, desc string) *progressbar.ProgressBar {
	if os.Getenv("CI") == "true" || !term.IsTerminal(int(os.Stderr.Fd())) {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

func stampPath(storePath string) string {
	return storePath + ".stamp"
}

func stampMatches(storePath, token string) bool {
	data, err := os.ReadFile(stampPath(storePath))
	if err != nil {
		return false
	}

	if _, err = os.Stat(storePath); err != nil {
		return false
	}

	return string(data) == token
}

func writeStamp(storePath, token string) error {
	err := os.WriteFile(stampPath(storePath), []byte(token), 0o644)
	if err != nil {
		return eris.Wrapf(err, "failed to write stamp for %s", storePath)
	}
	return nil
}

// withStoreLock serializes writers of a single store entry. Distinct entries
// use distinct lock files, so independent resolutions never contend.
func withStoreLock(storePath string, fn func() error) error {
	err := os.MkdirAll(filepath.Dir(storePath), 0o755)
	if err != nil {
		return eris.Wrap(err, "failed to create store directory")
	}

	lockFile, err := os.OpenFile(storePath+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return eris.Wrap(err, "failed to open store lock")
	}
	defer lockFile.Close()

	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX); err != nil {
		return eris.Wrap(err, "failed to lock store entry")
	}
	defer unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)

	return fn()
}
