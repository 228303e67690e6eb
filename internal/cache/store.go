package cache

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/rainydays-etl/internal/domain"
)

// Store persists artifacts by key.
type Store interface {
	// Exists reports whether a complete artifact is stored under k.
	Exists(k Key) bool
	// Open returns a reader over the artifact stored under k.
	Open(k Key) (io.ReadCloser, error)
	// Put stores what write produces under k. Nothing becomes visible under
	// k unless write and the final publish both succeed.
	Put(k Key, write func(io.Writer) error) error
	// Remove deletes the artifact. A missing artifact is not an error.
	Remove(k Key) error
	// Locate returns a human-readable location for k, used in logs.
	Locate(k Key) string
}

// FileStore lays artifacts out under three roots: tmp for the daily tiers,
// data for monthly counts, and out for the averages.
type FileStore struct {
	tmpDir  string
	dataDir string
	outDir  string
}

// NewFileStore creates a store rooted at the given directories. The
// directories are created on demand.
func NewFileStore(tmpDir, dataDir, outDir string) *FileStore {
	return &FileStore{tmpDir: tmpDir, dataDir: dataDir, outDir: outDir}
}

// Locate returns the path k is stored at.
func (s *FileStore) Locate(k Key) string {
	switch k.Tier {
	case TierCompressed:
		return filepath.Join(s.tmpDir, "tifgz0", "chirpsv2-raw-"+k.Resolution.String()+"-"+dayStamp(k.Date)+".tif.gz")
	case TierRaw:
		return filepath.Join(s.tmpDir, "tifraw", "chirpsv2-raw-"+k.Resolution.String()+"-"+dayStamp(k.Date)+".tif")
	case TierClipped:
		return filepath.Join(s.tmpDir, "tifaoi",
			fmt.Sprintf("chirpsv2-aoi-%s-%s-%s.tif", k.Resolution, k.AreaID, dayStamp(k.Date)))
	case TierMonthly:
		return filepath.Join(s.dataDir, fmt.Sprintf("%04d", k.Year),
			fmt.Sprintf("rainydays-%s-%s-%04d-%02d.tif", k.Resolution, k.AreaID, k.Year, k.Month))
	case TierAverage:
		return filepath.Join(s.outDir,
			fmt.Sprintf("local_%s_%s_%d-%d", k.Resolution, k.AreaID, k.Years.Min, k.Years.Max),
			fmt.Sprintf("datarecord_m%02d.tif", k.Month))
	case TierRemoteAverage:
		return filepath.Join(s.outDir,
			fmt.Sprintf("geesrv_%d-%d_res%d_%s", k.Years.Min, k.Years.Max, k.Scale, k.AreaID),
			fmt.Sprintf("datarecord_m%02d.tif", k.Month))
	default:
		return filepath.Join(s.tmpDir, "unknown", k.String())
	}
}

func dayStamp(d time.Time) string { return d.Format("2006-01-02") }

// EnsureDir creates the directory k is stored in. It is safe to call
// repeatedly.
func (s *FileStore) EnsureDir(k Key) error {
	if err := os.MkdirAll(filepath.Dir(s.Locate(k)), 0o755); err != nil {
		return domain.IOError("create cache dir", err)
	}
	return nil
}

func (s *FileStore) Exists(k Key) bool {
	info, err := os.Stat(s.Locate(k))
	return err == nil && info.Mode().IsRegular()
}

func (s *FileStore) Open(k Key) (io.ReadCloser, error) {
	f, err := os.Open(s.Locate(k))
	if err != nil {
		return nil, domain.IOError("open "+string(k.Tier)+" artifact", err)
	}
	return f, nil
}

// Put writes into a temporary file next to the destination and renames it
// into place once write returns nil.
func (s *FileStore) Put(k Key, write func(io.Writer) error) error {
	if err := s.EnsureDir(k); err != nil {
		return err
	}
	path := s.Locate(k)
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return domain.IOError("create temp artifact", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op once renamed

	if err := write(tmp); err != nil {
		tmp.Close() //nolint:errcheck,gosec // already failing
		return err
	}
	if err := tmp.Close(); err != nil {
		return domain.IOError("close temp artifact", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return domain.IOError("publish artifact", err)
	}
	return nil
}

func (s *FileStore) Remove(k Key) error {
	if err := os.Remove(s.Locate(k)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return domain.IOError("remove "+string(k.Tier)+" artifact", err)
	}
	return nil
}
