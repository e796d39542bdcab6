package tpie

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/dropbox/godropbox/math2/rand2"
)

// TmpdirEnv names the environment variable consulted for the default
// temporary directory.
const TmpdirEnv = "TMPDIR"

// SingleDeviceEnv names the environment variable holding the default
// device description.
const SingleDeviceEnv = "AMI_SINGLE_DEVICE"

var tempDefaults = struct {
	sync.Mutex
	path     string
	baseName string
	ext      string
}{
	baseName: "TPIE",
}

// SetDefaultPath overrides the directory used for temporary stream
// files.  An empty value restores the $TMPDIR / platform default
// resolution order.
func SetDefaultPath(path string) {
	tempDefaults.Lock()
	defer tempDefaults.Unlock()
	tempDefaults.path = path
}

// SetDefaultBaseName sets the filename prefix for temporary stream
// files.
func SetDefaultBaseName(name string) {
	tempDefaults.Lock()
	defer tempDefaults.Unlock()
	tempDefaults.baseName = name
}

// SetDefaultExtension sets the filename suffix for temporary stream
// files.
func SetDefaultExtension(ext string) {
	tempDefaults.Lock()
	defer tempDefaults.Unlock()
	tempDefaults.ext = ext
}

// DefaultTmpPath resolves the temporary directory: the explicit
// SetDefaultPath value, then $TMPDIR, then the platform default.
func DefaultTmpPath() string {
	tempDefaults.Lock()
	defer tempDefaults.Unlock()
	if tempDefaults.path != "" {
		return tempDefaults.path
	}
	if dir := os.Getenv(TmpdirEnv); dir != "" {
		return dir
	}
	return os.TempDir()
}

// TempName generates a fresh pathname <dir>/<base>_<postBase>_<rand><ext>,
// where the "_<postBase>" part is omitted when postBase is empty.  An
// empty dir or ext falls back to the process-scope default.  The
// name is not reserved on disk; streams create the file with O_EXCL
// so a collision surfaces as already-exists.
func TempName(postBase, dir, ext string) string {
	tempDefaults.Lock()
	base := tempDefaults.baseName
	defaultExt := tempDefaults.ext
	tempDefaults.Unlock()

	if postBase != "" {
		base = base + "_" + postBase
	}
	if dir == "" {
		dir = DefaultTmpPath()
	}
	if ext == "" {
		ext = defaultExt
	}
	name := base + "_" + strconv.FormatInt(rand2.Int63(), 36) + ext
	return filepath.Join(dir, name)
}
