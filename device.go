package tpie

import (
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// Device resolves a logical stream name to a backing directory across
// a colon-separated list of device paths.  Stream files are placed in
// the first writable path.
type Device struct {
	paths []string
}

// SetToPath replaces the device list with the components of the given
// colon-separated path list.  Empty components are preserved, matching
// the usual PATH-style parsing.
func (d *Device) SetToPath(colonList string) {
	d.paths = strings.Split(colonList, ":")
}

// ReadEnvironment loads the device list from the named environment
// variable.
func (d *Device) ReadEnvironment(name string) error {
	value, ok := os.LookupEnv(name)
	if !ok {
		return Errorf(EnvUndefined, "environment variable %v is not set", name)
	}
	d.SetToPath(value)
	return nil
}

// Arity reports the number of device paths.
func (d *Device) Arity() int {
	return len(d.paths)
}

// Path returns the i'th device path.
func (d *Device) Path(i int) string {
	return d.paths[i]
}

func (d *Device) String() string {
	return strings.Join(d.paths, ":")
}

// FirstWritable returns the first device path the process can write
// to.
func (d *Device) FirstWritable() (string, error) {
	for _, p := range d.paths {
		if unix.Access(p, unix.W_OK) == nil {
			return p, nil
		}
	}
	return "", Errorf(PermissionDenied, "no writable path in %v", d)
}
