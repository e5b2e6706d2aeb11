/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package classloader

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"embervm/internal/util"
)

// Classpath is the class-path collaborator describes:
// "a path string ... ':' or ';' separated ... each entry is either a
// directory, searched by joining it with the resource name, or a
// .jar/.zip archive, searched by its central directory." Directories
// are tried before archives, matching the classic JVM search order.
type Classpath struct {
	mutex sync.Mutex
	dirs  []string
	jars  []*zip.ReadCloser
}

// NewClasspath builds a Classpath from a ':'/';' separated path
// string. Archive entries that fail to open are skipped silently
// rather than aborting VM startup, since a stale or
// unreadable jar on an otherwise-working classpath shouldn't prevent
// every other entry from working.
func NewClasspath(cpString string) *Classpath {
	cp := &Classpath{}
	for _, entry := range util.SplitClasspath(cpString) {
		info, err := os.Stat(entry)
		if err != nil {
			continue
		}
		if info.IsDir() {
			cp.dirs = append(cp.dirs, entry)
			continue
		}
		ext := filepath.Ext(entry)
		if ext == ".jar" || ext == ".zip" {
			if zr, err := zip.OpenReader(entry); err == nil {
				cp.jars = append(cp.jars, zr)
			}
		}
	}
	return cp
}

// GetStream returns the bytes behind resourceName ("java/lang/Object.class"),
// trying every directory entry in order, then every archive entry in
// order.
func (cp *Classpath) GetStream(resourceName string) ([]byte, error) {
	cp.mutex.Lock()
	defer cp.mutex.Unlock()

	for _, dir := range cp.dirs {
		data, err := os.ReadFile(filepath.Join(dir, resourceName))
		if err == nil {
			return data, nil
		}
	}
	for _, jar := range cp.jars {
		for _, f := range jar.File {
			if f.Name != resourceName {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				continue
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				continue
			}
			return data, nil
		}
	}
	return nil, errors.Errorf("resource not found on classpath: %s", resourceName)
}

// Close releases every open archive handle, called at VM shutdown.
func (cp *Classpath) Close() {
	cp.mutex.Lock()
	defer cp.mutex.Unlock()
	for _, jar := range cp.jars {
		jar.Close()
	}
}
