package update

import (
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/AdguardTeam/golibs/errors"
)

// cacheFilePerm is the permission of the cached list files.
const cacheFilePerm fs.FileMode = 0o644

// Cache stores the last applied content of each profile on disk so that the
// rules are available before the first update after a restart.
type Cache struct {
	dir string
}

// NewCache returns a cache in dir.  The directory is created when the first
// file is stored.
func NewCache(dir string) (c *Cache) {
	return &Cache{
		dir: dir,
	}
}

// path returns the path of the cache file of the profile.
func (c *Cache) path(id string) (p string) {
	return filepath.Join(c.dir, url.PathEscape(id)+".txt")
}

// Store atomically writes data as the cached content of the profile.
func (c *Cache) Store(id string, data []byte) (err error) {
	err = os.MkdirAll(c.dir, 0o755)
	if err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}

	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			err = errors.WithDeferred(err, os.Remove(tmpName))
		}
	}()

	_, err = tmp.Write(data)
	if err != nil {
		return errors.WithDeferred(fmt.Errorf("writing: %w", err), tmp.Close())
	}

	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("closing: %w", err)
	}

	err = os.Chmod(tmpName, cacheFilePerm)
	if err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}

	err = os.Rename(tmpName, c.path(id))
	if err != nil {
		return fmt.Errorf("renaming: %w", err)
	}

	return nil
}

// Load returns the cached content of the profile and the time it was stored.
// If there is no cached content, err is [fs.ErrNotExist].
func (c *Cache) Load(id string) (data []byte, storedAt time.Time, err error) {
	p := c.path(id)
	fi, err := os.Stat(p)
	if err != nil {
		// Don't wrap the error to keep it comparable with fs.ErrNotExist.
		return nil, time.Time{}, err
	}

	data, err = os.ReadFile(p)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading cache: %w", err)
	}

	return data, fi.ModTime(), nil
}

// Remove deletes the cached content of the profile, if any.
func (c *Cache) Remove(id string) (err error) {
	err = os.Remove(c.path(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing cache: %w", err)
	}

	return nil
}
