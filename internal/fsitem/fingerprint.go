package fsitem

import (
	"encoding/binary"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes the observable state of the subtree rooted at the item
// (names, sizes and modification times on disk). An item inside an archive
// takes the state of the archive on disk holding it. It always reads the
// file system, never memoized listings, so two different values mean the
// subtree changed in between.
func (it *Item) Fingerprint() (uint64, error) {
	d := xxhash.New()
	var buf [16]byte
	writeStat := func(name string, size, mtime int64) {
		_, _ = d.WriteString(name)
		binary.LittleEndian.PutUint64(buf[:8], uint64(size))
		binary.LittleEndian.PutUint64(buf[8:], uint64(mtime))
		_, _ = d.Write(buf[:])
	}

	path := it.path
	if it.archive != nil {
		outer := it.archive
		for outer.archive != nil {
			outer = outer.archive
		}
		path = outer.path
		_, _ = d.WriteString(it.path)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			_, _ = d.WriteString("missing:" + it.path)
			return d.Sum64(), nil
		}
		return 0, err
	}
	if !info.IsDir() {
		writeStat(path, info.Size(), info.ModTime().UnixNano())
		return d.Sum64(), nil
	}

	err = filepath.WalkDir(it.path, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			// unreadable entries still contribute their name
			_, _ = d.WriteString("err:" + path)
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			writeStat(path+"/", 0, 0)
			return nil
		}
		writeStat(path, info.Size(), info.ModTime().UnixNano())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return d.Sum64(), nil
}
