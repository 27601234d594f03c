package cacheengine

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/DataDog/zstd"

	"github.com/stratum-build/stratum/internal/errorsx"
	"github.com/stratum-build/stratum/internal/tarpatch"
)

// epoch is the fixed modification time stamped on every archive entry so
// that two runs producing byte-identical output files also produce
// byte-identical archives, grounded on the teacher's cacheitem.AddFile
// (header.ModTime = time.Unix(0, 0)) and internal/cache/cache_http.go's
// `mtime` constant.
var epoch = time.Unix(0, 0)

// WriteArchive builds a deterministic tar+zstd archive of outputs (paths
// relative to anchor) at destPath: entries sorted lexically, uid/gid/mtime
// zeroed, directories included so restoration never has to MkdirAll
// mid-stream. Grounded on cacheitem.Create/AddFile.
func WriteArchive(destPath, anchor string, outputs []string) (err error) {
	f, createErr := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if createErr != nil {
		return &errorsx.CacheError{Op: "archive-create", Message: createErr.Error()}
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	zw := zstd.NewWriter(f)
	defer func() {
		if cerr := zw.Close(); err == nil {
			err = cerr
		}
	}()
	tw := tar.NewWriter(zw)
	defer func() {
		if cerr := tw.Close(); err == nil {
			err = cerr
		}
	}()

	sorted := append([]string(nil), outputs...)
	sort.Strings(sorted)

	written := map[string]bool{}
	for _, rel := range sorted {
		if err := addWithParents(tw, anchor, rel, written); err != nil {
			return err
		}
	}
	return nil
}

// addWithParents writes every ancestor directory of rel that hasn't
// already been written, then rel itself, so a fresh extraction never
// needs a recursive MkdirAll for a nested output path.
func addWithParents(tw *tar.Writer, anchor, rel string, written map[string]bool) error {
	rel = filepath.ToSlash(rel)
	dir := filepath.ToSlash(filepath.Dir(rel))
	if dir != "." && dir != "/" && !written[dir] {
		if err := addWithParents(tw, anchor, dir, written); err != nil {
			return err
		}
	}
	if written[rel] {
		return nil
	}
	written[rel] = true
	return addEntry(tw, anchor, rel)
}

func addEntry(tw *tar.Writer, anchor, rel string) error {
	full := filepath.Join(anchor, rel)
	info, err := os.Lstat(full)
	if err != nil {
		return &errorsx.CacheError{Op: "archive-stat", Message: err.Error()}
	}

	var link string
	if info.Mode()&os.ModeSymlink != 0 {
		link, err = os.Readlink(full)
		if err != nil {
			return &errorsx.CacheError{Op: "archive-readlink", Message: err.Error()}
		}
	}

	// tarpatch avoids archive/tar's OS-level uid/gid lookups, which can
	// fail or hang under a sandboxed/chrooted cache writer.
	header, err := tarpatch.FileInfoHeaderNoLookups(info, link)
	if err != nil {
		return &errorsx.CacheError{Op: "archive-header", Message: err.Error()}
	}
	header.Name = rel
	if info.IsDir() {
		header.Name += "/"
	}
	header.Mode = int64(tarpatch.ChmodTarEntry(os.FileMode(header.Mode)))
	header.Uid, header.Gid = 0, 0
	header.ModTime, header.AccessTime, header.ChangeTime = epoch, epoch, epoch

	if err := tw.WriteHeader(header); err != nil {
		return &errorsx.CacheError{Op: "archive-write-header", Message: err.Error()}
	}
	if info.Mode().IsRegular() {
		src, err := os.Open(full)
		if err != nil {
			return &errorsx.CacheError{Op: "archive-open", Message: err.Error()}
		}
		defer src.Close()
		if _, err := io.Copy(tw, src); err != nil {
			return &errorsx.CacheError{Op: "archive-copy", Message: err.Error()}
		}
	}
	return nil
}

// RestoreArchive extracts srcPath into anchor, returning the
// anchor-relative paths it wrote. Grounded on cacheitem.Restore, simplified
// to rely on the producer-side depth-first, directories-first ordering
// WriteArchive guarantees rather than re-deriving it on read.
func RestoreArchive(srcPath, anchor string) ([]string, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return nil, &errorsx.CacheError{Op: "restore-open", Message: err.Error()}
	}
	defer f.Close()

	zr := zstd.NewReader(f)
	defer zr.Close()
	tr := tar.NewReader(zr)

	if err := os.MkdirAll(anchor, 0o755); err != nil {
		return nil, &errorsx.CacheError{Op: "restore-mkdir", Message: err.Error()}
	}

	var restored []string
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return restored, &errorsx.CacheError{Op: "restore-next", Message: err.Error()}
		}
		dest := filepath.Join(anchor, filepath.FromSlash(header.Name))
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, os.FileMode(header.Mode)); err != nil {
				return restored, &errorsx.CacheError{Op: "restore-mkdir", Message: err.Error()}
			}
		case tar.TypeSymlink:
			_ = os.Remove(dest)
			if err := os.Symlink(header.Linkname, dest); err != nil {
				return restored, &errorsx.CacheError{Op: "restore-symlink", Message: err.Error()}
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return restored, &errorsx.CacheError{Op: "restore-mkdir", Message: err.Error()}
			}
			out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return restored, &errorsx.CacheError{Op: "restore-create", Message: err.Error()}
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return restored, &errorsx.CacheError{Op: "restore-copy", Message: err.Error()}
			}
			out.Close()
		default:
			continue
		}
		restored = append(restored, filepath.ToSlash(header.Name))
	}
	return restored, nil
}
