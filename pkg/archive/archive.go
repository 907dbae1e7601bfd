// Package archive moves design trees in and out of zip files.
//
// Extraction validates every entry before the first byte is written, so a
// hostile archive leaves nothing behind. Packaging stores paths relative to
// the packed directory with no root folder, in lexical order.
package archive

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/faults"
)

// Limits bounds what Extract accepts. Zero fields are unlimited.
type Limits struct {
	MaxEntries    int
	MaxTotalBytes uint64
}

// entry is a checked archive member and its destination.
type entry struct {
	file   *zip.File
	target string
}

// Extract unpacks zipPath into dest. An entry whose name would land outside
// dest is a security error; exceeding limits is a validation error. In both
// cases nothing is written.
func Extract(zipPath, dest string, limits Limits) error {
	// A reader is returned alongside an insecure-path error; plan rejects
	// those entries itself.
	zr, err := zip.OpenReader(zipPath)
	if zr == nil {
		return faults.Wrap(faults.KindValidation, err, "archive: open %s", filepath.Base(zipPath))
	}
	defer zr.Close()

	root, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	entries, err := plan(zr.File, root, limits)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("archive: create %s: %w", dest, err)
	}
	for _, e := range entries {
		if err := write(e); err != nil {
			return err
		}
	}
	return nil
}

// plan checks every member and computes its target path. Every path is
// checked before any limit, so an escaping entry is always a security error.
func plan(files []*zip.File, root string, limits Limits) ([]entry, error) {
	out := make([]entry, 0, len(files))
	for _, f := range files {
		target, err := targetPath(root, f.Name)
		if err != nil {
			return nil, err
		}
		if f.Mode()&fs.ModeSymlink != 0 {
			return nil, faults.Securityf("archive: symlink entry %q not allowed", f.Name)
		}
		out = append(out, entry{file: f, target: target})
	}

	if limits.MaxEntries > 0 && len(files) > limits.MaxEntries {
		return nil, faults.Validationf("archive: %d entries exceeds limit %d", len(files), limits.MaxEntries)
	}
	var total uint64
	for _, f := range files {
		total += f.UncompressedSize64
		if limits.MaxTotalBytes > 0 && total > limits.MaxTotalBytes {
			return nil, faults.Validationf("archive: uncompressed size exceeds limit of %d bytes", limits.MaxTotalBytes)
		}
	}
	return out, nil
}

// targetPath resolves name under root, rejecting absolute paths, drive
// letters and any path that climbs out of root.
func targetPath(root, name string) (string, error) {
	clean := strings.ReplaceAll(name, `\`, "/")
	if clean == "" {
		return "", faults.Securityf("archive: empty entry name")
	}
	if strings.HasPrefix(clean, "/") || (len(clean) >= 2 && clean[1] == ':') {
		return "", faults.Securityf("archive: illegal file path %q in zip", name)
	}
	rel := path.Clean(clean)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", faults.Securityf("archive: illegal file path %q in zip", name)
	}
	target := filepath.Join(root, filepath.FromSlash(rel))
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", faults.Securityf("archive: illegal file path %q in zip", name)
	}
	return target, nil
}

func write(e entry) error {
	if e.file.FileInfo().IsDir() || strings.HasSuffix(e.file.Name, "/") {
		if err := os.MkdirAll(e.target, 0o755); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(e.target), 0o755); err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	rc, err := e.file.Open()
	if err != nil {
		return faults.Wrap(faults.KindValidation, err, "archive: read %q", e.file.Name)
	}
	defer rc.Close()

	out, err := os.OpenFile(e.target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	// Declared sizes can lie; never copy more than was checked.
	if _, err := io.Copy(out, io.LimitReader(rc, int64(e.file.UncompressedSize64))); err != nil {
		out.Close()
		return faults.Wrap(faults.KindValidation, err, "archive: extract %q", e.file.Name)
	}
	return out.Close()
}

// FindDir returns the first directory under root, root included, for which
// match reports true. Directories are visited in lexical order.
func FindDir(root string, match func(dir string) bool) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if match(p) {
			found = p
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("archive: walk %s: %w", root, err)
	}
	if found == "" {
		return "", faults.NotFoundf("no design directory found in upload")
	}
	return found, nil
}

// CopyTree copies the regular files and directories of src to dst, which
// must not exist yet.
func CopyTree(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return faults.Conflictf("archive: %s already exists", dst)
	}
	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type().IsRegular():
			return copyFile(p, target)
		default:
			return nil
		}
	})
	if err != nil {
		return fmt.Errorf("archive: copy %s: %w", src, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Pack writes the files under srcDir to a deflated zip at outZip, replacing
// any existing file. Entry names are slash-separated paths relative to
// srcDir; the directory itself is not an entry.
func Pack(srcDir, outZip string) error {
	var files []string
	err := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("archive: walk %s: %w", srcDir, err)
	}
	sort.Strings(files)

	if err := os.Remove(outZip); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("archive: %w", err)
	}
	f, err := os.Create(outZip)
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", outZip, err)
	}
	zw := zip.NewWriter(f)
	for _, p := range files {
		if err := addFile(zw, srcDir, p); err != nil {
			zw.Close()
			f.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("archive: finish %s: %w", outZip, err)
	}
	return f.Close()
}

func addFile(zw *zip.Writer, base, p string) error {
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	info, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	hdr.Name = filepath.ToSlash(rel)
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("archive: add %s: %w", hdr.Name, err)
	}
	in, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	defer in.Close()
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("archive: add %s: %w", hdr.Name, err)
	}
	return nil
}
