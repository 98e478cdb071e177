// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package populate

import (
	"archive/zip"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"
	_ "modernc.org/sqlite"
)

// extractedSnapshot is a snapshot database (and attachments) unpacked into
// a private temp directory. cleanup removes everything it owns.
type extractedSnapshot struct {
	dir         string
	db          string
	attachments string // empty when the preset has no attachment archive
	size        int64
	digest      string
}

func (s *extractedSnapshot) cleanup() {
	if s == nil || s.dir == "" {
		return
	}
	_ = os.RemoveAll(s.dir)
}

func extractSnapshot(resources string, p Preset, marker int) (*extractedSnapshot, error) {
	dir, err := os.MkdirTemp("", fmt.Sprintf("devpopulate-%s-%d-", p.Kind, marker))
	if err != nil {
		return nil, err
	}
	snap := &extractedSnapshot{dir: dir}

	archive := filepath.Join(resources, p.Archive())
	snap.db = filepath.Join(dir, p.Entry(marker))
	if err := extractEntry(archive, p.Entry(marker), snap.db); err != nil {
		snap.cleanup()
		return nil, err
	}
	st, err := os.Stat(snap.db)
	if err != nil {
		snap.cleanup()
		return nil, err
	}
	snap.size = st.Size()
	if snap.digest, err = fileDigest(snap.db); err != nil {
		snap.cleanup()
		return nil, err
	}

	attachments := filepath.Join(resources, p.AttachmentArchive(marker))
	if _, err := os.Stat(attachments); err == nil {
		snap.attachments = filepath.Join(dir, p.AttachmentDir())
		if err := extractAll(attachments, snap.attachments); err != nil {
			snap.cleanup()
			return nil, fmt.Errorf("extract attachments for %s-%d: %w", p.Kind, marker, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		snap.cleanup()
		return nil, err
	}
	return snap, nil
}

func extractEntry(archive, name, dst string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open %s: %w", archive, err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		return writeZipFile(f, dst)
	}
	return fmt.Errorf("%s not found in %s", name, archive)
}

func extractAll(archive, dstDir string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open %s: %w", archive, err)
	}
	defer zr.Close()
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return err
	}
	root := filepath.Clean(dstDir) + string(os.PathSeparator)
	for _, f := range zr.File {
		dst := filepath.Join(dstDir, f.Name)
		if !strings.HasPrefix(dst, root) {
			return fmt.Errorf("illegal path %q in %s", f.Name, archive)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := writeZipFile(f, dst); err != nil {
			return err
		}
	}
	return nil
}

func writeZipFile(f *zip.File, dst string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return out.Close()
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SnapshotInfo describes one bundled snapshot.
type SnapshotInfo struct {
	Kind    DataKind `json:"-"`
	Marker  int      `json:"marker"`
	Entry   string   `json:"entry"`
	Records int      `json:"records"`
	Size    int64    `json:"size_bytes"`
	Digest  string   `json:"digest"`
}

// InspectSnapshot counts the records stored in an IndexedDB sqlite file.
func InspectSnapshot(path string) (int, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return 0, err
	}
	defer db.Close()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM object_data").Scan(&n); err != nil {
		return 0, fmt.Errorf("count records in %s: %w", filepath.Base(path), err)
	}
	return n, nil
}

// InspectPresets extracts every bundled snapshot of kind and reports its
// record count, size and digest.
func InspectPresets(env Env, kind DataKind) ([]SnapshotInfo, error) {
	p, ok := PresetFor(kind)
	if !ok {
		return nil, fmt.Errorf("%s has no preset snapshots", kind)
	}
	_, span := startSpan(env, "populate.InspectPresets")
	defer span.End()
	var out []SnapshotInfo
	for _, m := range p.Markers {
		snap, err := extractSnapshot(env.ResourcesDir, p, m)
		if err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		n, err := InspectSnapshot(snap.db)
		info := SnapshotInfo{Kind: kind, Marker: m, Entry: p.Entry(m), Records: n, Size: snap.size, Digest: snap.digest}
		snap.cleanup()
		if err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}
