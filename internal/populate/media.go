// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package populate

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bogem/id3v2/v2"
	"go.opentelemetry.io/otel/attribute"
)

const mediaRoot = "/sdcard"

func (p *Populator) populateMedia(ctx context.Context, kind DataKind, count int) error {
	ctx, span := tracer.Start(ctx, "populate.populateMedia")
	span.SetAttributes(attribute.String("kind", kind.String()), attribute.Int("count", count))
	defer span.End()

	tpl, ok := TemplateFor(kind)
	if !ok {
		err := fmt.Errorf("%s is not a media kind", kind)
		recordSpanError(span, err)
		return err
	}
	if err := p.removeMedia(ctx, kind); err != nil {
		recordSpanError(span, err)
		return err
	}
	if err := p.pushMedia(ctx, tpl, count); err != nil {
		recordSpanError(span, err)
		return err
	}
	return nil
}

// removeMedia deletes every file of kind and checks that none remain.
// Deletions can take a moment to show up in the listing, so a non-zero
// count is re-checked once after RemovalGrace.
func (p *Populator) removeMedia(ctx context.Context, kind DataKind) error {
	dl, err := p.data(ctx)
	if err != nil {
		return err
	}
	files, err := dl.MediaFiles(ctx, kind)
	if err != nil {
		return fmt.Errorf("list %s files: %w", kind, err)
	}
	if len(files) == 0 {
		return nil
	}
	android, err := p.device.IsAndroidBuild(ctx)
	if err != nil {
		return err
	}
	logEvent(p.env, "media remove", "kind", kind.String(), "files", len(files))
	for _, f := range files {
		remote := mediaPath(f)
		if android {
			remote = p.resolveVolume(ctx, remote)
		}
		if err := p.device.Remove(ctx, remote); err != nil {
			return fmt.Errorf("remove %s: %w", remote, err)
		}
	}

	remaining, err := dl.MediaFiles(ctx, kind)
	if err != nil {
		return fmt.Errorf("list %s files: %w", kind, err)
	}
	if len(remaining) != 0 {
		logDebug(p.env, "media removal pending", "kind", kind.String(), "remaining", len(remaining))
		p.sleep(p.removalGrace())
		if remaining, err = dl.MediaFiles(ctx, kind); err != nil {
			return fmt.Errorf("list %s files: %w", kind, err)
		}
	}
	if len(remaining) != 0 {
		return &IncorrectCountError{Kind: kind, Expected: 0, Actual: len(remaining)}
	}
	return nil
}

func (p *Populator) removalGrace() time.Duration {
	if p.env.RemovalGrace > 0 {
		return p.env.RemovalGrace
	}
	return DefaultRemovalGrace
}

// resolveVolume follows /sdcard style links to the storage volume that
// really holds the file. The input path is kept when resolution fails.
func (p *Populator) resolveVolume(ctx context.Context, remote string) string {
	resolved, err := p.device.Shell(ctx, "readlink", "-f", remote)
	resolved = strings.TrimSpace(resolved)
	if err != nil || !strings.HasPrefix(resolved, "/") {
		return remote
	}
	return resolved
}

func mediaPath(name string) string {
	if strings.HasPrefix(name, "/") {
		return name
	}
	return path.Join(mediaRoot, name)
}

// pushMedia copies count files of the template to its destination. Music
// copies get their own ID3 tags so every file is a distinct track.
func (p *Populator) pushMedia(ctx context.Context, tpl MediaTemplate, count int) error {
	if count == 0 {
		return nil
	}
	src := filepath.Join(p.env.ResourcesDir, tpl.Source)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("%s template: %w", tpl.Kind, err)
	}
	var workDir string
	if tpl.Kind == Music {
		dir, err := os.MkdirTemp("", "devpopulate-music-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		workDir = dir
	}

	logEvent(p.env, "media push", "kind", tpl.Kind.String(), "count", count, "destination", tpl.Destination)
	for i := 1; i <= count; i++ {
		name := mediaName(tpl.Source, i)
		local := src
		if tpl.Kind == Music {
			local = filepath.Join(workDir, name)
			if err := writeMusicCopy(src, local, i); err != nil {
				return fmt.Errorf("tag %s: %w", name, err)
			}
		}
		remote := path.Join(tpl.Destination, name)
		if err := p.device.Push(ctx, local, remote); err != nil {
			return fmt.Errorf("push %s: %w", remote, err)
		}
		if local != src {
			_ = os.Remove(local)
		}
		p.report(tpl.Kind, i, count)
	}
	return nil
}

// writeMusicCopy copies src to dst and tags it as track index of the
// generated library.
func writeMusicCopy(src, dst string, index int) error {
	if err := copyFile(src, dst); err != nil {
		return err
	}
	tag, err := id3v2.Open(dst, id3v2.Options{Parse: true})
	if err != nil {
		return err
	}
	album, track := AlbumTrack(index)
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetTitle(fmt.Sprintf("Track %d", track))
	tag.SetArtist(fmt.Sprintf("Artist %d", album))
	tag.SetAlbum(fmt.Sprintf("Album %d", album))
	tag.AddTextFrame(tag.CommonID("Track number/Position in set"), tag.DefaultEncoding(),
		fmt.Sprintf("%d/%d", track, TracksPerAlbum))
	if err := tag.Save(); err != nil {
		tag.Close()
		return err
	}
	return tag.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
