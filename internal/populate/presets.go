// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package populate

import (
	"fmt"
	"path"
	"strings"
)

// TracksPerAlbum groups generated music files into albums.
const TracksPerAlbum = 10

// Preset describes the bundled snapshots for a structured kind.
type Preset struct {
	Kind DataKind
	// Prefix names the bundled archives: <prefix>Db.zip holding
	// <prefix>Db-<marker>.sqlite, and optional <prefix>Attachments-<marker>.zip.
	Prefix string
	// Markers are strictly increasing and always start at 0.
	Markers []int
	// Remainder is true when counts above a marker are topped up with
	// single-record inserts.
	Remainder bool
	// DeviceFile is the database name inside the index directory.
	DeviceFile string
}

// MediaTemplate describes the bundled template file for a media kind.
type MediaTemplate struct {
	Kind        DataKind
	Source      string
	Destination string
	// Storage is the DeviceStorage area the data layer enumerates.
	Storage string
}

var presets = [...]Preset{
	Call: {
		Kind:       Call,
		Prefix:     "dialer",
		Markers:    []int{0, 50, 100, 200, 500},
		DeviceFile: "2584670174dsitanleecreR.sqlite",
	},
	Contact: {
		Kind:       Contact,
		Prefix:     "contacts",
		Markers:    []int{0, 200, 500, 1000, 2000},
		Remainder:  true,
		DeviceFile: "3406066227csotncta.sqlite",
	},
	Event: {
		Kind:       Event,
		Prefix:     "calendar",
		Markers:    []int{0, 900, 1300, 2400, 3200},
		DeviceFile: "125582036br2agd-nceal.sqlite",
	},
	Message: {
		Kind:       Message,
		Prefix:     "sms",
		Markers:    []int{0, 200, 500, 1000, 2000},
		DeviceFile: "226660312ssm.sqlite",
	},
}

var mediaTemplates = map[DataKind]MediaTemplate{
	Music:   {Kind: Music, Source: "MUS_0001.mp3", Destination: "/sdcard/Music", Storage: "music"},
	Picture: {Kind: Picture, Source: "IMG_0001.jpg", Destination: "/sdcard/DCIM/100MZLLA", Storage: "pictures"},
	Video:   {Kind: Video, Source: "VID_0001.3gp", Destination: "/sdcard/DCIM/100MZLLA", Storage: "videos"},
}

// PresetFor returns the snapshot table entry for a structured kind.
func PresetFor(kind DataKind) (Preset, bool) {
	if !kind.IsStructured() {
		return Preset{}, false
	}
	p := presets[kind]
	p.Markers = append([]int(nil), p.Markers...)
	return p, true
}

// TemplateFor returns the bundled template for a media kind.
func TemplateFor(kind DataKind) (MediaTemplate, bool) {
	t, ok := mediaTemplates[kind]
	return t, ok
}

func (p Preset) Archive() string { return p.Prefix + "Db.zip" }

func (p Preset) Entry(marker int) string {
	return fmt.Sprintf("%sDb-%d.sqlite", p.Prefix, marker)
}

func (p Preset) AttachmentArchive(marker int) string {
	return fmt.Sprintf("%sAttachments-%d.zip", p.Prefix, marker)
}

// AttachmentDir is the device directory holding attachments for the
// database, next to it in the index directory.
func (p Preset) AttachmentDir() string {
	return strings.TrimSuffix(p.DeviceFile, ".sqlite")
}

func (p Preset) DevicePath(indexDir string) string {
	return path.Join(indexDir, p.DeviceFile)
}

// mediaName inserts the 1-based copy index before the extension:
// MUS_0001.mp3 becomes MUS_0001_7.mp3.
func mediaName(source string, index int) string {
	ext := path.Ext(source)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(source, ext), index, ext)
}

// AlbumTrack maps the 1-based file index to its album and track number.
func AlbumTrack(index int) (album, track int) {
	album = (index + TracksPerAlbum - 1) / TracksPerAlbum
	track = index - (album-1)*TracksPerAlbum
	return album, track
}
