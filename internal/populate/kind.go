// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package populate

import (
	"fmt"
	"strings"
)

// DataKind is one of the datasets that can be pushed onto a device.
type DataKind int

const (
	Call DataKind = iota
	Contact
	Event
	Message
	Music
	Picture
	Video
)

// Kinds lists every kind in processing order.
var Kinds = []DataKind{Call, Contact, Event, Message, Music, Picture, Video}

var kindNames = [...]string{
	Call:    "call",
	Contact: "contact",
	Event:   "event",
	Message: "message",
	Music:   "music",
	Picture: "picture",
	Video:   "video",
}

var kindPlurals = [...]string{
	Call:    "calls",
	Contact: "contacts",
	Event:   "events",
	Message: "messages",
	Music:   "music",
	Picture: "pictures",
	Video:   "videos",
}

func (k DataKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("DataKind(%d)", int(k))
	}
	return kindNames[k]
}

// Plural is the flag and workload key for the kind.
func (k DataKind) Plural() string {
	if k < 0 || int(k) >= len(kindPlurals) {
		return k.String()
	}
	return kindPlurals[k]
}

// IsStructured reports whether the kind is backed by an index database
// snapshot that can only be replaced while the device process is stopped.
func (k DataKind) IsStructured() bool {
	switch k {
	case Call, Contact, Event, Message:
		return true
	}
	return false
}

// IsMedia reports whether the kind is backed by plain files on device storage.
func (k DataKind) IsMedia() bool {
	switch k {
	case Music, Picture, Video:
		return true
	}
	return false
}

func ParseKind(s string) (DataKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range Kinds {
		if s == kindNames[k] || s == kindPlurals[k] {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown data kind %q", s)
}
