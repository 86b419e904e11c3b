package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "flowstack"

// Event kinds, used as the last subject token.
const (
	KindStatus   = "status"
	KindArtifact = "artifact"
	KindComplete = "complete"
)

// Subjects builds the subject names under one prefix.
//
//	<prefix>.execute
//	<prefix>.dispose
//	<prefix>.events.<sourceId>.<run>.<kind>
type Subjects struct {
	Prefix string
}

// NewSubjects returns Subjects for prefix, or DefaultPrefix when empty.
func NewSubjects(prefix string) Subjects {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Subjects{Prefix: prefix}
}

// Execute is the subject execute requests are published on.
func (s Subjects) Execute() string { return s.Prefix + ".execute" }

// Dispose is the subject dispose requests are published on.
func (s Subjects) Dispose() string { return s.Prefix + ".dispose" }

// Event is the subject for one event kind of one run of one source.
func (s Subjects) Event(sourceID string, run uint64, kind string) string {
	return fmt.Sprintf("%s.events.%s.%d.%s", s.Prefix, sourceID, run, kind)
}

// Events is the wildcard matching every event of a source.
func (s Subjects) Events(sourceID string) string {
	return fmt.Sprintf("%s.events.%s.>", s.Prefix, sourceID)
}

// ParseEvent extracts run and kind from an event subject of sourceID.
func (s Subjects) ParseEvent(sourceID, subject string) (run uint64, kind string, ok bool) {
	rest, found := strings.CutPrefix(subject, s.Prefix+".events."+sourceID+".")
	if !found {
		return 0, "", false
	}
	runToken, kind, found := strings.Cut(rest, ".")
	if !found || strings.Contains(kind, ".") {
		return 0, "", false
	}
	run, err := strconv.ParseUint(runToken, 10, 64)
	if err != nil {
		return 0, "", false
	}
	switch kind {
	case KindStatus, KindArtifact, KindComplete:
		return run, kind, true
	}
	return 0, "", false
}

// ValidToken reports whether v can be used as a single subject token.
func ValidToken(v string) bool {
	return v != "" && !strings.ContainsAny(v, ".*> \t\r\n")
}
