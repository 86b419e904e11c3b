// Package i18n renders user-facing CLI text in English or German.
package i18n

import (
	"fmt"
	"io"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"github.com/claudio-flowstack/flowstack/pkg/workflow"
)

// Message keys. The English text doubles as the key.
const (
	MsgExecuting      = "Executing %s (%d nodes, %d connections)"
	MsgNodeStatus     = "[%s] %-12s %s"
	MsgArtifact       = "Artifact from %s: %s (%s)"
	MsgCompleted      = "Execution %s %s: %d of %d nodes completed, %d artifacts"
	MsgArchived       = "Archived to %s"
	MsgSystemLine     = "%-8s %-22s %-10s %d nodes"
	MsgInterrupted    = "Interrupted"
	MsgRelayListening = "Relay listening on %s"
)

var supported = []language.Tag{language.English, language.German}

var matcher = language.NewMatcher(supported)

var german = map[string]string{
	MsgExecuting:      "Führe %s aus (%d Knoten, %d Verbindungen)",
	MsgNodeStatus:     "[%s] %-12s %s",
	MsgArtifact:       "Artefakt von %s: %s (%s)",
	MsgCompleted:      "Ausführung %s %s: %d von %d Knoten abgeschlossen, %d Artefakte",
	MsgArchived:       "Archiviert unter %s",
	MsgSystemLine:     "%-8s %-22s %-10s %d Knoten",
	MsgInterrupted:    "Abgebrochen",
	MsgRelayListening: "Relay lauscht auf %s",

	string(workflow.NodeStatusIdle):      "inaktiv",
	string(workflow.NodeStatusPending):   "wartend",
	string(workflow.NodeStatusRunning):   "läuft",
	string(workflow.NodeStatusCompleted): "abgeschlossen",
	string(workflow.NodeStatusFailed):    "fehlgeschlagen",

	string(workflow.ArtifactTypeFile):    "Datei",
	string(workflow.ArtifactTypeText):    "Text",
	string(workflow.ArtifactTypeURL):     "Link",
	string(workflow.ArtifactTypeWebsite): "Website",
	string(workflow.ArtifactTypeImage):   "Bild",

	"waiting for predecessor": "Warte auf Vorgänger",
	"executing":               "Wird ausgeführt...",
	"done":                    "Abgeschlossen",
}

var builtin = func() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, text := range german {
		if err := b.SetString(language.German, key, text); err != nil {
			panic(fmt.Sprintf("i18n: %v", err))
		}
	}
	return b
}()

// Printer formats messages for one language.
type Printer struct {
	tag   language.Tag
	msg   *message.Printer
	title cases.Caser
}

// NewPrinter returns a printer for lang (e.g. "de", "de-AT", "en"). Unknown or
// empty languages fall back to English.
func NewPrinter(lang string) *Printer {
	tag := language.English
	if lang != "" {
		if parsed, err := language.Parse(lang); err == nil {
			_, idx, conf := matcher.Match(parsed)
			if conf != language.No {
				tag = supported[idx]
			}
		}
	}
	return &Printer{
		tag:   tag,
		msg:   message.NewPrinter(tag, message.Catalog(builtin)),
		title: cases.Title(tag),
	}
}

// Language returns the resolved language.
func (p *Printer) Language() language.Tag {
	return p.tag
}

// Sprintf formats a message key.
func (p *Printer) Sprintf(key string, args ...any) string {
	return p.msg.Sprintf(key, args...)
}

// Fprintln writes a formatted message key followed by a newline.
func (p *Printer) Fprintln(w io.Writer, key string, args ...any) {
	fmt.Fprintln(w, p.msg.Sprintf(key, args...))
}

// Status returns the capitalized label of a node status.
func (p *Printer) Status(s workflow.NodeStatus) string {
	return p.title.String(p.msg.Sprintf(string(s)))
}

// ExecutionStatus returns the label of an execution status. Execution and node
// statuses share their wire values and therefore their translations.
func (p *Printer) ExecutionStatus(s workflow.ExecutionStatus) string {
	return p.msg.Sprintf(string(s))
}

// ArtifactType returns the label of an artifact type.
func (p *Printer) ArtifactType(t workflow.ArtifactType) string {
	return p.msg.Sprintf(string(t))
}

// Text translates a free-form status message when a translation exists.
func (p *Printer) Text(s string) string {
	return p.msg.Sprintf(s)
}
