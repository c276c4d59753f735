package codesphere

import (
	"time"

	"go.uber.org/zap"

	"github.com/prathdotexe/CodeSphere/shared"
)

// Language is the document language tag.
type Language string

const (
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguagePython     Language = "python"
	LanguageGo         Language = "go"
	LanguageJava       Language = "java"
	LanguageCPP        Language = "cpp"
	LanguageRust       Language = "rust"
)

// DefaultLanguage is what a fresh session starts with.
const DefaultLanguage = LanguageJavaScript

func (l Language) Known() bool {
	switch l {
	case LanguageJavaScript, LanguageTypeScript, LanguagePython,
		LanguageGo, LanguageJava, LanguageCPP, LanguageRust:
		return true
	}
	return false
}

// ConvergencePolicy names how concurrent edits resolve. There is exactly one
// policy: the last message received wins. Two participants typing at once
// will overwrite each other depending on relay delivery order; that is an
// accepted limitation of the protocol, not something this engine papers over
// with a merge algorithm.
type ConvergencePolicy int

const ConvergenceLastWriterWins ConvergencePolicy = iota

// Editor is the external text-editing surface. SetText performs a
// programmatic full replacement; real editors fire their change callback for
// it, which is exactly what the suppression window absorbs.
type Editor interface {
	Text() string
	SetText(text string)
}

// DefaultEchoWindow bounds how long a programmatic SetText may take to come
// back through the editor's change callback. It is a tunable, not a protocol
// constant.
const DefaultEchoWindow = 100 * time.Millisecond

// DocumentState is the local view of the shared document.
type DocumentState struct {
	Text     string
	Language Language
}

// SyncEngine keeps the local document converged with the session. It is not
// safe for concurrent use; the Session drives it from a single event loop.
type SyncEngine struct {
	logger shared.LoggerAdapter
	selfID string
	editor Editor
	send   func(*Message)

	doc         DocumentState
	suppressing bool
	suppressGen uint64
	window      time.Duration

	// clearAfter schedules the suppression clear back onto the owning event
	// loop after the echo window elapses.
	clearAfter func(d time.Duration, fn func())
}

func NewSyncEngine(
	logger shared.LoggerAdapter,
	selfID string,
	editor Editor,
	send func(*Message),
	window time.Duration,
	clearAfter func(d time.Duration, fn func()),
) *SyncEngine {
	if window <= 0 {
		window = DefaultEchoWindow
	}
	if clearAfter == nil {
		clearAfter = func(d time.Duration, fn func()) { time.AfterFunc(d, fn) }
	}
	return &SyncEngine{
		logger:     logger,
		selfID:     selfID,
		editor:     editor,
		send:       send,
		doc:        DocumentState{Language: DefaultLanguage},
		window:     window,
		clearAfter: clearAfter,
	}
}

// Policy reports the convergence policy. There is no other.
func (e *SyncEngine) Policy() ConvergencePolicy { return ConvergenceLastWriterWins }

func (e *SyncEngine) Document() DocumentState { return e.doc }

// ApplyLocalEdit handles one user edit from the editor. Under suppression the
// edit is an echo of a remote apply and is swallowed; otherwise it updates
// the document and broadcasts exactly one code_change tagged with the local
// user id. Returns whether a broadcast happened.
func (e *SyncEngine) ApplyLocalEdit(text string) bool {
	if e.suppressing {
		e.logger.Debug("suppressed echo of remote apply")
		return false
	}
	e.doc.Text = text
	e.send(&Message{
		Type:    MessageTypeCodeChange,
		Payload: &CodeChangePayload{Code: text, UserID: e.selfID},
	})
	return true
}

// SetLanguage handles a local language switch: update and broadcast. The
// language selector is not driven by a change callback, so no suppression.
func (e *SyncEngine) SetLanguage(lang Language) {
	e.doc.Language = lang
	e.send(&Message{
		Type:    MessageTypeLanguageChange,
		Payload: &LanguageChangePayload{Language: lang, UserID: e.selfID},
	})
}

// suppress raises the suppression marker and schedules its clear. Each
// remote apply bumps the generation, so a clear scheduled by an earlier
// apply cannot cut short the window of a later one.
func (e *SyncEngine) suppress() {
	e.suppressing = true
	e.suppressGen++
	gen := e.suppressGen
	e.clearAfter(e.window, func() {
		if gen == e.suppressGen {
			e.suppressing = false
		}
	})
}

// ApplyRemoteCode handles a code_change from another participant: last
// message received wins. The suppression marker is raised before the editor
// is touched and cleared a bounded window later, so the editor's change
// callback for this programmatic replace cannot rebroadcast.
func (e *SyncEngine) ApplyRemoteCode(code, fromID string) {
	if fromID == e.selfID {
		return
	}
	e.suppress()
	e.doc.Text = code
	e.editor.SetText(code)
}

// ApplyRemoteLanguage handles a language_change from another participant.
func (e *SyncEngine) ApplyRemoteLanguage(lang Language, fromID string) {
	if fromID == e.selfID {
		return
	}
	if !lang.Known() {
		e.logger.Warn("unknown language tag, keeping it verbatim", zap.String("language", string(lang)))
	}
	e.doc.Language = lang
}

// ApplySessionState seeds the document from a late-joiner snapshot. The
// roster portion is the Presence tracker's business.
func (e *SyncEngine) ApplySessionState(p *SessionStatePayload) {
	if p.Code != nil {
		e.suppress()
		e.doc.Text = *p.Code
		e.editor.SetText(*p.Code)
	}
	if p.Language != nil {
		e.doc.Language = *p.Language
	}
}
