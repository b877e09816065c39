// Package tabs tracks the open-tab working set of one editor session.
// State is purely local: tabs never talk to the store themselves, the
// session feeds authoritative file snapshots in through Reconcile and
// forwards edits out to persistence.
package tabs

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/collabide/workspace/internal/module/files"
	apperrors "github.com/collabide/workspace/internal/shared/errors"
)

// Tab is the externally visible view of one open tab.
type Tab struct {
	FileID   uuid.UUID
	Filename string
	Content  string
	Language string
	Active   bool
}

type tab struct {
	fileID   uuid.UUID
	filename string
	content  string
	openSeq  uint64
}

// Session holds the ordered tab strip. At most one tab is active at a
// time; a file not present in the strip is closed.
type Session struct {
	mu         sync.Mutex
	tabs       []*tab
	activeID   uuid.UUID
	lastActive uuid.UUID
	seq        uint64
}

func NewSession() *Session {
	return &Session{}
}

// Open activates the tab for file. A closed file opens a new tab seeded
// with the authoritative content; re-selecting an already open tab only
// activates it, leaving its working content untouched.
func (s *Session) Open(file files.File) Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.findLocked(file.ID); t != nil {
		s.activateLocked(file.ID)
		return s.viewLocked(t)
	}
	s.seq++
	t := &tab{
		fileID:   file.ID,
		filename: file.Filename,
		content:  file.Content,
		openSeq:  s.seq,
	}
	s.tabs = append(s.tabs, t)
	s.activateLocked(file.ID)
	return s.viewLocked(t)
}

// Active returns the active tab, if any.
func (s *Session) Active() (Tab, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.findLocked(s.activeID); t != nil {
		return s.viewLocked(t), true
	}
	return Tab{}, false
}

// Tabs returns the tab strip in display order.
func (s *Session) Tabs() []Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Tab, len(s.tabs))
	for i, t := range s.tabs {
		out[i] = s.viewLocked(t)
	}
	return out
}

// Edit replaces the active tab's working content and returns the file it
// belongs to, so the caller can hand the new content to persistence.
// Editing with no active tab is an error; inactive tabs are never edited.
func (s *Session) Edit(content string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findLocked(s.activeID)
	if t == nil {
		return uuid.Nil, fmt.Errorf("%w: no active tab", apperrors.ErrValidation)
	}
	t.content = content
	return t.fileID, nil
}

// Close removes the tab for fileID from the strip. Closing the active
// tab activates the most recently opened of the remaining tabs; closing
// the last tab leaves the session with no active tab.
func (s *Session) Close(fileID uuid.UUID) (Tab, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(fileID)
	if s.activeID == fileID {
		s.activateLocked(s.mostRecentLocked())
	}
	if t := s.findLocked(s.activeID); t != nil {
		return s.viewLocked(t), true
	}
	return Tab{}, false
}

// Reorder rearranges the tab strip to match orderedFilenames. Tabs not
// mentioned keep their relative order after the mentioned ones. The
// strip order is presentation state only and is never persisted.
func (s *Session) Reorder(orderedFilenames []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byName := make(map[string]*tab, len(s.tabs))
	for _, t := range s.tabs {
		byName[t.filename] = t
	}
	reordered := make([]*tab, 0, len(s.tabs))
	taken := make(map[string]bool, len(orderedFilenames))
	for _, name := range orderedFilenames {
		if t, ok := byName[name]; ok && !taken[name] {
			reordered = append(reordered, t)
			taken[name] = true
		}
	}
	for _, t := range s.tabs {
		if !taken[t.filename] {
			reordered = append(reordered, t)
		}
	}
	s.tabs = reordered
}

// Reconcile aligns the tab strip with an authoritative file snapshot:
// tabs whose file no longer exists close, renames follow the file id in
// place, and inactive tabs pick up the authoritative content. The active
// tab keeps its working content so a remote change elsewhere never
// discards what is being typed.
func (s *Session) Reconcile(snapshot []files.File) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := make(map[uuid.UUID]files.File, len(snapshot))
	for _, f := range snapshot {
		byID[f.ID] = f
	}

	kept := s.tabs[:0]
	activeClosed := false
	for _, t := range s.tabs {
		f, ok := byID[t.fileID]
		if !ok {
			if t.fileID == s.activeID {
				activeClosed = true
			}
			continue
		}
		t.filename = f.Filename
		if t.fileID != s.activeID {
			t.content = f.Content
		}
		kept = append(kept, t)
	}
	s.tabs = kept

	if activeClosed {
		next := s.lastActive
		if s.findLocked(next) == nil {
			next = uuid.Nil
			if len(s.tabs) > 0 {
				next = s.tabs[0].fileID
			}
		}
		s.activeID = uuid.Nil
		s.activateLocked(next)
	}
}

func (s *Session) findLocked(id uuid.UUID) *tab {
	if id == uuid.Nil {
		return nil
	}
	for _, t := range s.tabs {
		if t.fileID == id {
			return t
		}
	}
	return nil
}

func (s *Session) removeLocked(id uuid.UUID) {
	for i, t := range s.tabs {
		if t.fileID == id {
			s.tabs = append(s.tabs[:i], s.tabs[i+1:]...)
			return
		}
	}
}

// activateLocked makes id the active tab and remembers the previous one
// as the fallback for when the active tab disappears remotely.
func (s *Session) activateLocked(id uuid.UUID) {
	if s.activeID != uuid.Nil && s.activeID != id {
		s.lastActive = s.activeID
	}
	s.activeID = id
}

// mostRecentLocked returns the open tab with the highest open sequence.
func (s *Session) mostRecentLocked() uuid.UUID {
	var best *tab
	for _, t := range s.tabs {
		if best == nil || t.openSeq > best.openSeq {
			best = t
		}
	}
	if best == nil {
		return uuid.Nil
	}
	return best.fileID
}

func (s *Session) viewLocked(t *tab) Tab {
	return Tab{
		FileID:   t.fileID,
		Filename: t.filename,
		Content:  t.content,
		Language: files.LanguageTag(t.filename),
		Active:   t.fileID == s.activeID,
	}
}
