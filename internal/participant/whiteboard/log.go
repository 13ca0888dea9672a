package whiteboard

import (
	"sync"

	"syncroom/internal/core/domain"
)

// Log is the ordered stroke history of one board. Replaying Snapshot in
// order always renders the same picture.
type Log struct {
	mu      sync.RWMutex
	strokes []domain.Stroke
	ids     map[domain.StrokeID]struct{}
}

func NewLog() *Log {
	return &Log{ids: make(map[domain.StrokeID]struct{})}
}

// Append adds a stroke at the end. A stroke id already present is ignored.
func (l *Log) Append(stroke domain.Stroke) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ids[stroke.ID]; ok {
		return false
	}
	l.strokes = append(l.strokes, stroke)
	l.ids[stroke.ID] = struct{}{}
	return true
}

func (l *Log) Remove(id domain.StrokeID) (domain.Stroke, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ids[id]; !ok {
		return domain.Stroke{}, false
	}
	for i, s := range l.strokes {
		if s.ID == id {
			l.strokes = append(l.strokes[:i], l.strokes[i+1:]...)
			delete(l.ids, id)
			return s, true
		}
	}
	return domain.Stroke{}, false
}

func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.strokes = nil
	l.ids = make(map[domain.StrokeID]struct{})
}

// Replace swaps the whole history, dropping duplicate ids after the first.
func (l *Log) Replace(strokes []domain.Stroke) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.strokes = make([]domain.Stroke, 0, len(strokes))
	l.ids = make(map[domain.StrokeID]struct{}, len(strokes))
	for _, s := range strokes {
		if _, ok := l.ids[s.ID]; ok {
			continue
		}
		l.strokes = append(l.strokes, s)
		l.ids[s.ID] = struct{}{}
	}
}

func (l *Log) Snapshot() []domain.Stroke {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.Stroke(nil), l.strokes...)
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.strokes)
}

// LastBy returns the newest stroke authored by id.
func (l *Log) LastBy(id domain.ParticipantID) (domain.Stroke, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.strokes) - 1; i >= 0; i-- {
		if l.strokes[i].AuthorID == id {
			return l.strokes[i], true
		}
	}
	return domain.Stroke{}, false
}
