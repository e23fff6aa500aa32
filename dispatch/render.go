package dispatch

import (
	"context"
	"unicode/utf8"

	"notepush/model"

	"go.uber.org/zap"
)

const (
	reminderTitle = "Note Reminder"
	untitledNote  = "Untitled Note"
	summaryLimit  = 200
)

// NoteSource reads the note a reminder is about. *db.Database implements it.
type NoteSource interface {
	Note(ctx context.Context, id model.NoteID) (model.Note, error)
}

// Renderer builds the notification of a fired job.
type Renderer struct {
	notes  NoteSource
	logger *zap.SugaredLogger
}

// NewRenderer creates a renderer. With nil notes every reminder gets the
// generic body.
func NewRenderer(notes NoteSource, l *zap.SugaredLogger) *Renderer {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	return &Renderer{notes: notes, logger: l}
}

// Render never fails: if the note can't be read the body names the note id.
func (r *Renderer) Render(ctx context.Context, job model.ScheduledJob) model.Notification {
	n := model.Notification{
		Title: reminderTitle,
		Body:  "Reminder for note: " + string(job.NoteID),
		Data: map[string]string{
			"url":     "/editor?id=" + string(job.NoteID),
			"note_id": string(job.NoteID),
		},
	}
	if r.notes == nil {
		return n
	}

	note, err := r.notes.Note(ctx, job.NoteID)
	if err != nil {
		r.logger.Warnw("failed reading note; sending generic reminder", "note", string(job.NoteID), "err", err)
		return n
	}

	switch {
	case note.Summary != "":
		title := note.Title
		if title == "" {
			title = untitledNote
		}
		n.Body = title + ": " + truncate(note.Summary, summaryLimit)
	case note.Title != "":
		n.Body = "Reminder for note: " + note.Title
	}
	return n
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}
