package logger

import (
	"notepush/model"

	"go.uber.org/zap"
)

// New creates a logger in the given namespace. The returned function flushes
// buffered entries and should be deferred by the caller.
func New(ns string, production bool) (*zap.SugaredLogger, func() error) {
	var (
		l   *zap.Logger
		err error
	)
	if production {
		l, err = zap.NewProduction(zap.Fields(zap.String("ns", ns)))
	} else {
		l, err = zap.NewDevelopment(zap.Fields(zap.String("ns", ns)))
	}
	if err != nil {
		l = zap.NewNop()
	}
	return l.Sugar(), l.Sync
}

// Named derives a logger for a component.
func Named(l *zap.SugaredLogger, ns string) *zap.SugaredLogger {
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l.Named(ns)
}

func ForUser(l *zap.SugaredLogger, usr model.UserID) *zap.SugaredLogger {
	return l.With("usr", string(usr))
}

func ForNote(l *zap.SugaredLogger, note model.NoteID) *zap.SugaredLogger {
	return l.With("note", string(note))
}
