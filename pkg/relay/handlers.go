package relay

import (
	"errors"

	"github.com/guido-cesarano/editorbridge/pkg/editor"
	"github.com/guido-cesarano/editorbridge/pkg/tasks"
)

// RegisterEditorHandlers wires the play and menu commands to session.
func RegisterEditorHandlers(r *Relay, session *editor.Session) {
	r.Handle(tasks.CommandPlay, func(cmd tasks.Command) error {
		return session.ApplyPlay(cmd.Bool("play"))
	})
	r.Handle(tasks.CommandMenu, func(cmd tasks.Command) error {
		path := cmd.String("path")
		if path == "" {
			return errors.New("relay: menu command without path")
		}
		return session.Editor().ExecuteMenuItem(path)
	})
}
