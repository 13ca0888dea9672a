package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"syncroom/internal/core/domain"
	webrtcinfra "syncroom/internal/infrastructure/webrtc"
	"syncroom/internal/participant"
)

const (
	cmdStroke = "stroke"
	cmdUndo   = "undo"
	cmdRedo   = "redo"
	cmdClear  = "clear"
	cmdEdit   = "edit"
	cmdResult = "result"
	cmdView   = "view"
	cmdVideo  = "video"
	cmdStatus = "status"
	cmdExport = "export"
	cmdQuit   = "quit"
)

var errEmptyCommand = errors.New("empty command")

type command struct {
	name string
	args []string
	// rest is everything after the fixed arguments, kept verbatim.
	rest string
}

// parseCommand splits one stdin line. stroke and result keep their argument
// verbatim; edit takes a language and then the document text.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, errEmptyCommand
	}
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	c := command{name: name}

	switch name {
	case cmdUndo, cmdRedo, cmdClear, cmdStatus, cmdQuit:
	case cmdStroke:
		if !json.Valid([]byte(rest)) {
			return c, fmt.Errorf("stroke payload must be JSON")
		}
		c.rest = rest
	case cmdResult:
		c.rest = rest
	case cmdEdit:
		lang, text, ok := strings.Cut(rest, " ")
		if lang == "" {
			return c, fmt.Errorf("usage: edit <language> <text>")
		}
		if !ok {
			text = ""
		}
		c.args = []string{lang}
		// \n lets a single line carry a multi-line document.
		c.rest = strings.ReplaceAll(text, `\n`, "\n")
	case cmdView, cmdVideo, cmdExport:
		if rest == "" || strings.Contains(rest, " ") {
			return c, fmt.Errorf("usage: %s <value>", name)
		}
		c.args = []string{rest}
	default:
		return c, fmt.Errorf("unknown command %q", name)
	}
	return c, nil
}

type commandRunner struct {
	sess    *participant.Session
	factory *webrtcinfra.PeerFactory
	out     io.Writer
}

func (r *commandRunner) run(c command) error {
	switch c.name {
	case cmdStroke:
		stroke, err := r.sess.Board().Commit(json.RawMessage(c.rest))
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "stroke %s (seq %d)\n", stroke.ID, stroke.Seq)
	case cmdUndo:
		id, err := r.sess.Board().Undo()
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "undid %s\n", id)
	case cmdRedo:
		stroke, err := r.sess.Board().Redo()
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "redid %s\n", stroke.ID)
	case cmdClear:
		return r.sess.Board().Clear()
	case cmdEdit:
		r.sess.Editor().Edit(c.rest, c.args[0])
	case cmdResult:
		return r.sess.Editor().PublishResult(c.rest)
	case cmdView:
		view := r.sess.View()
		if view == nil {
			return participant.ErrNotConnected
		}
		sent, err := view.SetView(domain.ViewID(c.args[0]))
		if err != nil {
			return err
		}
		if !sent {
			fmt.Fprintln(r.out, "only the driver can change the view")
		}
	case cmdVideo:
		return r.sess.Media().SwitchVideo(domain.VideoSource(c.args[0]))
	case cmdStatus:
		renderStatus(r.out, r.sess, r.factory)
	case cmdExport:
		if err := exportBoard(c.args[0], domain.RoomID(flagRoom), r.sess.Board().Snapshot()); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "whiteboard exported to %s\n", c.args[0])
	}
	return nil
}
