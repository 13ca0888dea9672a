package main

import (
	"fmt"
	"io"
	"sort"

	"syncroom/internal/core/domain"
	webrtcinfra "syncroom/internal/infrastructure/webrtc"
	"syncroom/internal/participant"
	"syncroom/internal/participant/negotiation"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func renderStatus(out io.Writer, sess *participant.Session, factory *webrtcinfra.PeerFactory) {
	self := sess.Self()
	fmt.Fprintf(out, "\n%s (%s) video=%s strokes=%d\n",
		self.ID, self.Role, sess.Media().Active(), len(sess.Board().Snapshot()))

	fmt.Fprintln(out, rosterTable(sess.Roster(), sess.Negotiation().Links(), factory.ReceivedPackets))
	if stats := factory.RTCPStats(); len(stats) > 0 {
		fmt.Fprintln(out, rtcpTable(stats))
	}
}

// rosterTable joins the roster with the link state of each member.
func rosterTable(roster []domain.Participant, links []negotiation.LinkStatus, received func(domain.ParticipantID) uint64) string {
	byRemote := make(map[domain.ParticipantID]negotiation.LinkStatus, len(links))
	for _, l := range links {
		byRemote[l.Remote] = l
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Participant", "Name", "Role", "Link", "Side", "Video", "RTP in"})
	for _, p := range roster {
		link, ok := byRemote[p.ID]
		state, side, video := "-", "-", "-"
		if ok {
			state = string(link.State)
			side = "answer"
			if link.Initiator {
				side = "offer"
			}
			video = "ok"
			if link.Restarted {
				video = "restarted"
			}
			if link.Unavailable {
				video = text.FgRed.Sprint("unavailable")
			}
		}
		t.AppendRow(table.Row{p.ID, p.DisplayName, p.Role, state, side, video, received(p.ID)})
	}
	if len(roster) == 0 {
		t.AppendRow(table.Row{"(alone)", "", "", "", "", "", ""})
	}
	return t.Render()
}

func rtcpTable(stats map[string]uint64) string {
	kinds := make([]string, 0, len(stats))
	for k := range stats {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"RTCP", "Count"})
	for _, k := range kinds {
		t.AppendRow(table.Row{k, stats[k]})
	}
	return t.Render()
}
