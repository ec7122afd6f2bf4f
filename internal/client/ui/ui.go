// Package ui renders call events for the terminal client.
package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/dkeye/Huddle/internal/client/call"
)

var (
	Primary   = lipgloss.Color("#22d3ee")
	Secondary = lipgloss.Color("#7C3AED")
	Success   = lipgloss.Color("#10B981")
	Warning   = lipgloss.Color("#F59E0B")
	Error     = lipgloss.Color("#EF4444")
	Muted     = lipgloss.Color("#6B7280")
)

var (
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(Primary)
	NameStyle    = lipgloss.NewStyle().Bold(true).Foreground(Secondary)
	SuccessStyle = lipgloss.NewStyle().Foreground(Success).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Error).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(Warning)
	MutedStyle   = lipgloss.NewStyle().Foreground(Muted)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary).
			Padding(0, 1)
)

const (
	IconRoom    = "🚪"
	IconPeer    = "👤"
	IconHost    = "👑"
	IconChat    = "💬"
	IconMuted   = "🔇"
	IconNoVideo = "🚫"
	IconScreen  = "🖥️"
	IconConnect = "🔌"
	IconError   = "❌"
	IconWarning = "⚠️"
)

// Printer writes one line per event. It is safe for concurrent use.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) Println(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, s)
}

func (p *Printer) Error(err error) {
	p.Println(fmt.Sprintf("%s %s", ErrorStyle.Render(IconError), ErrorStyle.Render(err.Error())))
}

// Event prints ev; events with nothing to show print nothing.
func (p *Printer) Event(ev call.Event) {
	if line := FormatEvent(ev); line != "" {
		p.Println(line)
	}
}

func FormatEvent(ev call.Event) string {
	name := memberName(ev.Member)
	switch ev.Kind {
	case call.EventRoomJoined:
		return fmt.Sprintf("%s joined room %s", IconRoom, TitleStyle.Render(ev.RoomID))
	case call.EventMemberJoined:
		return fmt.Sprintf("%s %s joined", IconPeer, name)
	case call.EventMemberLeft:
		return MutedStyle.Render(fmt.Sprintf("%s %s left", IconPeer, ev.Member.Name))
	case call.EventMemberUpdated:
		return fmt.Sprintf("%s %s", name, mediaFlags(ev.Member.AudioMuted, ev.Member.VideoOff))
	case call.EventChat:
		who := NameStyle.Render(ev.Chat.Name)
		if ev.Chat.IsHost {
			who = IconHost + who
		}
		return fmt.Sprintf("%s %s %s: %s", MutedStyle.Render(ev.Chat.At.Format("15:04")), IconChat, who, ev.Chat.Text)
	case call.EventLinkState:
		return MutedStyle.Render(fmt.Sprintf("%s link to %s %s", IconConnect, ev.Member.Name, ev.State))
	case call.EventLinkFailed:
		return WarningStyle.Render(fmt.Sprintf("%s gave up on %s: %v", IconWarning, ev.Member.Name, ev.Err))
	case call.EventError:
		return fmt.Sprintf("%s %s", ErrorStyle.Render(IconError), ErrorStyle.Render(ev.Err.Error()))
	case call.EventLeft:
		return SuccessStyle.Render("left the room")
	case call.EventEnded:
		return WarningStyle.Render("the host ended the call")
	case call.EventDisconnected:
		return ErrorStyle.Render("lost connection to the server")
	}
	return ""
}

// Roster renders the room as a boxed list, self first.
func Roster(s call.Snapshot) string {
	if s.RoomID == "" {
		return MutedStyle.Render("not in a room")
	}
	var b strings.Builder
	b.WriteString(TitleStyle.Render(IconRoom + " " + s.RoomID))
	self := "you"
	if s.IsHost {
		self = IconHost + self
	}
	b.WriteString("\n" + NameStyle.Render(self) + " " + mediaFlags(s.Muted, s.CameraOff && !s.Sharing))
	if s.Sharing {
		b.WriteString(" " + IconScreen)
	}
	for _, m := range s.Members {
		b.WriteString("\n" + memberName(m) + " " + mediaFlags(m.AudioMuted, m.VideoOff))
		b.WriteString(" " + MutedStyle.Render(m.Link.String()))
	}
	return BoxStyle.Render(b.String())
}

func memberName(m call.Member) string {
	name := m.Name
	if name == "" {
		name = m.ID
	}
	if m.IsHost {
		return IconHost + NameStyle.Render(name)
	}
	return NameStyle.Render(name)
}

func mediaFlags(muted, videoOff bool) string {
	var flags []string
	if muted {
		flags = append(flags, IconMuted)
	}
	if videoOff {
		flags = append(flags, IconNoVideo)
	}
	if len(flags) == 0 {
		return SuccessStyle.Render("live")
	}
	return strings.Join(flags, " ")
}
