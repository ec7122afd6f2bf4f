package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dkeye/Huddle/internal/client/call"
	"github.com/dkeye/Huddle/internal/client/ui"
)

var errUnknownCommand = errors.New("unknown command, try /help")

const helpText = `/mute /unmute         microphone
/camera-off /camera-on camera
/share /unshare        screen share
/who                   roster
/leave                 leave the room
/end                   end the call for everyone (host only)
anything else          chat`

type controller interface {
	SetMuted(bool) error
	SetCameraOff(bool) error
	StartScreenShare() error
	StopScreenShare()
	SendChat(string) error
	Leave() error
	EndCall() error
	Snapshot() call.Snapshot
}

// execute runs one input line and returns text to print, if any.
func execute(c controller, line string) (string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil
	}
	if !strings.HasPrefix(line, "/") {
		return "", c.SendChat(line)
	}
	switch strings.Fields(line)[0] {
	case "/mute":
		return "", c.SetMuted(true)
	case "/unmute":
		return "", c.SetMuted(false)
	case "/camera-off":
		return "", c.SetCameraOff(true)
	case "/camera-on":
		return "", c.SetCameraOff(false)
	case "/share":
		return "", c.StartScreenShare()
	case "/unshare":
		c.StopScreenShare()
		return "", nil
	case "/who":
		return ui.Roster(c.Snapshot()), nil
	case "/leave":
		return "", c.Leave()
	case "/end":
		return "", c.EndCall()
	case "/help":
		return helpText, nil
	}
	return "", fmt.Errorf("%s: %w", line, errUnknownCommand)
}

func readCommands(r io.Reader, c controller, out *ui.Printer) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		text, err := execute(c, sc.Text())
		if err != nil {
			out.Error(err)
			continue
		}
		if text != "" {
			out.Println(text)
		}
	}
}
