package ui

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lanchat/lanchat/internal/chat"
	"github.com/lanchat/lanchat/internal/session"
)

const headerWidth = 60

// RenderHeader draws the welcome panel shown when a chat starts
func RenderHeader(version, name, serviceType, listenAddr string) string {
	var sb strings.Builder

	titleText := fmt.Sprintf(" lanchat v%s ", version)
	titleLen := utf8.RuneCountInString(titleText)
	leftDashes := 3
	rightDashes := headerWidth - 2 - leftDashes - titleLen
	if rightDashes < 0 {
		rightDashes = 0
	}

	sb.WriteString(Color(Cyan, BoxTopLeft+strings.Repeat(BoxHorizontal, leftDashes)))
	sb.WriteString(Color(Cyan+Bold, titleText))
	sb.WriteString(Color(Cyan, strings.Repeat(BoxHorizontal, rightDashes)+BoxTopRight))
	sb.WriteString("\n")

	sb.WriteString(formatInfoLine("name", name, headerWidth))
	sb.WriteString(formatInfoLine("service", serviceType, headerWidth))
	sb.WriteString(formatInfoLine("listening", listenAddr, headerWidth))

	sb.WriteString(Color(Cyan, BoxBottomLeft+strings.Repeat(BoxHorizontal, headerWidth-2)+BoxBottomRight))
	sb.WriteString("\n")
	return sb.String()
}

func formatInfoLine(label, value string, width int) string {
	var sb strings.Builder

	// " label: value" without color codes
	visibleLen := utf8.RuneCountInString(label) + utf8.RuneCountInString(value) + 3
	padding := width - 2 - visibleLen
	if padding < 0 {
		padding = 0
	}

	sb.WriteString(Color(Cyan, BoxVertical))
	sb.WriteString(" ")
	sb.WriteString(Color(Dim, label+":"))
	sb.WriteString(" ")
	sb.WriteString(value)
	sb.WriteString(strings.Repeat(" ", padding))
	sb.WriteString(Color(Cyan, BoxVertical))
	sb.WriteString("\n")
	return sb.String()
}

// RenderEntry formats one transcript line by kind
func RenderEntry(e chat.LogEntry) string {
	ts := Color(Dim, e.At.Format("15:04"))
	switch e.Kind {
	case chat.Own:
		return fmt.Sprintf("%s %s %s", ts, Color(Bold+Green, "You:"), e.Text)
	case chat.Peer:
		return fmt.Sprintf("%s %s %s", ts, Color(Bold+Blue, e.Sender+":"), e.Text)
	case chat.System:
		return fmt.Sprintf("%s %s", ts, Color(Dim, "* "+e.Text))
	default:
		return e.Text
	}
}

// RenderAlert formats a user-facing error
func RenderAlert(a chat.Alert) string {
	if a.Message == "" {
		return Color(Yellow+Bold, a.Title)
	}
	return fmt.Sprintf("%s %s", Color(Yellow+Bold, a.Title+":"), a.Message)
}

// RenderPeers lists peer sessions with their state
func RenderPeers(peers []chat.PeerInfo) string {
	if len(peers) == 0 {
		return RenderDim("No peers yet.")
	}

	var sb strings.Builder
	for _, p := range peers {
		state := p.State.String()
		switch p.State {
		case session.Ready:
			state = Color(Green, state)
		case session.Failed:
			state = Color(Red, state)
		default:
			state = Color(Yellow, state)
		}
		fmt.Fprintf(&sb, "  %-24s %s\n", p.Name, state)
	}
	return sb.String()
}

// RenderHelpLines displays command hints
func RenderHelpLines() string {
	var sb strings.Builder

	sb.WriteString(Color(Dim, "  Commands: "))
	sb.WriteString("/peers")
	sb.WriteString(Color(Dim, " | "))
	sb.WriteString("/stop")
	sb.WriteString(Color(Dim, " (stop searching) | "))
	sb.WriteString("/quit")
	sb.WriteString("\n\n")
	return sb.String()
}

// RenderError formats an error message
func RenderError(err error) string {
	return Color(Red, fmt.Sprintf("Error: %v", err))
}

// RenderDim formats text in dim style
func RenderDim(msg string) string {
	return Color(Dim, msg)
}
