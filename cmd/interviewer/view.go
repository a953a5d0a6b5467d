package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lexiqai/interviewer/internal/transcript"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	humanTag = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("28"))

	aiTag = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("255")).
		Background(lipgloss.Color("208"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	levelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))
)

const (
	levelBarWidth = 20
	maxEntries    = 12
)

// render draws the transcript, the status line and the level meter
func render(s transcript.Snapshot) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("AI Interviewer"))
	b.WriteString("\n\n")

	entries := s.Transcript
	if len(entries) > maxEntries {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  … %d earlier messages", len(entries)-maxEntries)))
		b.WriteString("\n")
		entries = entries[len(entries)-maxEntries:]
	}
	for _, entry := range entries {
		b.WriteString(speakerTag(entry.Speaker))
		b.WriteString(" ")
		b.WriteString(entry.Text)
		b.WriteString("\n")
	}
	if s.Flags.AITyping {
		b.WriteString(dimStyle.Render("  interviewer is typing…"))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(statusBarStyle.Render(s.Status))
	b.WriteString(" ")
	b.WriteString(levelStyle.Render(levelBar(s.AudioLevel)))
	b.WriteString("\n")

	help := "enter: toggle mic · q: quit"
	if !s.MicAvailable {
		help = "mic unavailable · q: quit"
	}
	b.WriteString(helpStyle.Render(help))
	b.WriteString("\n")

	return b.String()
}

func speakerTag(speaker transcript.Speaker) string {
	if speaker == transcript.SpeakerAI {
		return aiTag.Render(" AI ")
	}
	return humanTag.Render(" YOU ")
}

// levelBar renders a 0..1 level as a fixed-width meter
func levelBar(level float64) string {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	filled := int(level*levelBarWidth + 0.5)
	return strings.Repeat("█", filled) + strings.Repeat("░", levelBarWidth-filled)
}
