// Package theme holds the colors and styles used when printing chat history.
package theme

import "github.com/charmbracelet/lipgloss"

// Theme is a color palette for transcript output
type Theme struct {
	Primary   lipgloss.Color
	Text      lipgloss.Color
	TextMuted lipgloss.Color
	User      lipgloss.Color
	Assistant lipgloss.Color
	Tool      lipgloss.Color
	Error     lipgloss.Color

	// CodeStyle is the chroma style used to highlight JSON payloads
	CodeStyle string
}

// Default returns the default dark palette
func Default() Theme {
	return Theme{
		Primary:   lipgloss.Color("#00ff00"),
		Text:      lipgloss.Color("#ffffff"),
		TextMuted: lipgloss.Color("#808080"),
		User:      lipgloss.Color("#5fafff"),
		Assistant: lipgloss.Color("#00ff87"),
		Tool:      lipgloss.Color("#ffaf00"),
		Error:     lipgloss.Color("#ff5f5f"),
		CodeStyle: "monokai",
	}
}

// Styles are the lipgloss styles derived from a Theme
type Styles struct {
	Header    lipgloss.Style
	Muted     lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	Tool      lipgloss.Style
	Error     lipgloss.Style
	Body      lipgloss.Style
}

// Styles builds the styles for t. With color disabled every style renders plain text.
func (t Theme) Styles(color bool) Styles {
	if !color {
		plain := lipgloss.NewStyle()
		return Styles{
			Header:    plain,
			Muted:     plain,
			User:      plain,
			Assistant: plain,
			Tool:      plain,
			Error:     plain,
			Body:      plain.PaddingLeft(2),
		}
	}
	return Styles{
		Header:    lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Muted:     lipgloss.NewStyle().Foreground(t.TextMuted),
		User:      lipgloss.NewStyle().Bold(true).Foreground(t.User),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(t.Assistant),
		Tool:      lipgloss.NewStyle().Bold(true).Foreground(t.Tool),
		Error:     lipgloss.NewStyle().Foreground(t.Error),
		Body:      lipgloss.NewStyle().Foreground(t.Text).PaddingLeft(2),
	}
}
