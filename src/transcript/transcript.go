// Package transcript reconstructs a recorded chat from storage and prints it for a terminal.
package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/x/ansi"

	"github.com/elee1766/chathistory/src/storage"
	"github.com/elee1766/chathistory/src/theme"
)

// ErrChatNotFound is returned by Load for unknown chat ids.
var ErrChatNotFound = errors.New("chat not found")

// Transcript is a chat with its turns in order.
type Transcript struct {
	Chat  storage.Chat `json:"chat"`
	Turns []Turn       `json:"turns"`
}

// Turn is one turn with its messages ordered by message_order.
type Turn struct {
	storage.Turn
	Messages []storage.Message  `json:"messages"`
	Usage    *storage.TokenUsage `json:"usage,omitempty"`
}

// Load reads everything recorded for chatID.
func Load(ctx context.Context, db storage.ExecQuerier, chatID string) (*Transcript, error) {
	chat, err := storage.GetChatByID(ctx, db, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat: %w", err)
	}
	if chat == nil {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}

	turns, err := storage.ListTurns(ctx, db, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	messages, err := storage.ListChatMessages(ctx, db, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	byTurn := make(map[int64][]storage.Message, len(turns))
	for _, m := range messages {
		byTurn[m.TurnID] = append(byTurn[m.TurnID], m)
	}

	t := &Transcript{Chat: *chat, Turns: make([]Turn, 0, len(turns))}
	for _, turn := range turns {
		usage, err := storage.GetTokenUsage(ctx, db, chatID, turn.TurnID)
		if err != nil {
			return nil, fmt.Errorf("failed to load usage for turn %d: %w", turn.TurnID, err)
		}
		t.Turns = append(t.Turns, Turn{Turn: turn, Messages: byTurn[turn.TurnID], Usage: usage})
	}
	return t, nil
}

// Options controls Render.
type Options struct {
	// Width truncates each output line to this many cells. Zero disables truncation.
	Width int
	Color bool
	Theme theme.Theme
}

// Render writes t in a human readable layout.
func Render(w io.Writer, t *Transcript, opts Options) error {
	st := opts.Theme.Styles(opts.Color)
	var b strings.Builder

	title := t.Chat.ID
	if t.Chat.Title != nil && *t.Chat.Title != "" {
		title = *t.Chat.Title + " (" + t.Chat.ID + ")"
	}
	b.WriteString(st.Header.Render("chat " + title))
	b.WriteString("\n")
	if t.Chat.UserID != "" {
		b.WriteString(st.Muted.Render("user " + t.Chat.UserID))
		b.WriteString("\n")
	}

	for _, turn := range t.Turns {
		b.WriteString("\n")
		b.WriteString(st.Header.Render(fmt.Sprintf("turn %d", turn.TurnID)))
		b.WriteString(" ")
		b.WriteString(st.Muted.Render(turnSummary(turn)))
		b.WriteString("\n")

		for _, m := range turn.Messages {
			label, style := roleLabel(m), st.Assistant
			switch {
			case m.Role == storage.RoleUser:
				style = st.User
			case m.ToolCallID != nil:
				style = st.Tool
			}
			if m.Status == storage.MessageError {
				style = st.Error
			}
			b.WriteString(style.Render(label))
			b.WriteString("\n")

			body := content(m)
			if m.ToolCallID != nil {
				body = highlightJSON(body, opts)
			}
			for _, line := range strings.Split(body, "\n") {
				b.WriteString(st.Body.Render(line))
				b.WriteString("\n")
			}
		}

		for _, e := range turn.Errors {
			b.WriteString(st.Error.Render("error: " + e))
			b.WriteString("\n")
		}
		for _, warn := range turn.Warnings {
			b.WriteString(st.Muted.Render("warning: " + warn))
			b.WriteString("\n")
		}
	}

	out := b.String()
	if opts.Width > 0 {
		out = truncateLines(out, opts.Width)
	}
	_, err := io.WriteString(w, out)
	return err
}

func turnSummary(t Turn) string {
	parts := []string{string(t.Status)}
	if t.Model != "" {
		parts = append(parts, t.Model)
	}
	if t.FinishReason != "" {
		parts = append(parts, t.FinishReason)
	}
	if t.LatencyMs != nil {
		parts = append(parts, (time.Duration(*t.LatencyMs) * time.Millisecond).String())
	}
	if t.Usage != nil {
		parts = append(parts, fmt.Sprintf("%d tokens", t.Usage.TotalTokens))
	}
	return strings.Join(parts, " · ")
}

func roleLabel(m storage.Message) string {
	label := fmt.Sprintf("[%d] %s", m.MessageOrder, m.Role)
	if m.ToolName != nil {
		label += " " + *m.ToolName
	}
	if m.ToolCallID != nil {
		label += " (" + *m.ToolCallID + ")"
	}
	if m.Status != storage.MessageComplete {
		label += " " + string(m.Status)
	}
	return label
}

func content(m storage.Message) string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// highlightJSON pretty prints and colors a JSON payload. Anything that is not JSON is
// returned unchanged.
func highlightJSON(s string, opts Options) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, []byte(s), "", "  "); err != nil {
		return s
	}
	if !opts.Color {
		return pretty.String()
	}
	style := opts.Theme.CodeStyle
	if style == "" {
		style = "monokai"
	}
	var out bytes.Buffer
	if err := quick.Highlight(&out, pretty.String(), "json", "terminal256", style); err != nil {
		return pretty.String()
	}
	return strings.TrimRight(out.String(), "\n")
}

func truncateLines(s string, width int) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if ansi.StringWidth(line) > width {
			lines[i] = ansi.Truncate(line, width, "…")
		}
	}
	return strings.Join(lines, "\n")
}
