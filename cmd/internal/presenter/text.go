package presenter

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
	colorFail   = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	colorPass   = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	colorMuted  = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(0, 1).
			Width(64)

	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	errorStyle    = lipgloss.NewStyle().Foreground(colorFail)
	successStyle  = lipgloss.NewStyle().Foreground(colorPass)
	mutedStyle    = lipgloss.NewStyle().Foreground(colorMuted)
	keyStyle      = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	disabledStyle = lipgloss.NewStyle().Foreground(colorMuted).Strikethrough(true)
)

// keys maps actions to the stdin keys of the terminal client.
var keys = map[ActionID]string{
	ActionContinue: "c",
	ActionClose:    "x",
}

// TextRenderer draws modals as boxed text on a terminal.
type TextRenderer struct {
	w   io.Writer
	now func() time.Time

	mu sync.Mutex
}

func NewTextRenderer(w io.Writer) *TextRenderer {
	return &TextRenderer{w: w, now: time.Now}
}

func (r *TextRenderer) Mount(m Modal)  { r.draw(m) }
func (r *TextRenderer) Update(m Modal) { r.draw(m) }

func (r *TextRenderer) Unmount(m Modal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, mutedStyle.Render(fmt.Sprintf("(%s closed)", m.Surface)))
}

func (r *TextRenderer) draw(m Modal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, r.Render(m))
}

// Render returns the boxed text of m.
func (r *TextRenderer) Render(m Modal) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.Title))
	b.WriteString("\n\n")
	b.WriteString(m.Body)

	if !m.ExpiresAt.IsZero() {
		left := m.ExpiresAt.Sub(r.now()).Round(time.Second)
		if left < 0 {
			left = 0
		}
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render("Recovery window: " + left.String() + " left"))
	}
	if m.ErrorText != "" {
		b.WriteString("\n\n")
		b.WriteString(errorStyle.Render(m.ErrorText))
	}
	if m.SuccessText != "" {
		b.WriteString("\n\n")
		b.WriteString(successStyle.Render(m.SuccessText))
	}

	if len(m.Actions) > 0 {
		parts := make([]string, 0, len(m.Actions))
		for _, a := range m.Actions {
			label := fmt.Sprintf("[%s] %s", keys[a.ID], a.Label)
			if a.Enabled {
				parts = append(parts, keyStyle.Render(label))
			} else {
				parts = append(parts, disabledStyle.Render(label))
			}
		}
		b.WriteString("\n\n")
		b.WriteString(strings.Join(parts, "   "))
	}

	return boxStyle.Render(b.String())
}
