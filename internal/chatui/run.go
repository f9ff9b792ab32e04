package chatui

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fyrsmithlabs/coachd/internal/client"
)

// Run starts the chat UI and blocks until the user quits or ctx is done.
func Run(ctx context.Context, coach Coach, sessionID string, turnTimeout time.Duration) error {
	p := tea.NewProgram(
		NewModel(coach, sessionID, turnTimeout),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat ui: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	return client.IsStatus(err, http.StatusNotFound)
}

// FormatLatency formats a duration as "X.Xms" or "X.Xs".
func FormatLatency(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// FormatPercentage formats a ratio (0-1) as a whole percentage.
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.0f%%", ratio*100)
}
