package stats

import "fmt"

// FormatCount renders a message count with a K/M suffix for display,
// matching the dashboard's expectations (e.g. 1234 -> "1.2K").
func FormatCount(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}
