package app

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tuneverse/tuneverse/internal/player"
)

// DiagnosticsState holds runtime metrics for the debug overlay.
type DiagnosticsState struct {
	StartTime      time.Time
	LastUpdate     time.Time
	MemoryUsage    uint64
	GoroutineCount int

	ArtworkCacheHits   int
	ArtworkCacheMisses int
}

func NewDiagnosticsState() *DiagnosticsState {
	return &DiagnosticsState{StartTime: time.Now()}
}

func (d *DiagnosticsState) RecordArtworkCacheHit()  { d.ArtworkCacheHits++ }
func (d *DiagnosticsState) RecordArtworkCacheMiss() { d.ArtworkCacheMisses++ }

// ArtworkCacheHitRate returns the cache hit rate as a percentage.
func (d *DiagnosticsState) ArtworkCacheHitRate() float64 {
	total := d.ArtworkCacheHits + d.ArtworkCacheMisses
	if total == 0 {
		return 0
	}
	return float64(d.ArtworkCacheHits) / float64(total) * 100
}

// Update refreshes runtime stats.
func (d *DiagnosticsState) Update() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	d.MemoryUsage = m.Alloc
	d.GoroutineCount = runtime.NumGoroutine()
	d.LastUpdate = time.Now()
}

func (d *DiagnosticsState) Uptime() time.Duration {
	return time.Since(d.StartTime)
}

// Render renders the diagnostics overlay.
func (d *DiagnosticsState) Render(m *Model) string {
	d.Update()

	var b strings.Builder

	b.WriteString(m.theme.Title.Render(" ═══ Diagnostics ═══ "))
	b.WriteString("\n\n")

	uptime := d.Uptime().Round(time.Second)
	b.WriteString(m.theme.Dim.Render("Uptime: "))
	b.WriteString(m.theme.Text.Render(uptime.String()))
	b.WriteString("\n\n")

	b.WriteString(m.theme.Accent.Render("Runtime"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  Memory: %s\n", formatBytes(d.MemoryUsage)))
	b.WriteString(fmt.Sprintf("  Goroutines: %d\n", d.GoroutineCount))
	b.WriteString("\n")

	b.WriteString(m.theme.Accent.Render("Artwork Cache"))
	b.WriteString("\n")
	total := d.ArtworkCacheHits + d.ArtworkCacheMisses
	if total > 0 {
		b.WriteString(fmt.Sprintf("  Hits: %d / Misses: %d\n", d.ArtworkCacheHits, d.ArtworkCacheMisses))
		b.WriteString(fmt.Sprintf("  Hit rate: %.1f%%\n", d.ArtworkCacheHitRate()))
	} else {
		b.WriteString("  No requests yet\n")
	}
	b.WriteString("\n")

	b.WriteString(m.theme.Accent.Render("Playback"))
	b.WriteString("\n")
	if m.playback.Song.ID != "" {
		b.WriteString(fmt.Sprintf("  State: %s\n", m.playback.State))
		b.WriteString(fmt.Sprintf("  Volume: %.0f%%\n", m.playback.Volume*100))
		b.WriteString(fmt.Sprintf("  Position: %.0f / %.0f sec\n",
			m.playback.PositionSeconds, m.playback.DurationSeconds))
	} else if m.playback.State == player.StateLoading {
		b.WriteString("  Loading\n")
	} else {
		b.WriteString("  Nothing playing\n")
	}
	b.WriteString("\n")

	b.WriteString(m.theme.Accent.Render("Queue"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  Items: %d\n", m.queue.Len()))
	b.WriteString(fmt.Sprintf("  Current: %d\n", m.queue.CurrentIndex()))
	b.WriteString(fmt.Sprintf("  Shuffle: %v\n", m.queue.IsShuffled()))

	b.WriteString("\n")
	b.WriteString(m.theme.Dim.Render("Press Ctrl+D to close"))

	content := b.String()
	diagBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(1, 2).
		Width(40).
		Render(content)

	return lipgloss.Place(m.width, m.height, lipgloss.Right, lipgloss.Top, diagBox)
}

// formatBytes formats bytes as human-readable string.
func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
