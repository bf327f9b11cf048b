package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/qa-agent/logexplain/pkg/models"
)

func formatExplanation(exp models.Explanation, cacheHit bool) string {
	var b strings.Builder
	b.WriteString(exp.Content)
	b.WriteString("\n\n---\n")
	if cacheHit {
		b.WriteString("Served from cache.")
	} else {
		fmt.Fprintf(&b, "Generated in %s.", exp.ProcessingTime.Round(time.Millisecond))
	}
	if u := exp.TokenUsage; u != nil {
		fmt.Fprintf(&b, " Tokens: %d prompt / %d completion (%s).", u.PromptTokens, u.CompletionTokens, u.Model)
	}
	return b.String()
}

func formatInteractions(items []models.Interaction) string {
	if len(items) == 0 {
		return "No explanations found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %-10s %-20s %s\n", "ID", "Ticket", "Time", "Log")
	b.WriteString(strings.Repeat("-", 100) + "\n")
	for _, it := range items {
		fmt.Fprintf(&b, "%-36s %-10s %-20s %s\n",
			it.ID, it.Context, it.CreatedAt.Format("2006-01-02 15:04:05"), headline(it.UserQuery, 40))
	}
	return b.String()
}

func formatInteraction(it models.Interaction) string {
	return fmt.Sprintf("ID: %s\nTicket: %s\nTime: %s\n\n--- Log ---\n%s\n\n--- Explanation ---\n%s\n",
		it.ID, it.Context, it.CreatedAt.Format("2006-01-02 15:04:05"), it.UserQuery, it.AIResponse)
}

func formatRuns(runs []models.RunRecord) string {
	if len(runs) == 0 {
		return "No runs found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-10s %-8s %-9s %-8s %s\n", "Time", "Ticket", "State", "Commented", "Attached", "Log")
	b.WriteString(strings.Repeat("-", 90) + "\n")
	for _, r := range runs {
		fmt.Fprintf(&b, "%-20s %-10s %-8s %-9t %-8t %s\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"), r.TicketKey, r.State, r.Commented, r.Attached, r.LogPath)
		if r.Error != "" {
			fmt.Fprintf(&b, "  error: %s\n", r.Error)
		}
	}
	return b.String()
}

func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Cache Statistics\n"+
		"  Memory entries:     %d\n"+
		"  Persistent entries: %d\n"+
		"  Hits:               %d\n"+
		"  Misses:             %d\n"+
		"  Hit Rate:           %.1f%%\n",
		stats.MemoryEntries, stats.PersistentEntries, stats.Hits, stats.Misses, hitRate)
}

func headline(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	r := []rune(strings.TrimSpace(s))
	if len(r) > max {
		return string(r[:max-3]) + "..."
	}
	return string(r)
}
