package trigger

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/shipwatch/shipwatch/internal/types"
)

// maxContentRunes truncates each message in the analysis input
const maxContentRunes = 200

// ActivityStats are the quantitative facts placed ahead of the messages
type ActivityStats struct {
	Messages         int
	Users            int
	AverageLength    float64
	MostActiveAuthor string
	MostActiveCount  int
}

// ComputeStats summarizes a batch of events
func ComputeStats(events []types.ActivityEvent) ActivityStats {
	stats := ActivityStats{Messages: len(events)}
	if len(events) == 0 {
		return stats
	}

	counts := make(map[string]int)
	totalRunes := 0
	for _, ev := range events {
		counts[ev.Author]++
		totalRunes += utf8.RuneCountInString(ev.Content)
	}
	stats.Users = len(counts)
	stats.AverageLength = float64(totalRunes) / float64(len(events))

	authors := make([]string, 0, len(counts))
	for a := range counts {
		authors = append(authors, a)
	}
	sort.Strings(authors)
	for _, a := range authors {
		if counts[a] > stats.MostActiveCount {
			stats.MostActiveAuthor, stats.MostActiveCount = a, counts[a]
		}
	}
	return stats
}

// FormatActivity renders events, oldest first, as the text handed to the
// summarizer: a stats header followed by one "[time] author: content" line
// per message.
func FormatActivity(events []types.ActivityEvent) string {
	stats := ComputeStats(events)

	var b strings.Builder
	fmt.Fprintf(&b, "Total messages: %d\n", stats.Messages)
	fmt.Fprintf(&b, "Active users: %d\n", stats.Users)
	fmt.Fprintf(&b, "Average message length: %.1f characters\n", stats.AverageLength)
	if stats.MostActiveAuthor != "" {
		fmt.Fprintf(&b, "Most active: %s (%d messages)\n", stats.MostActiveAuthor, stats.MostActiveCount)
	}
	if len(events) > 0 {
		first, last := events[0].Timestamp.UTC(), events[len(events)-1].Timestamp.UTC()
		fmt.Fprintf(&b, "Period: %s to %s\n", first.Format("2006-01-02 15:04"), last.Format("2006-01-02 15:04"))
	}

	b.WriteString("\nMessages:\n")
	for _, ev := range events {
		fmt.Fprintf(&b, "[%s] %s: %s\n",
			ev.Timestamp.UTC().Format("2006-01-02 15:04"), ev.Author, truncate(ev.Content, maxContentRunes))
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
