package command

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/johnayeni/mws-restaurant-reviews-app/internal/types"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	favoriteStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	pendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	metaStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	starStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
)

const (
	favoriteMarker = "♥"
	pendingMarker  = "(pending)"
)

var weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// formatRestaurantLine renders one row of the restaurant list.
func formatRestaurantLine(r types.Restaurant, pendingFavorite bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%4d  %s", r.ID, titleStyle.Render(r.Name))
	if r.CuisineType != "" || r.Neighborhood != "" {
		b.WriteString(" ")
		b.WriteString(metaStyle.Render(fmt.Sprintf("(%s, %s)", r.CuisineType, r.Neighborhood)))
	}
	if r.IsFavorite {
		b.WriteString(" ")
		b.WriteString(favoriteStyle.Render(favoriteMarker))
	}
	if pendingFavorite {
		b.WriteString(" ")
		b.WriteString(pendingStyle.Render(pendingMarker))
	}
	return b.String()
}

// formatRestaurantDetail renders a restaurant with its address and hours.
func formatRestaurantDetail(r types.Restaurant, pendingFavorite bool) string {
	var b strings.Builder
	b.WriteString(formatRestaurantLine(r, pendingFavorite))
	b.WriteString("\n")
	if r.Address != "" {
		fmt.Fprintf(&b, "      %s\n", r.Address)
	}
	if r.LatLng.Lat != 0 || r.LatLng.Lng != 0 {
		fmt.Fprintf(&b, "      %s\n", metaStyle.Render(fmt.Sprintf("%.6f, %.6f", r.LatLng.Lat, r.LatLng.Lng)))
	}
	for _, day := range orderedDays(r.OperatingHours) {
		fmt.Fprintf(&b, "      %-10s %s\n", day, r.OperatingHours[day])
	}
	return b.String()
}

// orderedDays lists the keys of hours by weekday, unknown keys last.
func orderedDays(hours map[string]string) []string {
	days := make([]string, 0, len(hours))
	seen := map[string]bool{}
	for _, day := range weekdays {
		if _, ok := hours[day]; ok {
			days = append(days, day)
			seen[day] = true
		}
	}
	var rest []string
	for day := range hours {
		if !seen[day] {
			rest = append(rest, day)
		}
	}
	sort.Strings(rest)
	return append(days, rest...)
}

// formatReview renders a review with its relative creation time.
func formatReview(r types.Review, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s", starStyle.Render(formatStars(r.Rating)), titleStyle.Render(r.Name))
	if r.CreatedAt > 0 {
		b.WriteString(" ")
		b.WriteString(metaStyle.Render(relativeTime(r.CreatedAt, now)))
	}
	if r.Pending() {
		b.WriteString(" ")
		b.WriteString(pendingStyle.Render(pendingMarker))
	}
	if comments := strings.TrimSpace(r.Comments); comments != "" {
		b.WriteString("\n    ")
		b.WriteString(strings.ReplaceAll(comments, "\n", "\n    "))
	}
	return b.String()
}

func formatStars(rating int) string {
	if rating < 0 {
		rating = 0
	}
	if rating > 5 {
		rating = 5
	}
	return strings.Repeat("★", rating) + strings.Repeat("☆", 5-rating)
}

func relativeTime(unixMillis int64, now time.Time) string {
	return humanize.RelTime(time.UnixMilli(unixMillis), now, "ago", "from now")
}

func writeJSON(w io.Writer, value any) error {
	return json.NewEncoder(w).Encode(value)
}
