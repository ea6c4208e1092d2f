package cache

import (
	"strings"

	"github.com/gobwas/glob"

	"github.com/johnayeni/mws-restaurant-reviews-app/internal/types"
)

// All matches every value in the cuisine and neighborhood filters.
const All = "all"

// FilterByCuisine keeps restaurants serving cuisine.
func FilterByCuisine(list []types.Restaurant, cuisine string) []types.Restaurant {
	return FilterByCuisineAndNeighborhood(list, cuisine, All)
}

// FilterByNeighborhood keeps restaurants in neighborhood.
func FilterByNeighborhood(list []types.Restaurant, neighborhood string) []types.Restaurant {
	return FilterByCuisineAndNeighborhood(list, All, neighborhood)
}

// FilterByCuisineAndNeighborhood applies both filters. Empty or "all" matches anything.
func FilterByCuisineAndNeighborhood(list []types.Restaurant, cuisine, neighborhood string) []types.Restaurant {
	out := make([]types.Restaurant, 0, len(list))
	for _, r := range list {
		if !matches(cuisine, r.CuisineType) || !matches(neighborhood, r.Neighborhood) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// FilterByName keeps restaurants whose name matches a case-insensitive glob
// pattern such as "*pizza*".
func FilterByName(list []types.Restaurant, pattern string) ([]types.Restaurant, error) {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return append([]types.Restaurant{}, list...), nil
	}
	if !strings.ContainsAny(pattern, "*?[{") {
		pattern = "*" + pattern + "*"
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}
	out := make([]types.Restaurant, 0, len(list))
	for _, r := range list {
		if g.Match(strings.ToLower(r.Name)) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Distinct removes duplicates, keeping the first occurrence of each value.
func Distinct(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Neighborhoods lists the distinct neighborhoods in first-occurrence order.
func Neighborhoods(list []types.Restaurant) []string {
	values := make([]string, 0, len(list))
	for _, r := range list {
		values = append(values, r.Neighborhood)
	}
	return Distinct(values)
}

// Cuisines lists the distinct cuisines in first-occurrence order.
func Cuisines(list []types.Restaurant) []string {
	values := make([]string, 0, len(list))
	for _, r := range list {
		values = append(values, r.CuisineType)
	}
	return Distinct(values)
}

func matches(filter, value string) bool {
	return filter == "" || filter == All || filter == value
}
