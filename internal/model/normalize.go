package model

import "strings"

// ParsePlace splits a free-form "Venue, City, Country" string. With two
// parts the first is both venue and city; with one part it is everything
// that is known.
func ParsePlace(s string) Place {
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}

	switch len(parts) {
	case 0:
		return Place{}
	case 1:
		return Place{Venue: parts[0], City: parts[0]}
	case 2:
		return Place{Venue: parts[0], City: parts[0], Country: parts[1]}
	default:
		return Place{
			Venue:   parts[0],
			City:    parts[len(parts)-2],
			Country: parts[len(parts)-1],
		}
	}
}

// HeadlinerFromTitle takes the part before " - " in titles such as
// "Artist - Tour Name"; otherwise the whole title is the headliner.
func HeadlinerFromTitle(title string) string {
	title = strings.TrimSpace(title)
	if i := strings.Index(title, " - "); i > 0 {
		return strings.TrimSpace(title[:i])
	}
	if title == "" {
		return UnknownArtist
	}
	return title
}

// SplitLineup turns a comma-separated lineup into names. An empty lineup
// falls back to just the headliner.
func SplitLineup(lineup, headliner string) []string {
	out := make([]string, 0, 4)
	for _, name := range strings.Split(lineup, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	if len(out) == 0 && headliner != "" {
		out = append(out, headliner)
	}
	return out
}
