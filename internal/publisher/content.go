package publisher

import (
	"strings"
	"unicode/utf8"
)

const tweetLimit = 280

// Tags normalizes hashtags: leading '#' and blanks removed, duplicates dropped.
func Tags(hashtags []string) []string {
	seen := make(map[string]bool, len(hashtags))
	var out []string
	for _, h := range hashtags {
		h = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(h), "#"))
		if h == "" || seen[strings.ToLower(h)] {
			continue
		}
		seen[strings.ToLower(h)] = true
		out = append(out, h)
	}
	return out
}

// Caption is the body followed by a hashtag line, as Instagram, TikTok,
// LinkedIn and X expect.
func Caption(c Content) string {
	tags := Tags(c.Hashtags)
	body := strings.TrimSpace(c.Body)
	if len(tags) == 0 {
		return body
	}
	line := "#" + strings.Join(tags, " #")
	if body == "" {
		return line
	}
	return body + "\n\n" + line
}

// TweetText is Caption cut to the X length limit.
func TweetText(c Content) string {
	return truncateRunes(Caption(c), tweetLimit)
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}

// Headline returns the title, falling back to the first line of the body.
func Headline(c Content, limit int) string {
	title := strings.TrimSpace(c.Title)
	if title == "" {
		title, _, _ = strings.Cut(strings.TrimSpace(c.Body), "\n")
	}
	return truncateRunes(title, limit)
}
