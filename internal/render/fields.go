package render

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"vcbot/internal/model"
)

const (
	timeLayout     = "2006-01-02T15:04:05Z"
	dateLayout     = "2006-01-02"
	priceEmoji     = ":credits:"
	maxTitleEmojis = 10
)

var platformEmoji = map[string]string{
	"XBOXONE":      ":xbox:",
	"XBOXSERIESX":  ":xbox:",
	"PLAYSTATION4": ":playstation:",
	"PLAYSTATION5": ":playstation:",
	"WINDOWS":      ":pc:",
	"ALL":          ":globe_with_meridians:",
}

var platformFullName = map[string]string{
	"XBOXONE":      "Xbox One",
	"XBOXSERIESX":  "Xbox Series X|S",
	"PLAYSTATION4": "PlayStation 4",
	"PLAYSTATION5": "PlayStation 5",
	"WINDOWS":      "Windows",
	"ALL":          "All Platforms",
}

var (
	codeFenceRe  = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe = regexp.MustCompile("`([^`]*)`")
	mdImageRe    = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	mdLinkRe     = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	mdSpecialRe  = regexp.MustCompile("[\\\\`*_{}\\[\\]()#+\\-.!|>]")
)

// Title builds the post title for an event. Updates are prefixed with the
// product label and the update date; creations credit the author.
func Title(mod model.Mod, kind model.EventKind, includeEmojis bool) string {
	if kind == model.KindUpdate {
		hint := "Update"
		if !mod.UpdatedAt.IsZero() {
			hint = mod.UpdatedAt.UTC().Format(dateLayout)
		}
		return fmt.Sprintf("[%s] Update: %s (%s)", productLabel(mod), mod.Title, hint)
	}

	creator := mod.AuthorName
	if creator == "" {
		creator = "Unknown Creator"
	}
	title := creator + " presents: " + mod.Title
	if includeEmojis {
		if emojis := platformEmojis(mod.Platforms); emojis != "" {
			title += " " + emojis
		}
	}
	return title
}

// Fields computes the full placeholder map for a mod. Values are
// human-friendly strings; anything the feed did not supply is "N/A".
func Fields(mod model.Mod, kind model.EventKind) map[string]string {
	author := mod.AuthorName
	if author == "" {
		author = "Unknown"
	}

	return map[string]string{
		"post_type":            string(kind),
		"mod_id":               mod.ID,
		"product":              mod.Product,
		"product_title":        productLabel(mod),
		"title":                mod.Title,
		"title_plain":          Title(mod, kind, false),
		"summary":              summaryText(mod),
		"description":          cleanDescription(mod.Description),
		"description_markdown": markdownDescription(mod.Description),
		"author":               author,
		"author_url":           authorURL(mod),
		"platforms":            joinList(mod.Platforms),
		"platform_full_names":  platformFullNames(mod.Platforms),
		"platform_emojis":      platformEmojis(mod.Platforms),
		"categories":           joinList(mod.Categories),
		"content_type":         mod.ContentType,
		"prices":               priceText(mod, true),
		"prices_plain":         priceText(mod, false),
		"release_date":         formatDate(mod.FirstPublished()),
		"version":              mod.Version,
		"details_url":          mod.DetailsURL,
		"preview_image_url":    mod.PreviewImageURL,
		"cover_image_url":      mod.CoverImageURL,
		"image_urls":           imageURLsText(mod),
		"ctime":                formatTime(mod.CreatedAt),
		"ptime":                formatTime(mod.PublishedAt),
		"first_ptime":          formatTime(mod.FirstPublishedAt),
		"utime":                formatTime(mod.UpdatedAt),
	}
}

func productLabel(mod model.Mod) string {
	if mod.ProductTitle != "" {
		return mod.ProductTitle
	}
	if mod.Product != "" {
		return mod.Product
	}
	return "MOD"
}

func authorURL(mod model.Mod) string {
	if mod.Product == "" || mod.AuthorName == "" {
		return ""
	}
	return fmt.Sprintf("https://creations.bethesda.net/en/%s/all?author_displayname=%s",
		strings.ToLower(mod.Product), mod.AuthorName)
}

// summaryText prefers the overview; without one it falls back to the first
// line of the description. Markdown is stripped either way.
func summaryText(mod model.Mod) string {
	if mod.Summary != "" {
		return stripMarkdown(strings.TrimSpace(mod.Summary))
	}
	if mod.Description != "" {
		first, _, _ := strings.Cut(strings.TrimSpace(mod.Description), "\n")
		return stripMarkdown(first)
	}
	return "No summary provided."
}

func cleanDescription(text string) string {
	cleaned := stripMarkdown(text)
	if cleaned == "" {
		return ""
	}
	return escapeMarkdown(cleaned)
}

func markdownDescription(text string) string {
	return strings.TrimSpace(normalizeNewlines(text))
}

func stripMarkdown(text string) string {
	cleaned := strings.TrimSpace(normalizeNewlines(text))
	cleaned = codeFenceRe.ReplaceAllString(cleaned, "")
	cleaned = inlineCodeRe.ReplaceAllString(cleaned, "$1")
	cleaned = mdImageRe.ReplaceAllString(cleaned, "$1")
	cleaned = mdLinkRe.ReplaceAllString(cleaned, "$1")
	return cleaned
}

func escapeMarkdown(text string) string {
	return mdSpecialRe.ReplaceAllString(text, `\$0`)
}

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

func platformEmojis(platforms []string) string {
	var tokens []string
	for _, p := range platforms {
		emoji, ok := platformEmoji[p]
		if !ok {
			continue
		}
		seen := false
		for _, t := range tokens {
			if t == emoji {
				seen = true
				break
			}
		}
		if !seen {
			tokens = append(tokens, emoji)
		}
	}
	if len(tokens) > maxTitleEmojis {
		tokens = tokens[:maxTitleEmojis]
	}
	return strings.Join(tokens, " ")
}

func platformFullNames(platforms []string) string {
	names := make([]string, 0, len(platforms))
	for _, p := range platforms {
		if name, ok := platformFullName[p]; ok {
			names = append(names, name)
		} else {
			names = append(names, p)
		}
	}
	return strings.Join(names, ", ")
}

// priceText renders the first storefront price, with or without the
// credits emoji.
func priceText(mod model.Mod, emoji bool) string {
	for _, p := range mod.Prices {
		amount := strconv.FormatFloat(p.Amount, 'f', -1, 64)
		if emoji {
			return priceEmoji + " " + amount
		}
		return amount + " Credits"
	}
	return ""
}

func imageURLsText(mod model.Mod) string {
	var urls []string
	add := func(u string) {
		if u == "" {
			return
		}
		for _, existing := range urls {
			if existing == u {
				return
			}
		}
		urls = append(urls, u)
	}
	add(mod.CoverImageURL)
	for _, u := range mod.ScreenshotURLs {
		add(u)
	}
	if len(urls) == 0 {
		return ""
	}
	lines := make([]string, len(urls))
	for i, u := range urls {
		lines[i] = "- " + u
	}
	return strings.Join(lines, "\n")
}

func joinList(items []string) string {
	return strings.Join(items, ", ")
}

func formatDate(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(dateLayout)
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(timeLayout)
}
