package loader

import (
	"regexp"
	"sort"
	"strings"
)

const frontmatterDelimiter = "---"

var headingPattern = regexp.MustCompile(`(?m)^#\s+(.+)$`)

// parseFrontmatter splits a leading "---" block of "key: value" lines from the body.
// Only single-line values are understood; nested or multi-line YAML is not supported.
func parseFrontmatter(content string) (map[string]string, string) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(content, frontmatterDelimiter+"\n") {
		return map[string]string{}, content
	}

	rest := content[len(frontmatterDelimiter)+1:]
	end := strings.Index(rest, "\n"+frontmatterDelimiter)
	if end < 0 {
		return map[string]string{}, content
	}

	meta := make(map[string]string)
	for _, line := range strings.Split(rest[:end], "\n") {
		key, value, found := strings.Cut(line, ":")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			continue
		}
		meta[key] = strings.TrimSpace(value)
	}

	body := rest[end+1+len(frontmatterDelimiter):]
	return meta, strings.TrimSpace(body)
}

// extractTitle returns the first level-1 heading of body or "Untitled"
func extractTitle(body string) string {
	if m := headingPattern.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	return "Untitled"
}

// parseTags accepts "a, b", "[a, b]" and quoted variants and returns a sorted set
func parseTags(raw string) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")

	seen := make(map[string]struct{})
	tags := []string{}
	for _, part := range strings.Split(raw, ",") {
		tag := strings.Trim(strings.TrimSpace(part), `"'`)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// categoryRules is evaluated in order; the first substring hit wins
var categoryRules = []struct {
	keywords []string
	category string
}{
	{[]string{"plugins"}, "plugins"},
	{[]string{"features"}, "features"},
	{[]string{"configuration"}, "configuration"},
	{[]string{"advanced"}, "advanced"},
	{[]string{"hosting", "deploy"}, "deployment"},
}

// Categorize classifies a relative document path
func Categorize(path string) string {
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(path, kw) {
				return rule.category
			}
		}
	}
	return "general"
}
