package feed

import "strings"

// NormalizeLink canonicalizes an item link for dedup-key derivation.
// The query string is stripped (tracking parameters churn between fetches of
// the same item), surrounding space is trimmed, and the result is lowercased.
func NormalizeLink(link string) string {
	if i := strings.Index(link, "?"); i >= 0 {
		link = link[:i]
	}
	return strings.ToLower(strings.TrimSpace(link))
}

// DedupKeyInput builds the pre-hash input for a record's dedup key.
// The source participates so identical links syndicated by two sources count
// as distinct items.
func DedupKeyInput(source, link string) string {
	return source + "|" + NormalizeLink(link)
}
