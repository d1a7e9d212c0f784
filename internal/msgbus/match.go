package msgbus

import "strings"

// IsMatching reports whether topic matches pattern, where '*' matches any
// run of bytes (including none) and '?' matches exactly one byte.
func IsMatching(topic, pattern string) bool {
	if !strings.ContainsAny(pattern, "*?") {
		return topic == pattern
	}
	n, m := len(topic), len(pattern)
	// prev[j] reports whether topic[:i-1] matches pattern[:j].
	prev := make([]bool, m+1)
	cur := make([]bool, m+1)
	prev[0] = true
	for j := 1; j <= m && pattern[j-1] == '*'; j++ {
		prev[j] = true
	}
	for i := 1; i <= n; i++ {
		cur[0] = false
		for j := 1; j <= m; j++ {
			switch pattern[j-1] {
			case '*':
				cur[j] = cur[j-1] || prev[j]
			case '?':
				cur[j] = prev[j-1]
			default:
				cur[j] = prev[j-1] && topic[i-1] == pattern[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[m]
}
