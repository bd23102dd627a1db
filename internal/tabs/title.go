package tabs

import (
	"path/filepath"
	"strings"
)

// defaultTitle is used when a tab has no project path to derive from.
const defaultTitle = "New Session"

// throwawayPrefixes are scratch-directory prefixes stripped from a derived
// title so "tmp-checkout" and "checkout" read the same.
var throwawayPrefixes = []string{"tmp-", "tmp_", "temp-", "temp_", "scratch-", "scratch_", "wip-", "wip_"}

// DeriveTitle computes a display label from a project path: the last path
// segment with throwaway prefixes stripped and separators turned into
// spaces. An empty or root-like path yields the default title.
func DeriveTitle(projectPath string) string {
	if projectPath == "" {
		return defaultTitle
	}

	base := filepath.Base(filepath.Clean(projectPath))
	if base == "." || base == string(filepath.Separator) || base == "" {
		return defaultTitle
	}

	lower := strings.ToLower(base)
	for _, prefix := range throwawayPrefixes {
		if strings.HasPrefix(lower, prefix) && len(base) > len(prefix) {
			base = base[len(prefix):]
			break
		}
	}

	title := strings.NewReplacer("-", " ", "_", " ", ".", " ").Replace(base)
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return defaultTitle
	}
	return title
}
