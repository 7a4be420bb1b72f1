package scan

import (
	"slices"
	"strings"
)

// Group is a named bucket of files for per-folder processing. Files keep
// their scan order within the group.
type Group struct {
	Key   string
	Files []File
}

// GroupByFolder partitions scanned files into one group per top-level
// source subfolder. Files directly under the root fall into a group named
// rootName. When everything lands in a single group, one rewrite pass is
// applied: the group is split by the second path segment of its members
// (members without one stay under the original key), and the split is
// adopted only if it actually produces more than one group; otherwise a
// single group whose key differs from rootName is renamed to
// "<rootName> - <key>". Returned groups are ordered case-insensitively by
// key, so processing order is deterministic for identical input.
func GroupByFolder(files []File, rootName string) []Group {
	groups := make(map[string][]File)

	for _, f := range files {
		key := rootName
		if rf := normalizeFolder(f.RelFolder); rf != "" {
			key = strings.Split(rf, "/")[0]
		}
		groups[key] = append(groups[key], f)
	}

	if len(groups) == 1 {
		var onlyKey string
		for k := range groups {
			onlyKey = k
		}

		drill := make(map[string][]File)
		for _, f := range groups[onlyKey] {
			var parts []string
			if rf := normalizeFolder(f.RelFolder); rf != "" {
				parts = strings.Split(rf, "/")
			}
			if len(parts) >= 2 && parts[0] == onlyKey {
				key := onlyKey + " - " + parts[1]
				drill[key] = append(drill[key], f)
			} else {
				drill[onlyKey] = append(drill[onlyKey], f)
			}
		}

		if len(drill) > 1 {
			groups = drill
		} else if onlyKey != rootName {
			groups = map[string][]File{rootName + " - " + onlyKey: groups[onlyKey]}
		}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})

	out := make([]Group, 0, len(keys))
	for _, k := range keys {
		out = append(out, Group{Key: k, Files: groups[k]})
	}
	return out
}

func normalizeFolder(relFolder string) string {
	return strings.ReplaceAll(relFolder, "\\", "/")
}
