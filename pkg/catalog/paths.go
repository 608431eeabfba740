package catalog

import "strings"

// SlashPaths implements Paths for "/"-delimited logical namespaces.
type SlashPaths struct{}

// Join joins elements with "/" and normalizes the result.
func (SlashPaths) Join(elem ...string) string {
	nonEmpty := make([]string, 0, len(elem))
	for _, e := range elem {
		if e != "" {
			nonEmpty = append(nonEmpty, e)
		}
	}
	if len(nonEmpty) == 0 {
		return ""
	}
	return SlashPaths{}.NormPath(strings.Join(nonEmpty, "/"))
}

// SplitName splits path after its last "/".
func (SlashPaths) SplitName(path string) (dir, name string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	dir = path[:i]
	if dir == "" {
		dir = "/"
	}
	return dir, path[i+1:]
}

// Dir returns everything before the last "/".
func (p SlashPaths) Dir(path string) string {
	dir, _ := p.SplitName(path)
	return dir
}

// Base returns the last path element.
func (p SlashPaths) Base(path string) string {
	_, name := p.SplitName(strings.TrimRight(path, "/"))
	return name
}

// NormPath collapses ".", ".." and repeated separators. ".." never climbs
// above the root: leading ".." elements are dropped, for absolute and
// relative paths alike.
func (SlashPaths) NormPath(path string) string {
	if path == "" {
		return "."
	}
	rooted := strings.HasPrefix(path, "/")

	var out []string
	for _, part := range strings.Split(path, "/") {
		switch part {
		case "", ".":
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, part)
		}
	}

	joined := strings.Join(out, "/")
	if rooted {
		return "/" + joined
	}
	if joined == "" {
		return "."
	}
	return joined
}
