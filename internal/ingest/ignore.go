package ingest

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// IgnoreFile is read from the root of a directory or repository tree.
const IgnoreFile = ".clauselensignore"

type rule struct {
	glob   string
	dir    bool
	negate bool
}

// Matcher holds gitignore-style rules. The zero value ignores nothing.
type Matcher struct {
	rules []rule
}

// LoadIgnore reads an ignore file. A missing file yields an empty Matcher.
func LoadIgnore(path string) (Matcher, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Matcher{}, nil
		}
		return Matcher{}, err
	}
	defer f.Close()
	return ParseIgnore(f)
}

// ParseIgnore reads one pattern per line. Blank lines and lines starting
// with '#' are skipped, a trailing '/' matches directories only, a leading
// '!' re-includes, and patterns without a slash match at any depth.
func ParseIgnore(r io.Reader) (Matcher, error) {
	var m Matcher
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var ru rule
		if strings.HasPrefix(line, "!") {
			ru.negate = true
			line = line[1:]
		}
		if strings.HasSuffix(line, "/") {
			ru.dir = true
			line = strings.TrimRight(line, "/")
		}
		anchored := strings.Contains(line, "/")
		line = strings.TrimPrefix(line, "/")
		if line == "" || !doublestar.ValidatePattern(line) {
			continue
		}
		if !anchored {
			line = "**/" + line
		}
		ru.glob = line
		m.rules = append(m.rules, ru)
	}
	return m, sc.Err()
}

// Match reports whether the slash-separated relative path p is ignored.
// The last matching rule wins.
func (m Matcher) Match(p string) bool {
	if len(m.rules) == 0 {
		return false
	}
	p = strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "./")
	parents := parentDirs(p)
	ignored := false
	for _, ru := range m.rules {
		hit := false
		for _, d := range parents {
			if ok, _ := doublestar.Match(ru.glob, d); ok {
				hit = true
				break
			}
		}
		if !hit && !ru.dir {
			hit, _ = doublestar.Match(ru.glob, p)
		}
		if hit {
			ignored = !ru.negate
		}
	}
	return ignored
}

func parentDirs(p string) []string {
	var out []string
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			out = append(out, p[:i])
		}
	}
	return out
}
