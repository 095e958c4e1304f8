package solidity

import (
	"fmt"
	"strings"

	"github.com/blang/semver/v4"
)

// CompilerRange converts a pragma expression such as "^0.8.20" or
// ">=0.6.0 <0.9.0" into a semver range.
func CompilerRange(pragma string) (semver.Range, error) {
	expr, err := pragmaExpr(pragma)
	if err != nil {
		return nil, err
	}
	return semver.ParseRange(expr)
}

// LowerBound returns the lowest compiler version a pragma admits.
func LowerBound(pragma string) (semver.Version, error) {
	expr, err := pragmaExpr(pragma)
	if err != nil {
		return semver.Version{}, err
	}
	var low *semver.Version
	for _, part := range strings.Fields(expr) {
		v, err := semver.Parse(strings.TrimLeft(part, "<>=!"))
		if err != nil {
			return semver.Version{}, fmt.Errorf("pragma %q: %w", pragma, err)
		}
		if strings.HasPrefix(part, "<") || strings.HasPrefix(part, "!") {
			continue
		}
		if low == nil || v.LT(*low) {
			vv := v
			low = &vv
		}
	}
	if low == nil {
		return semver.Version{}, fmt.Errorf("pragma %q has no lower bound", pragma)
	}
	return *low, nil
}

func pragmaExpr(pragma string) (string, error) {
	p := strings.TrimSpace(pragma)
	if p == "" {
		return "", fmt.Errorf("empty pragma")
	}
	var parts []string
	for _, f := range strings.Fields(p) {
		switch {
		case strings.HasPrefix(f, "^"):
			v, err := semver.Parse(pad(f[1:]))
			if err != nil {
				return "", fmt.Errorf("pragma %q: %w", pragma, err)
			}
			upper := semver.Version{Major: v.Major + 1}
			if v.Major == 0 {
				upper = semver.Version{Minor: v.Minor + 1}
			}
			parts = append(parts, ">="+v.String(), "<"+upper.String())
		case strings.HasPrefix(f, "~"):
			v, err := semver.Parse(pad(f[1:]))
			if err != nil {
				return "", fmt.Errorf("pragma %q: %w", pragma, err)
			}
			parts = append(parts, ">="+v.String(), "<"+semver.Version{Major: v.Major, Minor: v.Minor + 1}.String())
		default:
			op := strings.TrimRight(f, "0123456789.")
			ver := pad(f[len(op):])
			if op == "" {
				op = "="
			}
			parts = append(parts, op+ver)
		}
	}
	return strings.Join(parts, " "), nil
}

// pad completes partial versions such as "0.8" to "0.8.0".
func pad(v string) string {
	switch strings.Count(v, ".") {
	case 0:
		return v + ".0.0"
	case 1:
		return v + ".0"
	}
	return v
}
