package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/clauselens/clauselens/internal/types"
)

var (
	sevCriticalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	sevHighStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	sevMedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	sevLowStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	sevInfoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	headingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	refusedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Italic(true)
	caveatStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// ColorEnabled reports whether output to f should be coloured: f must be a
// terminal and NO_COLOR unset.
func ColorEnabled(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func colorSeverity(s types.Severity) string {
	switch s {
	case types.SevCritical:
		return sevCriticalStyle.Render(string(s))
	case types.SevHigh:
		return sevHighStyle.Render(string(s))
	case types.SevMed:
		return sevMedStyle.Render(string(s))
	case types.SevLow:
		return sevLowStyle.Render(string(s))
	default:
		return sevInfoStyle.Render(string(s))
	}
}

func paint(style lipgloss.Style, s string, noColor bool) string {
	if noColor {
		return s
	}
	return style.Render(s)
}

// highlightCode returns code coloured for a 256-colour terminal, or code
// unchanged when no lexer applies.
func highlightCode(code, filename string) string {
	lexer := lexers.Match(filename)
	if lexer == nil {
		if ext := filepath.Ext(filename); ext != "" {
			lexer = lexers.Match("file" + ext)
		}
	}
	if lexer == nil && strings.HasSuffix(filename, ".sol") {
		lexer = lexers.Get("solidity")
	}
	if lexer == nil {
		return code
	}
	lexer = chroma.Coalesce(lexer)

	style := styles.Get("monokai")
	if style == nil {
		style = styles.Fallback
	}
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		return code
	}
	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return code
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
