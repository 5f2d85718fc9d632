package tui

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// KernelLanguage is the lexer used for kernel sources. Metal shading
// language is C++ with attributes, which the C++ lexer handles.
const KernelLanguage = "cpp"

// HighlightSource applies terminal syntax highlighting to source code.
// It returns the input unchanged when highlighting fails.
func HighlightSource(code, language string) string {
	// Get lexer for language
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	// Use terminal256 formatter for ANSI color output
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	style := styles.Get("monokai")
	if style == nil {
		style = styles.Fallback
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

// StripANSI removes ANSI color codes from text
func StripANSI(text string) string {
	return ansiRegex.ReplaceAllString(text, "")
}

// NumberLines prefixes each line with its 1-based line number.
func NumberLines(code string) string {
	lines := strings.Split(strings.TrimSuffix(code, "\n"), "\n")
	width := len(strconv.Itoa(len(lines)))

	var sb strings.Builder
	for i, line := range lines {
		n := fmt.Sprintf("%*d", width, i+1)
		sb.WriteString(MutedStyle.Render(n))
		sb.WriteString(" │ ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}
