// Package dockerfile extracts FROM instructions, with their source ranges,
// from Dockerfile text.
package dockerfile

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/moby/buildkit/frontend/dockerfile/parser"
	"github.com/moby/buildkit/frontend/dockerfile/shell"
	"github.com/samber/lo"
)

// From is one FROM instruction.
type From struct {
	// Image is the base image after global ARG substitution.
	Image string
	// Raw is the image token as written.
	Raw      string
	Stage    string
	Platform string
	// Internal is set for scratch and for references to earlier stages.
	Internal bool
	// Range spans the image token, zero-based lines and columns.
	Range parser.Range
}

// Line returns the zero-based line of the instruction.
func (f From) Line() int {
	return f.Range.Start.Line
}

// ParseFile reads and parses the Dockerfile at path.
func ParseFile(path string) ([]From, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(bytes.NewReader(content))
}

// Parse returns every FROM instruction in source order.
func Parse(r io.Reader) ([]From, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	result, err := parser.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse Dockerfile: %w", err)
	}

	lines := strings.Split(strings.ReplaceAll(string(content), "\r\n", "\n"), "\n")
	lex := shell.NewLex(result.EscapeToken)
	globalArgs := map[string]string{}
	stages := map[string]bool{}
	seenFrom := false
	var froms []From

	for _, node := range result.AST.Children {
		switch strings.ToLower(node.Value) {
		case "arg":
			if seenFrom {
				continue
			}
			for n := node.Next; n != nil; n = n.Next {
				key, value, hasValue := strings.Cut(n.Value, "=")
				if !hasValue {
					// declared without a default: stays unset
					continue
				}
				if v, _, err := lex.ProcessWord(value, env(globalArgs)); err == nil {
					value = v
				}
				globalArgs[key] = value
			}
		case "from":
			seenFrom = true
			if node.Next == nil {
				continue
			}
			raw := node.Next.Value
			from := From{
				Raw:      raw,
				Image:    expand(lex, raw, globalArgs),
				Platform: platformFlag(node.Flags),
				Range:    locate(lines, node.StartLine, node.EndLine, raw),
			}
			if as := node.Next.Next; as != nil && strings.EqualFold(as.Value, "as") && as.Next != nil {
				from.Stage = as.Next.Value
			}

			image := strings.ToLower(from.Image)
			from.Internal = image == "scratch" || stages[image]
			if from.Stage != "" {
				stages[strings.ToLower(from.Stage)] = true
			}
			froms = append(froms, from)
		}
	}
	return froms, nil
}

func platformFlag(flags []string) string {
	for _, flag := range flags {
		if v, ok := strings.CutPrefix(flag, "--platform="); ok {
			return v
		}
	}
	return ""
}

func env(args map[string]string) shell.EnvGetter {
	return shell.EnvsFromSlice(lo.MapToSlice(args, func(k, v string) string {
		return k + "=" + v
	}))
}

// expand substitutes global ARGs into word with Dockerfile quoting and
// ${NAME:-default} rules. When a name without a default is unset the word is
// returned as written so the reference stays unresolved.
func expand(lex *shell.Lex, word string, args map[string]string) string {
	res, err := lex.ProcessWordWithMatches(word, env(args))
	if err != nil {
		return word
	}
	for name := range res.Unmatched {
		if bareReference(name).MatchString(word) {
			return word
		}
	}
	return res.Result
}

// bareReference matches $NAME and ${NAME}, but not ${NAME:-default} and the
// other modifier forms that supply their own value.
func bareReference(name string) *regexp.Regexp {
	q := regexp.QuoteMeta(name)
	return regexp.MustCompile(`\$\{` + q + `\}|\$` + q + `([^A-Za-z0-9_]|$)`)
}

// locate finds the column span of token within lines start..end (one-based,
// inclusive). It falls back to the whole first line.
func locate(lines []string, start, end int, token string) parser.Range {
	if start < 1 {
		start = 1
	}
	if end < start {
		end = start
	}
	for ln := start; ln <= end && ln <= len(lines); ln++ {
		text := lines[ln-1]
		offset := 0
		if ln == start {
			offset = keywordEnd(text)
		}
		if i := indexToken(text[offset:], token); i >= 0 {
			col := offset + i
			return parser.Range{
				Start: parser.Position{Line: ln - 1, Character: col},
				End:   parser.Position{Line: ln - 1, Character: col + len(token)},
			}
		}
	}

	width := 0
	if start <= len(lines) {
		width = len(lines[start-1])
	}
	return parser.Range{
		Start: parser.Position{Line: start - 1, Character: 0},
		End:   parser.Position{Line: start - 1, Character: width},
	}
}

func keywordEnd(line string) int {
	if i := strings.Index(strings.ToUpper(line), "FROM"); i >= 0 {
		return i + len("FROM")
	}
	return 0
}

// indexToken returns the index of token in s where it stands as a whole
// whitespace-delimited word.
func indexToken(s, token string) int {
	if token == "" {
		return -1
	}
	for from := 0; from < len(s); {
		i := strings.Index(s[from:], token)
		if i < 0 {
			return -1
		}
		i += from
		end := i + len(token)
		before := i == 0 || isSpace(s[i-1])
		after := end == len(s) || isSpace(s[end])
		if before && after {
			return i
		}
		from = i + 1
	}
	return -1
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\\'
}
