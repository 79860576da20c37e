package filter

import "strings"

type lexState int

const (
	stateCode lexState = iota
	stateString
	stateChar
	stateTextBlock
	stateLineComment
	stateBlockComment
)

// blankComments replaces comment bodies with spaces, keeping byte offsets
// stable so statements can be sliced from the original text.
//
// Unicode escapes are decoded by the compiler before comments are recognised,
// so "\u000a" can end a line comment early. Sources containing "\u" are
// returned untouched and get the plain textual scan.
func blankComments(src string) string {
	if strings.Contains(src, `\u`) {
		return src
	}
	out := []byte(src)
	state := stateCode
	for i := 0; i < len(out); i++ {
		c := out[i]
		switch state {
		case stateCode:
			switch {
			case strings.HasPrefix(src[i:], `"""`):
				state = stateTextBlock
				i += 2
			case c == '"':
				state = stateString
			case c == '\'':
				state = stateChar
			case c == '/' && i+1 < len(out) && out[i+1] == '/':
				out[i], out[i+1] = ' ', ' '
				state = stateLineComment
				i++
			case c == '/' && i+1 < len(out) && out[i+1] == '*':
				out[i], out[i+1] = ' ', ' '
				state = stateBlockComment
				i++
			}
		case stateString, stateChar:
			if c == '\\' {
				i++
				continue
			}
			if c == '\n' || (state == stateString && c == '"') || (state == stateChar && c == '\'') {
				state = stateCode
			}
		case stateTextBlock:
			if c == '\\' {
				i++
				continue
			}
			if strings.HasPrefix(src[i:], `"""`) {
				state = stateCode
				i += 2
			}
		case stateLineComment:
			if c == '\n' {
				state = stateCode
				continue
			}
			out[i] = ' '
		case stateBlockComment:
			if c == '*' && i+1 < len(out) && out[i+1] == '/' {
				out[i], out[i+1] = ' ', ' '
				state = stateCode
				i++
				continue
			}
			if c != '\n' {
				out[i] = ' '
			}
		}
	}
	return string(out)
}
