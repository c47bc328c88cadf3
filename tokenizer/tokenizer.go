package tokenizer

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"golang.org/x/exp/slices"
)

// LexError is a lexical diagnostic tied to the 1-based source line on
// which the offending lexeme (or, for multi-line issues, the opening
// line) was found.
type LexError struct {
	Line   int
	Reason string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("Error on line %d: %s", e.Line, e.Reason)
}

func lookupKeyword(word string) (Keyword, bool) {
	idx := slices.IndexFunc(keywords, func(k Keyword) bool { return string(k) == word })
	if idx < 0 {
		return "", false
	}
	return keywords[idx], true
}

func isSymbolByte(c byte) bool {
	return slices.Contains(symbols, c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t'
}

// Tokenizer lazily produces classified tokens from raw Jack source. It
// keeps a current/lookahead pair so HasMoreTokens can answer without
// consuming, and Advance promotes lookahead into current.
type Tokenizer struct {
	in   *bufio.Reader
	line int

	pending []Token

	current Token
	lookhed Token
	haveLok bool

	eof bool

	inBlockComment   bool
	blockCommentLine int
}

// New wraps r and primes the lookahead slot.
func New(r io.Reader) (*Tokenizer, error) {
	tk := &Tokenizer{in: bufio.NewReader(r)}
	if err := tk.fill(); err != nil {
		return nil, err
	}
	return tk, nil
}

// HasMoreTokens reports whether a lookahead token is available for
// Advance to promote. Advance can still fail if refilling the
// lookahead hits a lexical error.
func (tk *Tokenizer) HasMoreTokens() bool {
	return tk.haveLok
}

// Advance promotes the lookahead token into current and refills the
// lookahead. It fails on an empty stream.
func (tk *Tokenizer) Advance() error {
	if !tk.haveLok {
		return &LexError{Line: tk.line, Reason: "unexpected end of input"}
	}
	tk.current = tk.lookhed
	return tk.fill()
}

func (tk *Tokenizer) TokenKind() TokenKind { return tk.current.Kind }
func (tk *Tokenizer) Keyword() Keyword     { return tk.current.Keyword }
func (tk *Tokenizer) Symbol() byte         { return tk.current.Symbol }
func (tk *Tokenizer) Identifier() string   { return tk.current.Ident }
func (tk *Tokenizer) IntValue() int        { return tk.current.IntVal }
func (tk *Tokenizer) StringValue() string  { return tk.current.StrVal }
func (tk *Tokenizer) CurrentLine() int     { return tk.current.Line }
func (tk *Tokenizer) Current() Token       { return tk.current }

func (tk *Tokenizer) fill() error {
	for len(tk.pending) == 0 && !tk.eof {
		line, err := tk.nextRawLine()
		if err == io.EOF {
			tk.eof = true
			break
		}
		if err != nil {
			return err
		}
		toks, err := tk.scanLine(line)
		if err != nil {
			return err
		}
		tk.pending = append(tk.pending, toks...)
	}

	if len(tk.pending) > 0 {
		tk.lookhed = tk.pending[0]
		tk.pending = tk.pending[1:]
		tk.haveLok = true
		return nil
	}

	tk.haveLok = false
	if tk.inBlockComment {
		return &LexError{Line: tk.blockCommentLine, Reason: "unterminated block comment"}
	}
	return nil
}

// nextRawLine reads one logical line, stripping the trailing newline
// and any carriage return, and bumps the line counter.
func (tk *Tokenizer) nextRawLine() (string, error) {
	line, err := tk.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	if line == "" && err == io.EOF {
		return "", io.EOF
	}
	tk.line++
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

// scanLine strips comments and segments the remainder into tokens,
// carrying block-comment state across calls.
func (tk *Tokenizer) scanLine(line string) ([]Token, error) {
	if tk.inBlockComment {
		idx := strings.Index(line, "*/")
		if idx < 0 {
			return nil, nil
		}
		tk.inBlockComment = false
		return tk.scanCode(line[idx+2:])
	}
	return tk.scanCode(line)
}

// scanCode segments a line into tokens, discarding whitespace and
// handling any line/block comment openers still present in it.
func (tk *Tokenizer) scanCode(line string) ([]Token, error) {
	var toks []Token
	n := len(line)
	i := 0
	for i < n {
		c := line[i]

		if isSpace(c) {
			i++
			continue
		}

		if c == '/' && i+1 < n && line[i+1] == '/' {
			break
		}

		if c == '/' && i+1 < n && line[i+1] == '*' {
			rest := line[i+2:]
			if idx := strings.Index(rest, "*/"); idx >= 0 {
				i = i + 2 + idx + 2
				continue
			}
			tk.inBlockComment = true
			tk.blockCommentLine = tk.line
			break
		}

		if c == '"' {
			end := strings.IndexByte(line[i+1:], '"')
			if end < 0 {
				return nil, &LexError{Line: tk.line, Reason: "malformed string literal: missing closing quote"}
			}
			value := line[i+1 : i+1+end]
			toks = append(toks, Token{Kind: STRING_CONST, StrVal: value, Line: tk.line})
			i = i + 1 + end + 1
			continue
		}

		if isDigit(c) {
			j := i
			for j < n && isDigit(line[j]) {
				j++
			}
			digits := line[i:j]
			val := 0
			for k := 0; k < len(digits); k++ {
				val = val*10 + int(digits[k]-'0')
				if val > maxIntConst {
					return nil, &LexError{Line: tk.line, Reason: fmt.Sprintf("integer constant %q exceeds 32767", digits)}
				}
			}
			toks = append(toks, Token{Kind: INT_CONST, IntVal: val, Line: tk.line})
			i = j
			continue
		}

		if isIdentStart(c) {
			j := i
			for j < n && isIdentPart(line[j]) {
				j++
			}
			word := line[i:j]
			if kw, ok := lookupKeyword(word); ok {
				toks = append(toks, Token{Kind: KEYWORD, Keyword: kw, Line: tk.line})
			} else {
				toks = append(toks, Token{Kind: IDENTIFIER, Ident: word, Line: tk.line})
			}
			i = j
			continue
		}

		if isSymbolByte(c) {
			toks = append(toks, Token{Kind: SYMBOL, Symbol: c, Line: tk.line})
			i++
			continue
		}

		return nil, &LexError{Line: tk.line, Reason: fmt.Sprintf("unrecognized lexeme %q", string(c))}
	}

	return toks, nil
}
