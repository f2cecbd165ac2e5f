package lexer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var punct = map[byte]TokenKind{
	'(': TokenLParen,
	')': TokenRParen,
	'{': TokenLBrace,
	'}': TokenRBrace,
	'[': TokenLBracket,
	']': TokenRBracket,
	',': TokenComma,
	'.': TokenDot,
	';': TokenSemicolon,
	'=': TokenEq,
}

// Lexer splits assembly source into tokens. Comments are skipped but kept
// for the formatter.
type Lexer struct {
	src       string
	off       int
	pos       Position
	lookahead *Token
	comments  []Comment
}

func New(src string) *Lexer {
	return &Lexer{src: src, pos: Position{Line: 1, Col: 1}}
}

// Comments returns the comments read so far in source order.
func (l *Lexer) Comments() []Comment {
	return append([]Comment(nil), l.comments...)
}

func (l *Lexer) Peek() Token {
	if l.lookahead == nil {
		tok := l.Next()
		l.lookahead = &tok
	}
	return *l.lookahead
}

func (l *Lexer) Next() Token {
	if tok := l.lookahead; tok != nil {
		l.lookahead = nil
		return *tok
	}
	l.skipTrivia()
	tok := Token{Pos: l.pos}
	if l.off >= len(l.src) {
		tok.Kind = TokenEOF
		return tok
	}
	r, size := utf8.DecodeRuneInString(l.src[l.off:])
	c := l.src[l.off]
	switch {
	case isIdentStart(r):
		tok.Kind, tok.Text = TokenIdent, l.take(isIdentPart)
		if kw, ok := keywords[tok.Text]; ok {
			tok.Kind = kw
		}
		return tok
	case isDigit(c) || c == '-' && isDigit(l.byteAt(1)):
		tok.Kind, tok.Text = l.scanNumber()
		return tok
	case c == '<':
		if name, ok := l.scanSpecialName(); ok {
			tok.Kind, tok.Text = TokenIdent, name
			return tok
		}
	}
	if kind, ok := punct[c]; ok {
		l.bump(1)
		tok.Kind, tok.Text = kind, string(c)
		return tok
	}
	l.bump(size)
	tok.Kind, tok.Text = TokenIllegal, string(r)
	return tok
}

func (l *Lexer) skipTrivia() {
	for l.off < len(l.src) {
		rest := l.src[l.off:]
		switch {
		case strings.HasPrefix(rest, "//"):
			l.scanComment(CommentLine)
		case strings.HasPrefix(rest, "/*"):
			l.scanComment(CommentBlock)
		default:
			r, size := utf8.DecodeRuneInString(rest)
			if !unicode.IsSpace(r) {
				return
			}
			l.bump(size)
		}
	}
}

// scanComment records the comment starting at the read position. A line
// comment stops before its newline; an unterminated block comment runs to
// the end of the input.
func (l *Lexer) scanComment(kind CommentKind) {
	start, pos := l.off, l.pos
	rest := l.src[start:]
	n := len(rest)
	if kind == CommentLine {
		if i := strings.IndexByte(rest, '\n'); i >= 0 {
			n = i
		}
	} else if i := strings.Index(rest[2:], "*/"); i >= 0 {
		n = i + 4
	}
	lineStart := strings.LastIndexByte(l.src[:start], '\n') + 1
	l.bump(n)
	l.comments = append(l.comments, Comment{
		Kind:   kind,
		Text:   l.src[start:l.off],
		Pos:    pos,
		End:    l.pos,
		Inline: strings.TrimSpace(l.src[lineStart:start]) != "",
	})
}

func (l *Lexer) scanNumber() (TokenKind, string) {
	start := l.off
	end := start
	if l.src[end] == '-' {
		end++
	}
	kind := TokenInt
	if strings.HasPrefix(l.src[end:], "0x") || strings.HasPrefix(l.src[end:], "0X") {
		end += 2
		for end < len(l.src) && isHexDigit(l.src[end]) {
			end++
		}
		l.bump(end - start)
		return kind, l.src[start:end]
	}
scan:
	for end < len(l.src) {
		switch c := l.src[end]; {
		case isDigit(c):
			end++
		case c == '.' && kind == TokenInt && end+1 < len(l.src) && isDigit(l.src[end+1]):
			kind = TokenFloat
			end++
		case c == 'e' || c == 'E':
			kind = TokenFloat
			end++
			if end < len(l.src) && (l.src[end] == '+' || l.src[end] == '-') {
				end++
			}
		default:
			break scan
		}
	}
	l.bump(end - start)
	return kind, l.src[start:end]
}

// scanSpecialName reads method names such as <init> and <clinit>.
func (l *Lexer) scanSpecialName() (string, bool) {
	rest := l.src[l.off:]
	end := strings.IndexByte(rest, '>')
	if end < 2 || strings.IndexFunc(rest[1:end], func(r rune) bool { return !isIdentPart(r) }) >= 0 {
		return "", false
	}
	l.bump(end + 1)
	return rest[:end+1], true
}

// take consumes the longest run of runes satisfying pred.
func (l *Lexer) take(pred func(rune) bool) string {
	start, end := l.off, l.off
	for end < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[end:])
		if !pred(r) {
			break
		}
		end += size
	}
	l.bump(end - start)
	return l.src[start:end]
}

// bump consumes n bytes. Columns count runes.
func (l *Lexer) bump(n int) {
	for _, r := range l.src[l.off : l.off+n] {
		if r == '\n' {
			l.pos.Line++
			l.pos.Col = 1
		} else {
			l.pos.Col++
		}
	}
	l.off += n
}

func (l *Lexer) byteAt(n int) byte {
	if l.off+n >= len(l.src) {
		return 0
	}
	return l.src[l.off+n]
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}

func isHexDigit(c byte) bool {
	return isDigit(c) || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}
