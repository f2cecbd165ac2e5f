package lexer

import "fmt"

type TokenKind int

const (
	TokenEOF TokenKind = iota
	TokenIdent
	TokenInt
	TokenFloat
	TokenClass
	TokenField
	TokenMethod
	TokenLParen
	TokenRParen
	TokenLBrace
	TokenRBrace
	TokenLBracket
	TokenRBracket
	TokenComma
	TokenDot
	TokenSemicolon
	TokenEq
	TokenIllegal
)

var keywords = map[string]TokenKind{
	"class":  TokenClass,
	"field":  TokenField,
	"method": TokenMethod,
}

type Position struct {
	Line int
	Col  int
}

type Token struct {
	Kind TokenKind
	Text string
	Pos  Position
}

var kindNames = [...]string{
	TokenEOF:       "eof",
	TokenIdent:     "ident",
	TokenInt:       "int",
	TokenFloat:     "float",
	TokenClass:     "class",
	TokenField:     "field",
	TokenMethod:    "method",
	TokenLParen:    "(",
	TokenRParen:    ")",
	TokenLBrace:    "{",
	TokenRBrace:    "}",
	TokenLBracket:  "[",
	TokenRBracket:  "]",
	TokenComma:     ",",
	TokenDot:       ".",
	TokenSemicolon: ";",
	TokenEq:        "=",
	TokenIllegal:   "illegal",
}

func (k TokenKind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("token(%d)", int(k))
}

type CommentKind int

const (
	CommentLine CommentKind = iota
	CommentBlock
)

// Comment is a comment seen while lexing. Text includes the delimiters.
type Comment struct {
	Kind   CommentKind
	Text   string
	Pos    Position
	End    Position
	Inline bool
}
