package parser

import (
	"fmt"
	"math"
	"strconv"

	"opto/internal/ast"
	"opto/internal/bytecode"
	"opto/internal/lexer"
)

type Parser struct {
	lex  *lexer.Lexer
	curr lexer.Token
	path string
	errs []error
}

func New(path, src string) *Parser {
	lex := lexer.New(src)
	p := &Parser{lex: lex, path: path}
	p.curr = lex.Next()
	return p
}

// Comments returns the comments seen so far.
func (p *Parser) Comments() []lexer.Comment { return p.lex.Comments() }

func (p *Parser) ParseModule() (*ast.Module, error) {
	mod := &ast.Module{Path: p.path}
	for p.curr.Kind != lexer.TokenEOF {
		if c := p.parseClass(); c != nil {
			mod.Classes = append(mod.Classes, c)
		}
	}
	if len(p.errs) > 0 {
		return nil, p.errs[0]
	}
	return mod, nil
}

// parseClass parses
//
//	[value] class Name [extends Super] [unloaded] [state=linked] { members }
func (p *Parser) parseClass() *ast.ClassDecl {
	start := p.curr.Pos
	decl := &ast.ClassDecl{}
	if p.isWord("value") {
		decl.Value = true
		p.next()
	}
	if p.curr.Kind != lexer.TokenClass {
		p.err("class declaration required")
		p.sync()
		return nil
	}
	p.next()
	decl.Name = p.expect(lexer.TokenIdent).Text
	for p.curr.Kind == lexer.TokenIdent {
		switch p.curr.Text {
		case "extends":
			p.next()
			decl.Extends = p.expect(lexer.TokenIdent).Text
		case "unloaded":
			p.next()
			decl.Unloaded = true
		case "state":
			p.next()
			p.expect(lexer.TokenEq)
			decl.State = p.expect(lexer.TokenIdent).Text
		default:
			p.err(fmt.Sprintf("unexpected %q in class header", p.curr.Text))
			p.next()
		}
	}
	p.expect(lexer.TokenLBrace)
	for p.curr.Kind != lexer.TokenRBrace && p.curr.Kind != lexer.TokenEOF {
		switch p.curr.Kind {
		case lexer.TokenField:
			decl.Fields = append(decl.Fields, p.parseField())
		case lexer.TokenMethod:
			decl.Methods = append(decl.Methods, p.parseMethod())
		default:
			p.err("field or method declaration required")
			p.sync()
		}
	}
	end := p.curr.Pos
	p.expect(lexer.TokenRBrace)
	decl.Span = spanFrom(start, end)
	return decl
}

var fieldModifiers = map[string]bool{
	ast.ModStatic:      true,
	ast.ModFinal:       true,
	ast.ModVolatile:    true,
	ast.ModStable:      true,
	ast.ModFlattenable: true,
	ast.ModFlattened:   true,
	ast.ModCallSite:    true,
}

// parseField parses
//
//	field {modifier} Type name [= literal] ;
func (p *Parser) parseField() *ast.FieldDecl {
	start := p.curr.Pos
	p.expect(lexer.TokenField)
	f := &ast.FieldDecl{}
	for p.curr.Kind == lexer.TokenIdent && fieldModifiers[p.curr.Text] {
		f.Modifiers = append(f.Modifiers, p.curr.Text)
		p.next()
	}
	f.Type = p.parseType()
	f.Name = p.expect(lexer.TokenIdent).Text
	if p.curr.Kind == lexer.TokenEq {
		p.next()
		f.Init = p.parseLiteral()
	}
	p.expect(lexer.TokenSemicolon)
	f.Span = spanFrom(start, p.curr.Pos)
	return f
}

func (p *Parser) parseLiteral() *ast.Literal {
	tok := p.curr
	lit := &ast.Literal{Span: spanFrom(tok.Pos, tok.Pos)}
	switch {
	case tok.Kind == lexer.TokenInt:
		lit.Kind = ast.LitInt
		lit.Int = p.parseInt(tok)
	case tok.Kind == lexer.TokenFloat, p.isWord("nan"), p.isWord("inf"):
		lit.Kind = ast.LitFloat
		lit.Float = p.parseFloat(tok)
	case p.isWord("null"):
		lit.Kind = ast.LitNull
	case p.isWord("new"):
		lit.Kind = ast.LitNew
	default:
		p.err("constant required")
	}
	p.next()
	return lit
}

// parseMethod parses
//
//	method [static] Ret name(Type, ...) { instructions }
func (p *Parser) parseMethod() *ast.MethodDecl {
	start := p.curr.Pos
	p.expect(lexer.TokenMethod)
	m := &ast.MethodDecl{}
	if p.isWord("static") {
		m.Static = true
		p.next()
	}
	m.Ret = p.parseType()
	m.Name = p.expect(lexer.TokenIdent).Text
	p.expect(lexer.TokenLParen)
	for p.curr.Kind != lexer.TokenRParen && p.curr.Kind != lexer.TokenEOF {
		m.Params = append(m.Params, p.parseType())
		if p.curr.Kind != lexer.TokenComma {
			break
		}
		p.next()
	}
	p.expect(lexer.TokenRParen)
	p.expect(lexer.TokenLBrace)
	for p.curr.Kind != lexer.TokenRBrace && p.curr.Kind != lexer.TokenEOF {
		in, ok := p.parseInstr()
		if !ok {
			p.sync()
			break
		}
		m.Body = append(m.Body, in)
	}
	end := p.curr.Pos
	p.expect(lexer.TokenRBrace)
	m.Span = spanFrom(start, end)
	return m
}

func (p *Parser) parseInstr() (ast.Instr, bool) {
	tok := p.curr
	op, ok := bytecode.Lookup(tok.Text)
	if tok.Kind != lexer.TokenIdent || !ok {
		p.err(fmt.Sprintf("unknown instruction %q", tok.Text))
		return ast.Instr{}, false
	}
	p.next()
	in := ast.Instr{Mnemonic: tok.Text}
	switch op.Operand() {
	case bytecode.OperandInt:
		in.Int = p.parseInt(p.expect(lexer.TokenInt))
	case bytecode.OperandFloat:
		ftok := p.curr
		if ftok.Kind == lexer.TokenInt || ftok.Kind == lexer.TokenFloat || p.isWord("nan") || p.isWord("inf") {
			in.Float = p.parseFloat(ftok)
			p.next()
		} else {
			p.err("float constant required")
		}
	case bytecode.OperandLocal:
		in.Kind = p.expect(lexer.TokenIdent).Text
		in.Int = p.parseInt(p.expect(lexer.TokenInt))
	case bytecode.OperandClass:
		in.Class = p.parseType().String()
	case bytecode.OperandField:
		in.Class = p.expect(lexer.TokenIdent).Text
		p.expect(lexer.TokenDot)
		in.Name = p.expect(lexer.TokenIdent).Text
	case bytecode.OperandPrimitive:
		in.Kind = p.expect(lexer.TokenIdent).Text
	case bytecode.OperandClassDims:
		in.Class = p.parseType().String()
		in.Int = p.parseInt(p.expect(lexer.TokenInt))
	}
	p.optional(lexer.TokenSemicolon)
	in.Span = spanFrom(tok.Pos, p.curr.Pos)
	return in, true
}

func (p *Parser) parseType() ast.TypeExpr {
	start := p.curr.Pos
	t := ast.TypeExpr{Name: p.expect(lexer.TokenIdent).Text}
	for p.curr.Kind == lexer.TokenLBracket {
		p.next()
		p.expect(lexer.TokenRBracket)
		t.Dims++
	}
	t.Span = spanFrom(start, p.curr.Pos)
	return t
}

func (p *Parser) parseInt(tok lexer.Token) int64 {
	if tok.Kind != lexer.TokenInt {
		return 0
	}
	v, err := strconv.ParseInt(tok.Text, 0, 64)
	if err != nil {
		p.errAt(tok.Pos, fmt.Sprintf("bad integer %q", tok.Text))
	}
	return v
}

func (p *Parser) parseFloat(tok lexer.Token) float64 {
	switch tok.Text {
	case "nan":
		return math.NaN()
	case "inf":
		return math.Inf(1)
	}
	v, err := strconv.ParseFloat(tok.Text, 64)
	if err != nil {
		p.errAt(tok.Pos, fmt.Sprintf("bad float %q", tok.Text))
	}
	return v
}

func (p *Parser) isWord(w string) bool {
	return p.curr.Kind == lexer.TokenIdent && p.curr.Text == w
}

func (p *Parser) optional(kind lexer.TokenKind) {
	if p.curr.Kind == kind {
		p.next()
	}
}

func (p *Parser) expect(kind lexer.TokenKind) lexer.Token {
	if p.curr.Kind != kind {
		p.err(fmt.Sprintf("%s expected", kind.String()))
		return p.curr
	}
	tok := p.curr
	p.next()
	return tok
}

func (p *Parser) next() {
	p.curr = p.lex.Next()
}

func (p *Parser) err(msg string) {
	p.errAt(p.curr.Pos, msg)
}

func (p *Parser) errAt(pos lexer.Position, msg string) {
	p.errs = append(p.errs, fmt.Errorf("%s:%d:%d: %s", p.path, pos.Line, pos.Col, msg))
}

func (p *Parser) sync() {
	for p.curr.Kind != lexer.TokenEOF {
		switch p.curr.Kind {
		case lexer.TokenSemicolon, lexer.TokenRBrace:
			p.next()
			return
		default:
			p.next()
		}
	}
}

func spanFrom(start lexer.Position, end lexer.Position) ast.Span {
	return ast.Span{Start: ast.Position{Line: start.Line, Col: start.Col}, End: ast.Position{Line: end.Line, Col: end.Col}}
}
