// Package filter implements a small filter language for record queries and
// compiles it onto remote.Query.
//
//	score >= 10 AND (status = "open" OR owner = @me) sort:-updated
package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxDepth limits nesting to prevent stack overflow
const MaxDepth = 50

// Parser parses filter strings into an AST
type Parser struct {
	tokens []Token
	pos    int
	depth  int
}

// ParseError represents a parsing error with position information
type ParseError struct {
	Message  string
	Line     int
	Column   int
	Token    Token
	Expected string
}

func (e *ParseError) Error() string {
	if e.Expected != "" {
		return fmt.Sprintf("parse error at line %d, column %d: %s (expected %s, got %s)",
			e.Line, e.Column, e.Message, e.Expected, e.Token.String())
	}
	return fmt.Sprintf("parse error at line %d, column %d: %s", e.Line, e.Column, e.Message)
}

func errorAt(tok Token, msg, expected string) *ParseError {
	return &ParseError{Message: msg, Line: tok.Line, Column: tok.Column, Token: tok, Expected: expected}
}

// Parse parses a filter string. An empty string yields a filter that
// matches everything.
func Parse(input string) (*Filter, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return &Filter{Raw: input}, nil
	}

	tokens, err := NewLexer(input).Tokenize()
	if err != nil {
		return nil, err
	}

	var sortKeys []SortKey
	var sawSort bool
	filtered := tokens[:0:0]
	for _, tok := range tokens {
		if tok.Type != TokenSort {
			filtered = append(filtered, tok)
			continue
		}
		if sawSort {
			return nil, errorAt(tok, "multiple sort clauses not allowed", "")
		}
		sawSort = true
		sortKeys = parseSortKeys(tok.Value)
	}

	p := &Parser{tokens: filtered}
	f := &Filter{Raw: input, Sort: sortKeys}
	if p.isAtEnd() {
		return f, nil
	}

	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.isAtEnd() {
		return nil, errorAt(p.current(), "unexpected token after expression", "")
	}
	f.Root = root

	if errs := validateNode(root); len(errs) > 0 {
		return nil, errs[0]
	}
	return f, nil
}

func parseSortKeys(value string) []SortKey {
	var keys []SortKey
	for _, part := range strings.Split(value, ",") {
		k := SortKey{Field: part}
		if strings.HasPrefix(part, "-") {
			k = SortKey{Field: part[1:], Descending: true}
		}
		k.Field = resolveField(k.Field)
		keys = append(keys, k)
	}
	return keys
}

// parseOr handles OR expressions (lowest precedence)
func (p *Parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.match(TokenOr) {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

// parseAnd handles explicit AND and implicit AND (juxtaposition)
func (p *Parser) parseAnd() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		if !p.match(TokenAnd) && !p.isExpressionStart() {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpAnd, Left: left, Right: right}
	}
}

func (p *Parser) parseUnary() (Node, error) {
	if p.match(TokenNot) {
		expr, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: OpNot, Expr: expr}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Node, error) {
	if p.match(TokenLParen) {
		p.depth++
		if p.depth > MaxDepth {
			return nil, errorAt(p.current(), fmt.Sprintf("filter exceeds maximum nesting depth of %d", MaxDepth), "")
		}
		expr, err := p.parseOr()
		p.depth--
		if err != nil {
			return nil, err
		}
		if !p.match(TokenRParen) {
			return nil, errorAt(p.current(), "missing closing parenthesis", ")")
		}
		return expr, nil
	}

	if p.check(TokenIdent) {
		return p.parseIdentExpr()
	}
	return nil, errorAt(p.current(), "unexpected token", "field or function")
}

func (p *Parser) parseFieldName(first string) (string, error) {
	field := first
	for p.match(TokenDot) {
		if !p.check(TokenIdent) {
			return "", errorAt(p.current(), "expected field name after '.'", "identifier")
		}
		field += "." + p.advance().Value
	}
	return field, nil
}

func (p *Parser) parseIdentExpr() (Node, error) {
	name := p.advance().Value
	if p.check(TokenLParen) {
		return p.parseFunctionCall(name)
	}

	field, err := p.parseFieldName(name)
	if err != nil {
		return nil, err
	}
	op, ok := p.parseOperator()
	if !ok {
		return nil, errorAt(p.current(), fmt.Sprintf("missing operator after %s", field), "operator")
	}
	value, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	return &FieldExpr{Field: resolveField(field), Operator: op, Value: value}, nil
}

func (p *Parser) parseFunctionCall(name string) (Node, error) {
	p.advance() // '('

	var args []any
	if !p.match(TokenRParen) {
		for {
			arg, err := p.parseFunctionArg(len(args) == 0)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if !p.match(TokenComma) {
				break
			}
		}
		if !p.match(TokenRParen) {
			return nil, errorAt(p.current(), "missing closing parenthesis in function call", ")")
		}
	}
	return &FunctionCall{Name: strings.ToLower(name), Args: args}, nil
}

// parseFunctionArg reads a field reference for the first argument and a
// value for the rest.
func (p *Parser) parseFunctionArg(first bool) (any, error) {
	if first {
		tok := p.current()
		if !p.check(TokenIdent) {
			return nil, errorAt(tok, "function arguments start with a field name", "identifier")
		}
		p.advance()
		field, err := p.parseFieldName(tok.Value)
		if err != nil {
			return nil, err
		}
		return FieldRef(resolveField(field)), nil
	}
	return p.parseValue()
}

var operators = map[TokenType]string{
	TokenEq:          OpEq,
	TokenNeq:         OpNeq,
	TokenLt:          OpLt,
	TokenGt:          OpGt,
	TokenLte:         OpLte,
	TokenGte:         OpGte,
	TokenContains:    OpContains,
	TokenNotContains: OpNotContains,
}

func (p *Parser) parseOperator() (string, bool) {
	op, ok := operators[p.current().Type]
	if ok {
		p.advance()
	}
	return op, ok
}

func (p *Parser) parseValue() (any, error) {
	tok := p.current()
	switch tok.Type {
	case TokenIdent, TokenString:
		p.advance()
		return tok.Value, nil
	case TokenNumber:
		p.advance()
		return parseNumber(tok)
	case TokenDate:
		p.advance()
		return &DateValue{Raw: tok.Value}, nil
	case TokenAtMe:
		p.advance()
		return &SpecialValue{Type: "me"}, nil
	case TokenNull:
		p.advance()
		return nil, nil
	case TokenTrue:
		p.advance()
		return true, nil
	case TokenFalse:
		p.advance()
		return false, nil
	}
	return nil, errorAt(tok, "expected value", "string, number, date, boolean, NULL or @me")
}

func parseNumber(tok Token) (any, error) {
	if n, err := strconv.ParseInt(tok.Value, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(tok.Value, 64)
	if err != nil {
		return nil, errorAt(tok, fmt.Sprintf("invalid number: %s", tok.Value), "number")
	}
	return f, nil
}

// Helper methods

func (p *Parser) current() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) advance() Token {
	tok := p.current()
	if !p.isAtEnd() {
		p.pos++
	}
	return tok
}

func (p *Parser) check(typ TokenType) bool {
	return p.current().Type == typ
}

func (p *Parser) match(typ TokenType) bool {
	if p.check(typ) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) isAtEnd() bool {
	return p.current().Type == TokenEOF
}

// isExpressionStart reports whether the current token can begin a new
// expression, for implicit AND.
func (p *Parser) isExpressionStart() bool {
	switch p.current().Type {
	case TokenIdent, TokenLParen, TokenNot:
		return true
	}
	return false
}

func validateNode(n Node) []error {
	var errs []error
	var walk func(Node)
	walk = func(n Node) {
		switch node := n.(type) {
		case *BinaryExpr:
			walk(node.Left)
			walk(node.Right)
		case *UnaryExpr:
			walk(node.Expr)
		case *FieldExpr:
			if _, ok := node.Value.(*SpecialValue); ok && node.Operator != OpEq && node.Operator != OpNeq {
				errs = append(errs, fmt.Errorf("@me only supports = and != (field %s)", node.Field))
			}
			if node.Value == nil && node.Operator != OpEq && node.Operator != OpNeq {
				errs = append(errs, fmt.Errorf("NULL only supports = and != (field %s)", node.Field))
			}
			if node.Operator == OpContains || node.Operator == OpNotContains {
				if _, ok := node.Value.(string); !ok {
					errs = append(errs, fmt.Errorf("%s needs a string value (field %s)", node.Operator, node.Field))
				}
			}
		case *FunctionCall:
			errs = append(errs, validateFunctionCall(node)...)
		}
	}
	walk(n)
	return errs
}

func validateFunctionCall(fn *FunctionCall) []error {
	spec, ok := KnownFunctions[fn.Name]
	if !ok {
		return []error{fmt.Errorf("unknown function: %s", fn.Name)}
	}
	var errs []error
	argc := len(fn.Args)
	if argc < spec.MinArgs {
		errs = append(errs, fmt.Errorf("function %s requires at least %d argument(s), got %d", fn.Name, spec.MinArgs, argc))
	}
	if spec.MaxArgs > 0 && argc > spec.MaxArgs {
		errs = append(errs, fmt.Errorf("function %s accepts at most %d argument(s), got %d", fn.Name, spec.MaxArgs, argc))
	}
	if fn.Name == "starts" || fn.Name == "ends" {
		if argc == 2 {
			if _, ok := fn.Args[1].(string); !ok {
				errs = append(errs, fmt.Errorf("function %s needs a string argument", fn.Name))
			}
		}
	}
	return errs
}
