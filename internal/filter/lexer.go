package filter

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenType represents the type of a lexer token
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenIdent  // field names, function names, bare words
	TokenString // "quoted" or 'quoted' strings
	TokenNumber // 42, -3, 2.5
	TokenDate   // 2024-01-15, -7d, today

	// Operators
	TokenEq          // =
	TokenNeq         // !=
	TokenLt          // <
	TokenGt          // >
	TokenLte         // <=
	TokenGte         // >=
	TokenContains    // ~
	TokenNotContains // !~

	// Boolean operators
	TokenAnd // AND, &&
	TokenOr  // OR, ||
	TokenNot // NOT, !, -

	// Delimiters
	TokenLParen // (
	TokenRParen // )
	TokenComma  // ,
	TokenDot    // .

	// Special values
	TokenAtMe  // @me
	TokenNull  // NULL
	TokenTrue  // true
	TokenFalse // false

	// Sort clause
	TokenSort // sort:field or sort:-field,other
)

var tokenNames = map[TokenType]string{
	TokenEOF:         "EOF",
	TokenError:       "ERROR",
	TokenIdent:       "IDENT",
	TokenString:      "STRING",
	TokenNumber:      "NUMBER",
	TokenDate:        "DATE",
	TokenEq:          "=",
	TokenNeq:         "!=",
	TokenLt:          "<",
	TokenGt:          ">",
	TokenLte:         "<=",
	TokenGte:         ">=",
	TokenContains:    "~",
	TokenNotContains: "!~",
	TokenAnd:         "AND",
	TokenOr:          "OR",
	TokenNot:         "NOT",
	TokenLParen:      "(",
	TokenRParen:      ")",
	TokenComma:       ",",
	TokenDot:         ".",
	TokenAtMe:        "@me",
	TokenNull:        "NULL",
	TokenTrue:        "TRUE",
	TokenFalse:       "FALSE",
	TokenSort:        "SORT",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

var twoCharOps = map[string]TokenType{
	"!=": TokenNeq,
	"!~": TokenNotContains,
	"<=": TokenLte,
	">=": TokenGte,
	"&&": TokenAnd,
	"||": TokenOr,
}

// Token represents a lexer token
type Token struct {
	Type   TokenType
	Value  string
	Pos    int
	Line   int
	Column int
}

func (t Token) String() string {
	if t.Value != "" {
		return fmt.Sprintf("%s(%q)", t.Type, t.Value)
	}
	return t.Type.String()
}

// Lexer tokenizes filter strings
type Lexer struct {
	input  string
	pos    int
	line   int
	column int
}

func NewLexer(input string) *Lexer {
	return &Lexer{input: input, line: 1, column: 1}
}

// Tokenize returns all tokens from the input, ending with TokenEOF.
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token
	for {
		tok := l.nextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
		if tok.Type == TokenError {
			return tokens, fmt.Errorf("lexer error at line %d, column %d: %s", tok.Line, tok.Column, tok.Value)
		}
	}
}

func (l *Lexer) token(typ TokenType, value string, pos, line, col int) Token {
	return Token{Type: typ, Value: value, Pos: pos, Line: line, Column: col}
}

func (l *Lexer) nextToken() Token {
	l.skipWhitespace()

	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.pos, Line: l.line, Column: l.column}
	}

	// Shells often need ! and friends escaped; drop the backslash.
	if l.input[l.pos] == '\\' && l.pos+1 < len(l.input) && strings.IndexByte("!<>=~", l.input[l.pos+1]) >= 0 {
		l.advance()
	}

	pos, line, col := l.pos, l.line, l.column
	ch := l.input[l.pos]

	if l.pos+1 < len(l.input) {
		two := l.input[l.pos : l.pos+2]
		if typ, ok := twoCharOps[two]; ok {
			l.advance()
			l.advance()
			return l.token(typ, two, pos, line, col)
		}
	}

	switch ch {
	case '(':
		l.advance()
		return l.token(TokenLParen, "(", pos, line, col)
	case ')':
		l.advance()
		return l.token(TokenRParen, ")", pos, line, col)
	case ',':
		l.advance()
		return l.token(TokenComma, ",", pos, line, col)
	case '.':
		l.advance()
		return l.token(TokenDot, ".", pos, line, col)
	case '~':
		l.advance()
		return l.token(TokenContains, "~", pos, line, col)
	case '=', ':':
		l.advance()
		return l.token(TokenEq, string(ch), pos, line, col)
	case '<':
		l.advance()
		return l.token(TokenLt, "<", pos, line, col)
	case '>':
		l.advance()
		return l.token(TokenGt, ">", pos, line, col)
	case '!':
		l.advance()
		return l.token(TokenNot, "!", pos, line, col)
	case '"', '\'':
		return l.scanString(ch)
	case '@':
		return l.scanAtValue()
	case '-', '+':
		if l.pos+1 < len(l.input) && isDigit(l.input[l.pos+1]) {
			return l.scanNumberOrDate()
		}
		if ch == '-' {
			l.advance()
			return l.token(TokenNot, "-", pos, line, col)
		}
	}

	if isDigit(ch) {
		return l.scanNumberOrDate()
	}
	if isIdentStart(ch) {
		return l.scanIdentOrKeyword()
	}

	l.advance()
	return l.token(TokenError, fmt.Sprintf("unexpected character: %q", ch), pos, line, col)
}

func (l *Lexer) advance() {
	if l.pos < len(l.input) {
		if l.input[l.pos] == '\n' {
			l.line++
			l.column = 1
		} else {
			l.column++
		}
		l.pos++
	}
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.advance()
	}
}

func (l *Lexer) scanString(quote byte) Token {
	pos, line, col := l.pos, l.line, l.column
	l.advance() // opening quote

	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == quote {
			l.advance()
			return l.token(TokenString, sb.String(), pos, line, col)
		}
		if ch == '\\' && l.pos+1 < len(l.input) {
			l.advance()
			switch l.input[l.pos] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			default:
				sb.WriteByte(l.input[l.pos])
			}
			l.advance()
			continue
		}
		sb.WriteByte(ch)
		l.advance()
	}
	return l.token(TokenError, "unterminated string", pos, line, col)
}

func (l *Lexer) scanAtValue() Token {
	pos, line, col := l.pos, l.line, l.column
	l.advance() // @

	start := l.pos
	for l.pos < len(l.input) && isIdentChar(l.input[l.pos]) {
		l.advance()
	}
	value := "@" + l.input[start:l.pos]
	if value == "@me" {
		return l.token(TokenAtMe, value, pos, line, col)
	}
	return l.token(TokenError, fmt.Sprintf("unknown special value: %s", value), pos, line, col)
}

// scanNumberOrDate reads a signed number, an ISO date (2024-01-15) or a
// relative offset (-7d, +2w, -3h).
func (l *Lexer) scanNumberOrDate() Token {
	pos, line, col := l.pos, l.line, l.column
	start := l.pos
	signed := l.input[l.pos] == '-' || l.input[l.pos] == '+'
	if signed {
		l.advance()
	}
	for l.pos < len(l.input) && (isDigit(l.input[l.pos]) || l.input[l.pos] == '-' || l.input[l.pos] == '.') {
		l.advance()
	}
	value := l.input[start:l.pos]

	if !signed && len(value) == 10 && value[4] == '-' && value[7] == '-' {
		return l.token(TokenDate, value, pos, line, col)
	}

	if l.pos < len(l.input) && strings.IndexByte("hdwm", l.input[l.pos]) >= 0 &&
		(l.pos+1 >= len(l.input) || !isIdentChar(l.input[l.pos+1])) {
		l.advance()
		if !signed {
			return l.token(TokenError, fmt.Sprintf("relative date %s needs a + or - sign", l.input[start:l.pos]), pos, line, col)
		}
		return l.token(TokenDate, l.input[start:l.pos], pos, line, col)
	}
	if value[0] == '+' {
		return l.token(TokenError, fmt.Sprintf("invalid relative date: %s (expected h, d, w, or m suffix)", value), pos, line, col)
	}
	return l.token(TokenNumber, value, pos, line, col)
}

func (l *Lexer) scanIdentOrKeyword() Token {
	pos, line, col := l.pos, l.line, l.column
	start := l.pos
	for l.pos < len(l.input) && isIdentChar(l.input[l.pos]) {
		l.advance()
	}
	value := l.input[start:l.pos]

	if strings.EqualFold(value, "sort") && l.pos < len(l.input) && l.input[l.pos] == ':' {
		return l.scanSortClause(pos, line, col)
	}

	switch strings.ToUpper(value) {
	case "AND":
		return l.token(TokenAnd, value, pos, line, col)
	case "OR":
		return l.token(TokenOr, value, pos, line, col)
	case "NOT":
		return l.token(TokenNot, value, pos, line, col)
	case "NULL":
		return l.token(TokenNull, value, pos, line, col)
	case "TRUE":
		return l.token(TokenTrue, value, pos, line, col)
	case "FALSE":
		return l.token(TokenFalse, value, pos, line, col)
	}

	switch lower := strings.ToLower(value); lower {
	case "now", "today", "yesterday", "tomorrow", "this_week", "last_week", "this_month", "last_month":
		return l.token(TokenDate, lower, pos, line, col)
	}

	return l.token(TokenIdent, value, pos, line, col)
}

// scanSortClause parses sort:field, sort:-field and comma-separated lists
// like sort:-score,name. The token value keeps the raw key list.
func (l *Lexer) scanSortClause(pos, line, col int) Token {
	l.advance() // ':'

	start := l.pos
	for {
		if l.pos < len(l.input) && l.input[l.pos] == '-' {
			l.advance()
		}
		if l.pos >= len(l.input) || !isIdentStart(l.input[l.pos]) {
			return l.token(TokenError, "sort: requires a field name", pos, line, col)
		}
		for l.pos < len(l.input) && (isIdentChar(l.input[l.pos]) || l.input[l.pos] == '.') {
			l.advance()
		}
		if l.pos < len(l.input) && l.input[l.pos] == ',' {
			l.advance()
			continue
		}
		break
	}
	return l.token(TokenSort, l.input[start:l.pos], pos, line, col)
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isIdentChar(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch) || ch == '-'
}
