package lang

import (
	"fmt"
	"unicode"
)

// TokenType classifies a token.
type TokenType int

const (
	LParen TokenType = iota
	RParen
	LBracket
	RBracket
	Quote
	Atom
)

func (t TokenType) String() string {
	switch t {
	case LParen:
		return "'('"
	case RParen:
		return "')'"
	case LBracket:
		return "'['"
	case RBracket:
		return "']'"
	case Quote:
		return "quote"
	case Atom:
		return "atom"
	}
	return "unknown"
}

// Token is a lexeme with its line.
type Token struct {
	Value string
	Type  TokenType
	Line  int
}

func isDelimiter(r rune) bool {
	switch r {
	case '(', ')', '[', ']', '\'', ';', '"':
		return true
	}
	return unicode.IsSpace(r) || r == ','
}

// Tokenize splits input into tokens. Commas are whitespace and ';' starts
// a comment running to the end of the line.
func Tokenize(input string) ([]Token, error) {
	var tokens []Token
	line := 1
	runes := []rune(input)

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if r == '\n' {
			line++
			continue
		}
		if unicode.IsSpace(r) || r == ',' {
			continue
		}

		switch r {
		case ';':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			i--
			continue
		case '(':
			tokens = append(tokens, Token{"(", LParen, line})
			continue
		case ')':
			tokens = append(tokens, Token{")", RParen, line})
			continue
		case '[':
			tokens = append(tokens, Token{"[", LBracket, line})
			continue
		case ']':
			tokens = append(tokens, Token{"]", RBracket, line})
			continue
		case '\'':
			tokens = append(tokens, Token{"'", Quote, line})
			continue
		case '"':
			return nil, fmt.Errorf("line %d: strings are not supported", line)
		}

		start := i
		for i < len(runes) && !isDelimiter(runes[i]) {
			i++
		}
		tokens = append(tokens, Token{string(runes[start:i]), Atom, line})
		i--
	}
	return tokens, nil
}
