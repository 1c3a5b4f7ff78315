package formula

import (
	"fmt"
	"strconv"
)

var binaryPrecedence = map[string]int{
	"||": 1,
	"&&": 2,
	"==": 3, "!=": 3,
	"<": 4, "<=": 4, ">": 4, ">=": 4,
	"+": 5, "-": 5,
	"*": 6, "/": 6, "%": 6,
}

const unaryPrecedence = 7

type parser struct {
	tokens []token
	pos    int
	refs   []string
	seen   map[string]bool
}

// parse builds the AST with precedence climbing.
func parse(tokens []token) (node, []string, error) {
	p := &parser{tokens: tokens, seen: make(map[string]bool)}
	root, err := p.expression(0)
	if err != nil {
		return nil, nil, err
	}
	if tok := p.peek(); tok.kind != tokenEOF {
		return nil, nil, fmt.Errorf("unexpected %s", tok)
	}
	return root, p.refs, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expression(minPrecedence int) (node, error) {
	left, err := p.prefix()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokenOperator {
			return left, nil
		}
		precedence, ok := binaryPrecedence[tok.text]
		if !ok || precedence <= minPrecedence {
			return left, nil
		}
		p.next()
		right, err := p.expression(precedence)
		if err != nil {
			return nil, err
		}
		left = &binary{op: tok.text, left: left, right: right}
	}
}

func (p *parser) prefix() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokenNumber:
		value, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %s", tok)
		}
		return &literal{value: value}, nil
	case tokenString:
		return &literal{value: tok.text}, nil
	case tokenRef:
		if !p.seen[tok.text] {
			p.seen[tok.text] = true
			p.refs = append(p.refs, tok.text)
		}
		return &reference{id: tok.text}, nil
	case tokenOperator:
		if tok.text != "-" && tok.text != "!" && tok.text != "+" {
			return nil, fmt.Errorf("unexpected %s", tok)
		}
		operand, err := p.expression(unaryPrecedence)
		if err != nil {
			return nil, err
		}
		if tok.text == "+" {
			return &unary{op: "number", operand: operand}, nil
		}
		return &unary{op: tok.text, operand: operand}, nil
	case tokenLParen:
		inner, err := p.expression(0)
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokenRParen {
			return nil, fmt.Errorf("expected ')' but found %s", closing)
		}
		return inner, nil
	case tokenIdent:
		return p.identifier(tok)
	}
	return nil, fmt.Errorf("unexpected %s", tok)
}

func (p *parser) identifier(tok token) (node, error) {
	switch tok.text {
	case "true":
		return &literal{value: true}, nil
	case "false":
		return &literal{value: false}, nil
	case "null":
		return &literal{value: nil}, nil
	}

	fn, ok := builtins[tok.text]
	if !ok {
		return nil, fmt.Errorf("unknown identifier %s", tok)
	}
	if open := p.next(); open.kind != tokenLParen {
		return nil, fmt.Errorf("expected '(' after %s", tok)
	}

	var args []node
	if p.peek().kind == tokenRParen {
		p.next()
	} else {
		for {
			arg, err := p.expression(0)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			sep := p.next()
			if sep.kind == tokenRParen {
				break
			}
			if sep.kind != tokenComma {
				return nil, fmt.Errorf("expected ',' or ')' but found %s", sep)
			}
		}
	}

	if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
		return nil, fmt.Errorf("%s expects %s, got %d", tok.text, fn.arity(), len(args))
	}
	return &call{name: tok.text, fn: fn, args: args}, nil
}
