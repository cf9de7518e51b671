package command

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"lotus-md/internal/domain"
)

const (
	maxExprLen   = 256
	maxExprDepth = 64
)

var (
	errDivByZero     = errors.New("division by zero")
	errInvalidResult = errors.New("invalid result")
)

func (d *Deps) calculator(ctx context.Context, client domain.Client, msg domain.InboundMessage, cc domain.CommandContext) error {
	expr := strings.TrimSpace(cc.Rest)
	if expr == "" {
		_, err := reply(ctx, client, msg, fmt.Sprintf(
			"Please provide a mathematical expression to calculate.\n\nExamples:\n%[1]scalc 2+2\n%[1]scalc 5*9-3\n%[1]scalc (4 + 6) ^ 2 / 5\n%[1]scalc sqrt(81) x 3",
			cc.Prefix))
		return err
	}

	v, err := Evaluate(expr)
	if err != nil {
		_, sendErr := reply(ctx, client, msg, "❌ Error: "+err.Error())
		return sendErr
	}

	_, err = reply(ctx, client, msg, fmt.Sprintf("🧮 *Calculator*\n\n*Expression:* %s\n*Result:* %s", expr, FormatNumber(v)))
	return err
}

// Evaluate computes an arithmetic expression. It supports + - * / % ^,
// parentheses, unary signs, x × ÷ as operator aliases, the constants pi and
// e, and the functions sqrt abs ln log sin cos tan (degrees).
func Evaluate(expr string) (float64, error) {
	if len(expr) > maxExprLen {
		return 0, fmt.Errorf("expression longer than %d characters", maxExprLen)
	}
	toks, err := tokenize(expr)
	if err != nil {
		return 0, err
	}
	p := &exprParser{toks: toks}
	v, err := p.expr(0)
	if err != nil {
		return 0, err
	}
	if p.pos < len(p.toks) {
		return 0, fmt.Errorf("unexpected %q", p.toks[p.pos].text)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errInvalidResult
	}
	return v, nil
}

// FormatNumber prints integers without a fraction and everything else with
// ten significant digits, trailing zeros removed.
func FormatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	s := strconv.FormatFloat(v, 'g', 10, 64)
	if strings.ContainsAny(s, "e") {
		return s
	}
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}

type tokKind int

const (
	tokNum tokKind = iota
	tokOp
	tokIdent
)

type token struct {
	kind tokKind
	text string
	num  float64
}

func tokenize(s string) ([]token, error) {
	var toks []token
	rs := []rune(strings.ToLower(s))
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r) || r == '.':
			j := i
			for j < len(rs) && (unicode.IsDigit(rs[j]) || rs[j] == '.') {
				j++
			}
			n, err := strconv.ParseFloat(string(rs[i:j]), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q", string(rs[i:j]))
			}
			toks = append(toks, token{kind: tokNum, text: string(rs[i:j]), num: n})
			i = j
		case unicode.IsLetter(r):
			j := i
			for j < len(rs) && unicode.IsLetter(rs[j]) {
				j++
			}
			word := string(rs[i:j])
			if word == "x" {
				toks = append(toks, token{kind: tokOp, text: "*"})
			} else {
				toks = append(toks, token{kind: tokIdent, text: word})
			}
			i = j
		case strings.ContainsRune("+-*/%^()", r):
			toks = append(toks, token{kind: tokOp, text: string(r)})
			i++
		case r == '×':
			toks = append(toks, token{kind: tokOp, text: "*"})
			i++
		case r == '÷':
			toks = append(toks, token{kind: tokOp, text: "/"})
			i++
		default:
			return nil, fmt.Errorf("invalid character %q", r)
		}
	}
	if len(toks) == 0 {
		return nil, errors.New("empty expression")
	}
	return toks, nil
}

type exprParser struct {
	toks []token
	pos  int
}

func (p *exprParser) peekOp(ops string) (string, bool) {
	if p.pos >= len(p.toks) {
		return "", false
	}
	t := p.toks[p.pos]
	if t.kind == tokOp && strings.Contains(ops, t.text) {
		return t.text, true
	}
	return "", false
}

// expr := term (('+' | '-') term)*
func (p *exprParser) expr(depth int) (float64, error) {
	if depth > maxExprDepth {
		return 0, errors.New("expression nested too deeply")
	}
	v, err := p.term(depth)
	if err != nil {
		return 0, err
	}
	for {
		op, ok := p.peekOp("+-")
		if !ok {
			return v, nil
		}
		p.pos++
		r, err := p.term(depth)
		if err != nil {
			return 0, err
		}
		if op == "+" {
			v += r
		} else {
			v -= r
		}
	}
}

// term := unary (('*' | '/' | '%') unary)*
func (p *exprParser) term(depth int) (float64, error) {
	v, err := p.unary(depth)
	if err != nil {
		return 0, err
	}
	for {
		op, ok := p.peekOp("*/%")
		if !ok {
			return v, nil
		}
		p.pos++
		r, err := p.unary(depth)
		if err != nil {
			return 0, err
		}
		switch op {
		case "*":
			v *= r
		case "/":
			if r == 0 {
				return 0, errDivByZero
			}
			v /= r
		case "%":
			if r == 0 {
				return 0, errDivByZero
			}
			v = math.Mod(v, r)
		}
	}
}

// unary := ('+' | '-') unary | power
func (p *exprParser) unary(depth int) (float64, error) {
	if op, ok := p.peekOp("+-"); ok {
		p.pos++
		v, err := p.unary(depth + 1)
		if op == "-" {
			v = -v
		}
		return v, err
	}
	return p.power(depth)
}

// power := primary ('^' unary)?, right associative.
func (p *exprParser) power(depth int) (float64, error) {
	base, err := p.primary(depth)
	if err != nil {
		return 0, err
	}
	if _, ok := p.peekOp("^"); !ok {
		return base, nil
	}
	p.pos++
	exp, err := p.unary(depth + 1)
	if err != nil {
		return 0, err
	}
	return math.Pow(base, exp), nil
}

func (p *exprParser) primary(depth int) (float64, error) {
	if p.pos >= len(p.toks) {
		return 0, errors.New("unexpected end of expression")
	}
	t := p.toks[p.pos]
	p.pos++

	switch t.kind {
	case tokNum:
		return t.num, nil
	case tokIdent:
		switch t.text {
		case "pi":
			return math.Pi, nil
		case "e":
			return math.E, nil
		}
		fn, ok := calcFuncs[t.text]
		if !ok {
			return 0, fmt.Errorf("unknown function %q", t.text)
		}
		if _, ok := p.peekOp("("); !ok {
			return 0, fmt.Errorf("%s needs parentheses", t.text)
		}
		arg, err := p.primary(depth)
		if err != nil {
			return 0, err
		}
		return fn(arg), nil
	}

	if t.text != "(" {
		return 0, fmt.Errorf("unexpected %q", t.text)
	}
	v, err := p.expr(depth + 1)
	if err != nil {
		return 0, err
	}
	if _, ok := p.peekOp(")"); !ok {
		return 0, errors.New("missing closing parenthesis")
	}
	p.pos++
	return v, nil
}

var calcFuncs = map[string]func(float64) float64{
	"sqrt": math.Sqrt,
	"abs":  math.Abs,
	"ln":   math.Log,
	"log":  math.Log10,
	"sin":  func(x float64) float64 { return math.Sin(x * math.Pi / 180) },
	"cos":  func(x float64) float64 { return math.Cos(x * math.Pi / 180) },
	"tan":  func(x float64) float64 { return math.Tan(x * math.Pi / 180) },
}
