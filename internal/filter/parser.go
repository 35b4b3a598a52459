package filter

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ParseError reports a filter compilation failure: the byte offset into
// the source text and a description of what the parser expected there.
type ParseError struct {
	Offset   int
	Expected string
	Got      string
}

func (e *ParseError) Error() string {
	got := e.Got
	if got == "" {
		got = "end of input"
	} else {
		got = strconv.Quote(got)
	}
	return fmt.Sprintf("filter error at offset %d: expected %s, got %s", e.Offset, e.Expected, got)
}

// Parse compiles a filter expression. Field names and keywords are
// case-insensitive; `and` binds tighter than `or`; unknown fields and
// operators incompatible with a field's type are rejected here so a
// compiled filter can never fail during evaluation.
func Parse(text string) (Expr, error) {
	toks, err := lex(text)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, &ParseError{Offset: tok.off, Expected: "'and', 'or' or end of expression", Got: tok.text}
	}
	return expr, nil
}

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokWord
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	off  int
}

func isWordChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_' || c == '.' || c == '/' || c == ':':
		return true
	}
	return false
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == '=':
			toks = append(toks, token{tokOp, "=", i})
			i++
		case c == '!':
			if i+1 >= len(src) || src[i+1] != '=' {
				return nil, &ParseError{Offset: i, Expected: "'!=' operator", Got: string(c)}
			}
			toks = append(toks, token{tokOp, "!=", i})
			i += 2
		case c == '<' || c == '>':
			op := string(c)
			if i+1 < len(src) && src[i+1] == '=' {
				op += "="
				i++
			}
			toks = append(toks, token{tokOp, op, i - len(op) + 1})
			i++
		case isWordChar(c):
			start := i
			for i < len(src) && isWordChar(src[i]) {
				i++
			}
			toks = append(toks, token{tokWord, src[start:i], start})
		default:
			return nil, &ParseError{Offset: i, Expected: "a field name, operator or parenthesis", Got: string(c)}
		}
	}
	toks = append(toks, token{tokEOF, "", len(src)})
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokWord || !strings.EqualFold(tok.text, "or") {
			return left, nil
		}
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Or{Left: left, Right: right}
	}
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokWord || !strings.EqualFold(tok.text, "and") {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &And{Left: left, Right: right}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	tok := p.peek()
	switch {
	case tok.kind == tokWord && strings.EqualFold(tok.text, "not"):
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Not{X: x}, nil
	case tok.kind == tokLParen:
		p.next()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, &ParseError{Offset: closing.off, Expected: "')'", Got: closing.text}
		}
		return expr, nil
	case tok.kind == tokWord:
		return p.parseCompare()
	default:
		return nil, &ParseError{Offset: tok.off, Expected: "a comparison, 'not' or '('", Got: tok.text}
	}
}

var fieldNames = map[string]Field{
	"src-ip":   FieldSrcIP,
	"dst-ip":   FieldDstIP,
	"protocol": FieldProtocol,
	"src-port": FieldSrcPort,
	"dst-port": FieldDstPort,
	"length":   FieldLength,
	"time":     FieldTime,
}

var protocolNames = map[string]uint64{
	"icmp": 1,
	"tcp":  6,
	"udp":  17,
}

func (p *parser) parseCompare() (Expr, error) {
	fieldTok := p.next()
	field, ok := fieldNames[strings.ToLower(fieldTok.text)]
	if !ok {
		return nil, &ParseError{
			Offset:   fieldTok.off,
			Expected: "a field name (src-ip, dst-ip, protocol, src-port, dst-port, length, time)",
			Got:      fieldTok.text,
		}
	}

	opTok := p.next()
	if opTok.kind != tokOp {
		return nil, &ParseError{Offset: opTok.off, Expected: "a comparison operator", Got: opTok.text}
	}
	op := opFromText(opTok.text)

	equalityOnly := field == FieldSrcIP || field == FieldDstIP || field == FieldProtocol
	if equalityOnly && op != OpEq && op != OpNe {
		return nil, &ParseError{
			Offset:   opTok.off,
			Expected: fmt.Sprintf("'=' or '!=' for field %q", strings.ToLower(fieldTok.text)),
			Got:      opTok.text,
		}
	}

	litTok := p.next()
	if litTok.kind != tokWord {
		return nil, &ParseError{Offset: litTok.off, Expected: "a literal value", Got: litTok.text}
	}

	cmp := &Compare{Field: field, Op: op}
	switch field {
	case FieldSrcIP, FieldDstIP:
		ipNet, err := parseAddrLiteral(litTok.text)
		if err != nil {
			return nil, &ParseError{Offset: litTok.off, Expected: "an IPv4 address or CIDR range", Got: litTok.text}
		}
		cmp.ipNet = ipNet
	case FieldProtocol:
		if num, ok := protocolNames[strings.ToLower(litTok.text)]; ok {
			cmp.num = num
			break
		}
		num, err := strconv.ParseUint(litTok.text, 10, 8)
		if err != nil {
			return nil, &ParseError{Offset: litTok.off, Expected: "a protocol name (tcp, udp, icmp) or number", Got: litTok.text}
		}
		cmp.num = num
	case FieldSrcPort, FieldDstPort:
		num, err := strconv.ParseUint(litTok.text, 10, 16)
		if err != nil {
			return nil, &ParseError{Offset: litTok.off, Expected: "a port number (0-65535)", Got: litTok.text}
		}
		cmp.num = num
	case FieldLength:
		num, err := strconv.ParseUint(litTok.text, 10, 16)
		if err != nil {
			return nil, &ParseError{Offset: litTok.off, Expected: "a length in bytes (0-65535)", Got: litTok.text}
		}
		cmp.num = num
	case FieldTime:
		if err := parseTimeLiteral(litTok.text, cmp); err != nil {
			return nil, &ParseError{
				Offset:   litTok.off,
				Expected: "a timestamp (2006-01-02 or 2006-01-02T15:04:05) or relative duration (-5m, 1h30m)",
				Got:      litTok.text,
			}
		}
	}
	return cmp, nil
}

func opFromText(text string) Op {
	switch text {
	case "=":
		return OpEq
	case "!=":
		return OpNe
	case "<":
		return OpLt
	case "<=":
		return OpLe
	case ">":
		return OpGt
	default:
		return OpGe
	}
}

func parseAddrLiteral(text string) (*net.IPNet, error) {
	if strings.Contains(text, "/") {
		ip, ipNet, err := net.ParseCIDR(text)
		if err != nil {
			return nil, err
		}
		if ip.To4() == nil {
			return nil, fmt.Errorf("not an IPv4 network: %s", text)
		}
		return ipNet, nil
	}
	ip := net.ParseIP(text)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("not an IPv4 address: %s", text)
	}
	return &net.IPNet{IP: ip.To4(), Mask: net.CIDRMask(32, 32)}, nil
}

// parseTimeLiteral fills in cmp's time slot. Absolute literals look like a
// date (a leading digit and at least two dashes) and are interpreted in
// local time, matching how capture timestamps are displayed; anything else
// must be a Go duration, stored unresolved so Eval can anchor it at its
// own "now".
func parseTimeLiteral(text string, cmp *Compare) error {
	if text != "" && text[0] >= '0' && text[0] <= '9' && strings.Count(text, "-") >= 2 {
		for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02"} {
			if ts, err := time.ParseInLocation(layout, text, time.Local); err == nil {
				cmp.absTime = ts
				return nil
			}
		}
		return fmt.Errorf("bad timestamp: %s", text)
	}
	d, err := time.ParseDuration(text)
	if err != nil {
		return err
	}
	cmp.relTime = d
	cmp.relative = true
	return nil
}
