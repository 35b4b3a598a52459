// Package filter implements the display/statistics filter language: a
// small boolean expression grammar over packet header fields, compiled
// once into an immutable AST and evaluated repeatedly against live
// packets. Relative time literals are resolved against the "now" passed
// to Eval, so a compiled filter tracks a moving window without being
// re-parsed.
package filter

import (
	"net"
	"time"

	"PacketScope/internal/model"
)

// Field enumerates the packet fields the grammar can compare. The set is
// closed: parsing resolves a field name to one of these tags exactly once,
// and evaluation dispatches on the tag instead of looking names up per
// packet.
type Field uint8

const (
	FieldSrcIP Field = iota
	FieldDstIP
	FieldProtocol
	FieldSrcPort
	FieldDstPort
	FieldLength
	FieldTime
)

// Op is a comparison operator. Address and protocol fields admit only
// OpEq and OpNe; numeric and time fields admit all six.
type Op uint8

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

// Expr is one node of a compiled filter. Implementations are immutable
// after Parse returns.
type Expr interface {
	// Eval reports whether the packet matches. now anchors relative time
	// literals; a comparison against a field the packet does not carry is
	// false, never an error.
	Eval(p *model.Packet, now time.Time) bool
}

// And matches when both operands match. Evaluation short-circuits left to
// right.
type And struct {
	Left, Right Expr
}

func (e *And) Eval(p *model.Packet, now time.Time) bool {
	return e.Left.Eval(p, now) && e.Right.Eval(p, now)
}

// Or matches when either operand matches. Evaluation short-circuits left
// to right.
type Or struct {
	Left, Right Expr
}

func (e *Or) Eval(p *model.Packet, now time.Time) bool {
	return e.Left.Eval(p, now) || e.Right.Eval(p, now)
}

// Not negates its operand.
type Not struct {
	X Expr
}

func (e *Not) Eval(p *model.Packet, now time.Time) bool {
	return !e.X.Eval(p, now)
}

// Compare is a leaf comparison of one field against one literal. Exactly
// one literal slot is populated, decided at parse time together with the
// operator/field type check, so Eval cannot hit a type error.
type Compare struct {
	Field Field
	Op    Op

	ipNet    *net.IPNet    // address fields; /32 for a plain address
	num      uint64        // protocol, ports, length
	absTime  time.Time     // absolute time literal
	relTime  time.Duration // relative time literal, resolved against now
	relative bool
}

func (e *Compare) Eval(p *model.Packet, now time.Time) bool {
	switch e.Field {
	case FieldSrcIP:
		return e.evalAddr(p.SrcIP)
	case FieldDstIP:
		return e.evalAddr(p.DstIP)
	case FieldProtocol:
		return compareUint(uint64(p.Protocol), e.num, e.Op)
	case FieldSrcPort:
		src, _, ok := transportPorts(p)
		return ok && compareUint(uint64(src), e.num, e.Op)
	case FieldDstPort:
		_, dst, ok := transportPorts(p)
		return ok && compareUint(uint64(dst), e.num, e.Op)
	case FieldLength:
		return compareUint(uint64(p.Length), e.num, e.Op)
	case FieldTime:
		ref := e.absTime
		if e.relative {
			ref = now.Add(e.relTime)
		}
		return compareTime(p.Timestamp, ref, e.Op)
	default:
		return false
	}
}

func (e *Compare) evalAddr(ip net.IP) bool {
	in := e.ipNet.Contains(ip)
	if e.Op == OpNe {
		return !in
	}
	return in
}

// transportPorts returns the packet's ports, with ok false when the
// packet has no port-bearing transport record (ICMP or undecoded).
func transportPorts(p *model.Packet) (src, dst uint16, ok bool) {
	t := p.Transport
	if t == nil || t.Kind == model.TransportICMP {
		return 0, 0, false
	}
	return t.SrcPort, t.DstPort, true
}

func compareUint(a, b uint64, op Op) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	default:
		return a >= b
	}
}

func compareTime(a, b time.Time, op Op) bool {
	switch op {
	case OpEq:
		return a.Equal(b)
	case OpNe:
		return !a.Equal(b)
	case OpLt:
		return a.Before(b)
	case OpLe:
		return !a.After(b)
	case OpGt:
		return a.After(b)
	default:
		return !a.Before(b)
	}
}
