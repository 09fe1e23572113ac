package selector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// compiled is the parsed form of an extended selector: a standard CSS base
// plus the pseudo extensions authored selectors rely on. textOnly marks a
// plain-text label matched by content instead of CSS.
type compiled struct {
	base      string
	contains  string
	hasSel    string
	nth       int
	textOnly  bool
	malformed bool
}

// String renders the compiled form back into selector syntax. Query reports
// this as the effective selector when a relaxed form matched.
func (c compiled) String() string {
	if c.textOnly {
		return c.contains
	}
	var b strings.Builder
	b.WriteString(c.base)
	if c.hasSel != "" {
		fmt.Fprintf(&b, ":has(%s)", c.hasSel)
	}
	if c.contains != "" {
		fmt.Fprintf(&b, ":contains(%q)", c.contains)
	}
	if c.nth > 0 {
		fmt.Fprintf(&b, ":nth-match(%d)", c.nth)
	}
	return b.String()
}

// parseExtended splits a selector into its CSS base and the extended
// pseudo clauses (:contains, :has, :nth-match). The :has argument is kept
// verbatim and must be standard CSS; extended pseudos do not nest.
// Malformed extensions are dropped rather than rejected; the malformed
// flag makes Query report the result as a fallback.
func parseExtended(sel string) compiled {
	sel = strings.TrimSpace(sel)
	if IsPlainText(sel) {
		return compiled{textOnly: true, contains: sel}
	}
	var c compiled
	base, exts := splitExtensions(sel)
	c.base = strings.Join(strings.Fields(base), " ")
	for _, e := range exts {
		if e.unclosed {
			// An unclosed clause is dropped whole; guessing at its
			// argument would resolve against the wrong elements.
			c.malformed = true
			continue
		}
		switch e.name {
		case "contains":
			arg := unquoteArg(e.arg)
			if arg == "" {
				c.malformed = true
				continue
			}
			if c.contains == "" {
				c.contains = arg
			}
		case "has":
			if e.arg == "" {
				c.malformed = true
				continue
			}
			if c.hasSel == "" {
				c.hasSel = e.arg
			}
		case "nth-match":
			n, err := strconv.Atoi(strings.TrimSpace(e.arg))
			if err != nil || n < 1 {
				c.malformed = true
				continue
			}
			c.nth = n
		}
	}
	if c.base == "" && c.contains == "" && c.hasSel == "" {
		c.base = "*"
	}
	return c
}

type extension struct {
	name     string
	arg      string
	unclosed bool
}

var extensionNames = []string{"contains", "has", "nth-match"}

// splitExtensions scans sel for the extended pseudo functions at nesting
// depth zero, returning the remaining CSS and the extracted clauses. Quote
// and parenthesis state is tracked so an extension inside :has(...) or an
// attribute string is left for the browser to handle.
func splitExtensions(sel string) (string, []extension) {
	var (
		base  strings.Builder
		exts  []extension
		quote byte
		depth int
	)
	i := 0
	for i < len(sel) {
		ch := sel[i]
		if quote != 0 {
			base.WriteByte(ch)
			if ch == quote {
				quote = 0
			}
			i++
			continue
		}
		switch ch {
		case '"', '\'':
			quote = ch
			base.WriteByte(ch)
			i++
			continue
		case '(', '[':
			depth++
			base.WriteByte(ch)
			i++
			continue
		case ')', ']':
			depth--
			base.WriteByte(ch)
			i++
			continue
		}
		if ch == ':' && depth == 0 {
			if name, ok := matchExtension(sel[i+1:]); ok {
				arg, next, closed := captureArg(sel, i+1+len(name)+1)
				exts = append(exts, extension{name: name, arg: arg, unclosed: !closed})
				i = next
				continue
			}
		}
		base.WriteByte(ch)
		i++
	}
	return base.String(), exts
}

func matchExtension(rest string) (string, bool) {
	for _, name := range extensionNames {
		if strings.HasPrefix(rest, name+"(") {
			return name, true
		}
	}
	return "", false
}

// captureArg reads an extension argument starting at the character after
// the opening parenthesis, tracking quotes only so parentheses inside
// strings do not end the clause. It returns the raw argument, the index
// after the closing parenthesis and whether the clause was closed.
func captureArg(sel string, start int) (string, int, bool) {
	var (
		quote byte
		depth = 1
		b     strings.Builder
	)
	i := start
	for i < len(sel) {
		ch := sel[i]
		if quote != 0 {
			b.WriteByte(ch)
			if ch == quote {
				quote = 0
			}
			i++
			continue
		}
		switch ch {
		case '"', '\'':
			quote = ch
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return strings.TrimSpace(b.String()), i + 1, true
			}
		}
		b.WriteByte(ch)
		i++
	}
	return strings.TrimSpace(b.String()), i, false
}

// unquoteArg strips one matching pair of surrounding quotes.
func unquoteArg(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// relaxationSequence returns the forms Query tries in order: the selector
// as given, then progressively relaxed forms that drop the most specific
// clause first. The order is deliberate and load-bearing; recorded tours
// depend on deterministic resolution.
func relaxationSequence(c compiled) []compiled {
	seq := []compiled{c}
	cur := c
	push := func(next compiled) {
		for _, have := range seq {
			if have == next {
				return
			}
		}
		seq = append(seq, next)
		cur = next
	}
	if cur.textOnly {
		return seq
	}
	if cur.nth > 0 {
		next := cur
		next.nth = 0
		push(next)
	}
	if cur.hasSel != "" {
		next := cur
		next.hasSel = ""
		push(next)
	}
	if cur.contains != "" {
		next := cur
		next.contains = ""
		push(next)
	}
	if last := lastCompound(cur.base); last != "" && last != cur.base {
		next := cur
		next.base = last
		push(next)
	}
	if stripped := stripAttributes(cur.base); stripped != "" && stripped != cur.base {
		next := cur
		next.base = stripped
		push(next)
	}
	if head := leadingSimple(cur.base); head != "" && head != cur.base {
		next := cur
		next.base = head
		push(next)
	}
	return seq
}

// lastCompound returns the final compound of a complex selector, dropping
// ancestor context ("#app .card > button.save" -> "button.save").
func lastCompound(base string) string {
	fields := strings.FieldsFunc(base, func(r rune) bool {
		return r == ' ' || r == '>' || r == '+' || r == '~'
	})
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimSpace(fields[len(fields)-1])
}

// stripAttributes removes [...] blocks from a compound.
func stripAttributes(base string) string {
	var (
		b     strings.Builder
		quote byte
		depth int
	)
	for i := 0; i < len(base); i++ {
		ch := base[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '"', '\'':
			if depth > 0 {
				quote = ch
				continue
			}
		case '[':
			depth++
			continue
		case ']':
			depth--
			continue
		}
		if depth == 0 {
			b.WriteByte(ch)
		}
	}
	return strings.TrimSpace(b.String())
}

// leadingSimple reduces a compound to its first simple selector: the tag
// if present, else the first class, else the id.
func leadingSimple(base string) string {
	if base == "" {
		return ""
	}
	switch base[0] {
	case '.', '#':
		for i := 1; i < len(base); i++ {
			if base[i] == '.' || base[i] == '[' || base[i] == ':' || base[i] == '#' {
				return base[:i]
			}
		}
		return base
	default:
		for i := 0; i < len(base); i++ {
			if base[i] == '.' || base[i] == '[' || base[i] == ':' || base[i] == '#' {
				return base[:i]
			}
		}
		return base
	}
}

// Query resolves a selector against the live page. It never fails for a
// bad selector: unparseable or empty-matching forms are relaxed clause by
// clause and an unmatchable selector yields an empty element list with
// UsedFallback set. The returned error is reserved for evaluator failures
// (page gone, context cancelled).
func (e *Engine) Query(ctx context.Context, sel string) (QueryResult, error) {
	c := parseExtended(sel)
	forms := relaxationSequence(c)
	sawInvalid := false
	for i, form := range forms {
		var payload queryPayload
		if err := e.ev.Evaluate(ctx, queryScript(form), &payload); err != nil {
			return QueryResult{}, fmt.Errorf("query %q: %w", sel, err)
		}
		if payload.Invalid {
			sawInvalid = true
			continue
		}
		if len(payload.Elements) > 0 {
			return QueryResult{
				Elements:          payload.Elements,
				UsedFallback:      i > 0 || c.malformed,
				EffectiveSelector: form.String(),
			}, nil
		}
	}
	return QueryResult{UsedFallback: len(forms) > 1 || c.malformed || sawInvalid}, nil
}
