// Package filter parses the query expression language accepted by the
// subscription version query operation and compiles it into a parameterized
// SQL condition. Caller-supplied text is only ever parsed, never spliced into
// SQL.
package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Fields exposed to query expressions, mapped to their column and value type.
var fields = map[string]fieldSpec{
	"tn":              {column: "subscription_version_tn", kind: kindString},
	"version_id":      {column: "subscription_version_id", kind: kindInt},
	"recipient_sp":    {column: "subscription_recipient_sp", kind: kindString},
	"recipient_eot":   {column: "subscription_recipient_eot", kind: kindString},
	"rn1":             {column: "subscription_rn1", kind: kindString},
	"new_cnl":         {column: "subscription_new_cnl", kind: kindString},
	"lnp_type":        {column: "subscription_lnp_type", kind: kindString},
	"download_reason": {column: "subscription_download_reason", kind: kindString},
	"line_type":       {column: "subscription_line_type", kind: kindString},
	"activation_at":   {column: "subscription_activation_timestamp", kind: kindTime},
	"broadcast_at":    {column: "subscription_broadcast_timestamp", kind: kindTime},
}

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindTime
)

type fieldSpec struct {
	column string
	kind   valueKind
}

// ParseError reports a lexically or semantically invalid expression.
type ParseError struct {
	Input  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid query expression: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid query expression: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Grammar. OR binds loosest, then AND, then NOT; parentheses group.

type expression struct {
	Left  *andExpr   `parser:"@@"`
	Right []*andExpr `parser:"( OrKw @@ )*"`
}

type andExpr struct {
	Left  *notExpr   `parser:"@@"`
	Right []*notExpr `parser:"( AndKw @@ )*"`
}

type notExpr struct {
	Negated bool  `parser:"@NotKw?"`
	Atom    *atom `parser:"@@"`
}

type atom struct {
	Group      *expression `parser:"'(' @@ ')'"`
	Comparison *comparison `parser:"| @@"`
}

type comparison struct {
	Field string `parser:"@Ident"`
	Op    string `parser:"@Op"`
	Value *value `parser:"@@"`
}

type value struct {
	Str *string `parser:"@String"`
	Num *string `parser:"| @Number"`
}

var exprLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "OrKw", Pattern: `(?i)\bOR\b`},
	{Name: "AndKw", Pattern: `(?i)\bAND\b`},
	{Name: "NotKw", Pattern: `(?i)\bNOT\b`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "String", Pattern: `'(?:[^'\\]|\\.)*'|"(?:[^"\\]|\\.)*"`},
	{Name: "Number", Pattern: `\d[\d.:TZ+-]*`},
	{Name: "Op", Pattern: `<=|>=|!=|=|<|>`},
	{Name: "Paren", Pattern: `[()]`},
	{Name: "whitespace", Pattern: `\s+`},
})

var exprParser = participle.MustBuild[expression](
	participle.Lexer(exprLexer),
	participle.Unquote("String"),
)

// Expression is a parsed and validated query expression, ready to be applied
// as a WHERE condition.
type Expression struct {
	condition string
	args      []any
}

// Condition returns the parameterized SQL fragment and its arguments.
func (e *Expression) Condition() (string, []any) {
	return e.condition, e.args
}

// Parse validates the expression text and compiles it. Empty input is
// rejected: the query operation requires an explicit filter.
func Parse(input string) (*Expression, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, &ParseError{Input: input, Reason: "empty expression"}
	}

	ast, err := exprParser.ParseString("", trimmed)
	if err != nil {
		return nil, &ParseError{Input: input, Reason: "syntax error", Err: err}
	}

	var b condBuilder
	if err := b.expression(ast); err != nil {
		return nil, err
	}
	return &Expression{condition: b.sql.String(), args: b.args}, nil
}

type condBuilder struct {
	sql  strings.Builder
	args []any
}

func (b *condBuilder) expression(e *expression) error {
	if len(e.Right) > 0 {
		b.sql.WriteString("(")
	}
	if err := b.andExpr(e.Left); err != nil {
		return err
	}
	for _, right := range e.Right {
		b.sql.WriteString(" OR ")
		if err := b.andExpr(right); err != nil {
			return err
		}
	}
	if len(e.Right) > 0 {
		b.sql.WriteString(")")
	}
	return nil
}

func (b *condBuilder) andExpr(e *andExpr) error {
	if len(e.Right) > 0 {
		b.sql.WriteString("(")
	}
	if err := b.notExpr(e.Left); err != nil {
		return err
	}
	for _, right := range e.Right {
		b.sql.WriteString(" AND ")
		if err := b.notExpr(right); err != nil {
			return err
		}
	}
	if len(e.Right) > 0 {
		b.sql.WriteString(")")
	}
	return nil
}

func (b *condBuilder) notExpr(e *notExpr) error {
	if e.Negated {
		b.sql.WriteString("NOT ")
	}
	return b.atom(e.Atom)
}

func (b *condBuilder) atom(a *atom) error {
	if a.Group != nil {
		b.sql.WriteString("(")
		if err := b.expression(a.Group); err != nil {
			return err
		}
		b.sql.WriteString(")")
		return nil
	}
	return b.comparison(a.Comparison)
}

func (b *condBuilder) comparison(c *comparison) error {
	spec, ok := fields[strings.ToLower(c.Field)]
	if !ok {
		return &ParseError{Reason: fmt.Sprintf("unknown field %q", c.Field)}
	}

	arg, err := coerceValue(spec, c.Value)
	if err != nil {
		return err
	}

	b.sql.WriteString(spec.column)
	b.sql.WriteString(" ")
	b.sql.WriteString(c.Op)
	b.sql.WriteString(" ?")
	b.args = append(b.args, arg)
	return nil
}

func coerceValue(spec fieldSpec, v *value) (any, error) {
	var text string
	switch {
	case v.Str != nil:
		text = *v.Str
	case v.Num != nil:
		text = *v.Num
	default:
		return nil, &ParseError{Reason: "missing comparison value"}
	}

	switch spec.kind {
	case kindInt:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, &ParseError{Reason: fmt.Sprintf("field %s wants an integer, got %q", spec.column, text), Err: err}
		}
		return n, nil
	case kindTime:
		ts, err := parseTimestamp(text)
		if err != nil {
			return nil, &ParseError{Reason: fmt.Sprintf("field %s wants a timestamp, got %q", spec.column, text), Err: err}
		}
		return ts, nil
	default:
		return text, nil
	}
}

func parseTimestamp(text string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, text); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", text)
}
