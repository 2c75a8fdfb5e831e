package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/anserdb/anser"
	"github.com/anserdb/anser/field"
	"github.com/anserdb/anser/internal/pqconn"
)

// copyEscape escapes the characters with special meaning in COPY text
// format.
var copyEscape = strings.NewReplacer(
	`\`, `\\`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

const copyNull = `\N`

// encodeCopyRow renders one row in COPY text format: TAB-separated cells,
// NULL spelled \N, newline terminated.
func (c *conn) encodeCopyRow(buf []byte, t *field.Type, v interface{}, query string) ([]byte, *anser.Error) {
	cells := make([][]byte, t.Length())
	i, aerr := c.encodeValue(cells, t, v, 0, query)
	if aerr != nil {
		return nil, aerr
	}
	if i != t.Length() {
		return nil, &anser.Error{Kind: anser.KindEncodeRejected, URI: c.uri, Query: query,
			Msg: fmt.Sprintf("field type %s covers %d cells, encoded %d", t, t.Length(), i)}
	}

	kinds := make([]field.Kind, 0, t.Length())
	kinds = collectKinds(t, kinds)

	for j, cell := range cells {
		if j > 0 {
			buf = append(buf, '\t')
		}
		if cell == nil {
			buf = append(buf, copyNull...)
			continue
		}
		switch kinds[j] {
		case field.KindOctets:
			buf = append(buf, copyEscape.Replace(pqconn.EscapeBytea(cell))...)
		case field.KindString, field.KindEnum:
			buf = append(buf, copyEscape.Replace(string(cell))...)
		default:
			buf = append(buf, cell...)
		}
	}
	return append(buf, '\n'), nil
}

func collectKinds(t *field.Type, kinds []field.Kind) []field.Kind {
	switch t.Op() {
	case field.OpField:
		kinds = append(kinds, t.Kind())
	case field.OpOption, field.OpAnnot, field.OpCustom:
		inner := collectKinds(t.Elem(), nil)
		kinds = append(kinds, inner...)
	case field.OpTup:
		for _, e := range t.Elems() {
			kinds = collectKinds(e, kinds)
		}
	}
	return kinds
}

// Populate bulk-loads rows into the named table columns with COPY FROM
// STDIN.
func (c *conn) Populate(ctx context.Context, table string, columns []string, rowType *field.Type, rows anser.RowSource) error {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = quoteIdent(col)
	}
	sql := fmt.Sprintf("COPY %s (%s) FROM STDIN", quoteIdent(table), strings.Join(quoted, ", "))

	return c.usingDB(ctx, func() error {
		if err := c.pq.SendQuery(ctx, sql); err != nil {
			return anser.NewRequestFailed(c.uri, sql, err)
		}
		res, aerr := c.getOneResult(ctx, sql)
		if aerr != nil {
			return aerr
		}
		if res.Status != pqconn.CopyIn {
			if aerr := c.checkQueryResult(anser.Zero, false, res, sql); aerr != nil {
				return aerr
			}
			return anser.NewResponseRejected(c.uri, sql, "Expected a copy-in response.")
		}

		var buf []byte
		for rows.Next() {
			v, err := rows.Values()
			if err != nil {
				c.pq.PutCopyFail(ctx, err.Error())
				c.drainCycle(ctx)
				return anser.NewRequestFailed(c.uri, sql, err)
			}
			buf, aerr = c.encodeCopyRow(buf[:0], rowType, v, sql)
			if aerr != nil {
				c.pq.PutCopyFail(ctx, "row encoding failed")
				c.drainCycle(ctx)
				return aerr
			}
			if err := c.pq.PutCopyData(ctx, buf); err != nil {
				return anser.NewRequestFailed(c.uri, sql, err)
			}
		}
		if err := rows.Err(); err != nil {
			c.pq.PutCopyFail(ctx, err.Error())
			c.drainCycle(ctx)
			return anser.NewRequestFailed(c.uri, sql, err)
		}

		if err := c.pq.PutCopyEnd(ctx); err != nil {
			return anser.NewRequestFailed(c.uri, sql, err)
		}
		final, aerr := c.getFinalResult(ctx, sql)
		if aerr != nil {
			return aerr
		}
		if aerr := c.checkQueryResult(anser.Zero, false, final, sql); aerr != nil {
			return aerr
		}
		return nil
	})
}

// drainCycle consumes any remaining results after a COPY abort so the
// connection ends the call quiescent.
func (c *conn) drainCycle(ctx context.Context) {
	for {
		res, err := c.pq.GetResult(ctx)
		if err != nil || res == nil {
			return
		}
	}
}
