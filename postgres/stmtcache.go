package postgres

import (
	"context"
	"fmt"

	"github.com/anserdb/anser"
)

// preparedEntry is the cached preparation state for one request on one
// connection. Entries are never shared across connections; the server-side
// statement lives and dies with the session.
type preparedEntry struct {
	name         string
	queryText    string
	paramOIDs    []uint32
	paramFormats []int16
	singleRow    bool
}

func statementName(req *anser.Request) string {
	return fmt.Sprintf("_caq%d", req.ID())
}

// buildEntry expands the request's template, renders it with positional
// placeholders, and computes the parameter OIDs and format codes.
func (c *conn) buildEntry(req *anser.Request) (*preparedEntry, *anser.Error) {
	tmpl, err := req.QueryTemplate(c.info)
	if err != nil {
		return nil, anser.NewRequestFailed(c.uri, "", err)
	}
	tmpl, err = tmpl.Expand(func(name string) (*anser.Template, bool) {
		if c.config.Env == nil {
			return nil, false
		}
		return c.config.Env(c.info, name)
	}, true)
	if err != nil {
		return nil, anser.NewRequestFailed(c.uri, "", err)
	}
	sql, err := tmpl.Render(
		func(i int) string { return fmt.Sprintf("$%d", i+1) },
		quoteLiteral,
	)
	if err != nil {
		return nil, anser.NewRequestFailed(c.uri, "", err)
	}

	width := req.ParamType().Length()
	oids := make([]uint32, width)
	formats := make([]int16, width)
	if aerr := c.initParamTypes(oids, formats, req.ParamType(), sql); aerr != nil {
		return nil, aerr
	}

	return &preparedEntry{
		name:         statementName(req),
		queryText:    sql,
		paramOIDs:    oids,
		paramFormats: formats,
		singleRow:    req.Multiplicity().CanBeMany() && c.config.UseSingleRowMode,
	}, nil
}

// preparedFor returns the prepared entry for req, sending the preparation
// on first use. A failed preparation is not cached, so the next call with
// the same request retries it. One-shot requests yield a transient entry.
func (c *conn) preparedFor(ctx context.Context, req *anser.Request) (*preparedEntry, *anser.Error) {
	if !req.IsOneShot() {
		if entry, ok := c.prepared[req.ID()]; ok {
			return entry, nil
		}
	}

	entry, aerr := c.buildEntry(req)
	if aerr != nil {
		return nil, aerr
	}
	if req.IsOneShot() {
		return entry, nil
	}

	if err := c.pq.SendPrepare(ctx, entry.name, entry.queryText, entry.paramOIDs); err != nil {
		return nil, anser.NewRequestFailed(c.uri, entry.queryText, err)
	}
	res, aerr := c.getFinalResult(ctx, entry.queryText)
	if aerr != nil {
		return nil, aerr
	}
	if aerr := c.checkQueryResult(anser.Zero, false, res, entry.queryText); aerr != nil {
		return nil, aerr
	}

	c.prepared[req.ID()] = entry
	return entry, nil
}

// Deallocate releases the server-side statement prepared for req on this
// connection.
func (c *conn) Deallocate(ctx context.Context, req *anser.Request) error {
	entry, ok := c.prepared[req.ID()]
	if !ok {
		return nil
	}
	return c.usingDB(ctx, func() error {
		sql := "DEALLOCATE " + entry.name
		if err := c.pq.SendQuery(ctx, sql); err != nil {
			return anser.NewRequestFailed(c.uri, sql, err)
		}
		res, aerr := c.getFinalResult(ctx, sql)
		if aerr != nil {
			return aerr
		}
		if aerr := c.checkQueryResult(anser.Zero, false, res, sql); aerr != nil {
			return aerr
		}
		delete(c.prepared, req.ID())
		return nil
	})
}
