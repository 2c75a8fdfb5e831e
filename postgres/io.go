package postgres

import (
	"context"
	"fmt"

	"github.com/anserdb/anser"
	"github.com/anserdb/anser/internal/pqconn"
)

// getNextResult pulls one pending result, or nil at the end of the cycle.
func (c *conn) getNextResult(ctx context.Context, query string) (*pqconn.Result, *anser.Error) {
	res, err := c.pq.GetResult(ctx)
	if err != nil {
		return nil, anser.NewRequestFailed(c.uri, query, err)
	}
	return res, nil
}

// getOneResult pulls one pending result; the absence of a result is a
// request failure.
func (c *conn) getOneResult(ctx context.Context, query string) (*pqconn.Result, *anser.Error) {
	res, aerr := c.getNextResult(ctx, query)
	if aerr != nil {
		return nil, aerr
	}
	if res == nil {
		return nil, anser.NewRequestFailed(c.uri, query,
			fmt.Errorf("No response received after send."))
	}
	return res, nil
}

// getFinalResult pulls one result and verifies the cycle delivers no more.
func (c *conn) getFinalResult(ctx context.Context, query string) (*pqconn.Result, *anser.Error) {
	res, aerr := c.getOneResult(ctx, query)
	if aerr != nil {
		return nil, aerr
	}
	extra, aerr := c.getNextResult(ctx, query)
	if aerr != nil {
		return nil, aerr
	}
	if extra != nil {
		return nil, anser.NewResponseRejected(c.uri, query, "More than one response received.")
	}
	return res, nil
}

func (c *conn) serverError(kind anser.Kind, query string, pgErr *pqconn.PgError) *anser.Error {
	return &anser.Error{
		Kind:  kind,
		URI:   c.uri,
		Query: query,
		Server: &anser.ServerMessage{
			Severity: pgErr.Severity,
			Code:     pgErr.Code,
			Message:  pgErr.Message,
			Detail:   pgErr.Detail,
			Hint:     pgErr.Hint,
		},
		Err: pgErr,
	}
}

// checkQueryResult verifies a result against the request's row multiplicity
// and the single-row-mode decision.
func (c *conn) checkQueryResult(mult anser.Multiplicity, singleRow bool, res *pqconn.Result, query string) *anser.Error {
	reject := func(msg string) *anser.Error {
		return anser.NewResponseRejected(c.uri, query, msg)
	}

	switch res.Status {
	case pqconn.CommandOK:
		if mult != anser.Zero {
			return reject("Tuples expected.")
		}
		return nil
	case pqconn.TuplesOK:
		n := res.NTuples()
		if singleRow {
			if n != 0 {
				return reject(fmt.Sprintf("Received %d tuples in single-row mode.", n))
			}
			return nil
		}
		switch mult {
		case anser.Zero:
			if n != 0 {
				return reject(fmt.Sprintf("Received %d tuples, expected none.", n))
			}
		case anser.One:
			if n != 1 {
				return reject(fmt.Sprintf("Received %d tuples, expected one.", n))
			}
		case anser.ZeroOrOne:
			if n > 1 {
				return reject(fmt.Sprintf("Received %d tuples, expected at most one.", n))
			}
		case anser.ZeroOrMore:
		}
		return nil
	case pqconn.SingleTuple:
		if !singleRow {
			return reject("Received single-tuple response out of single-row mode.")
		}
		if res.NTuples() != 1 {
			return reject(fmt.Sprintf("Received %d tuples in a single-tuple response.", res.NTuples()))
		}
		return nil
	case pqconn.EmptyQuery:
		return anser.NewRequestFailed(c.uri, query, fmt.Errorf("The query was empty."))
	case pqconn.BadResponse:
		return c.serverError(anser.KindResponseRejected, query, res.Err)
	case pqconn.FatalError:
		return c.serverError(anser.KindRequestFailed, query, res.Err)
	case pqconn.NonfatalError:
		// Warnings pass; surfacing them out of band is left to the notice
		// handler.
		return nil
	case pqconn.CopyIn, pqconn.CopyOut, pqconn.CopyBoth:
		return reject("Received unexpected copy response.")
	}
	return reject(fmt.Sprintf("Unexpected result status %s.", res.Status))
}

// fetchSingleRow returns the next row of a single-row sequence, or nil at
// the end of the sequence. The terminating empty result must be the last of
// the cycle.
func (c *conn) fetchSingleRow(ctx context.Context, query string) ([][]byte, *anser.Error) {
	for {
		res, aerr := c.getNextResult(ctx, query)
		if aerr != nil {
			return nil, aerr
		}
		if res == nil {
			return nil, anser.NewResponseRejected(c.uri, query, "Missing final response in single-row mode.")
		}
		switch res.Status {
		case pqconn.SingleTuple:
			if res.NTuples() != 1 {
				return nil, anser.NewResponseRejected(c.uri, query,
					fmt.Sprintf("Received %d tuples in a single-tuple response.", res.NTuples()))
			}
			return res.Rows[0], nil
		case pqconn.TuplesOK:
			if res.NTuples() != 0 {
				return nil, anser.NewResponseRejected(c.uri, query,
					fmt.Sprintf("Received %d tuples terminating a single-row sequence.", res.NTuples()))
			}
			extra, aerr := c.getNextResult(ctx, query)
			if aerr != nil {
				return nil, aerr
			}
			if extra != nil {
				return nil, anser.NewResponseRejected(c.uri, query, "More than one response received.")
			}
			return nil, nil
		default:
			if aerr := c.checkQueryResult(anser.ZeroOrMore, true, res, query); aerr != nil {
				return nil, aerr
			}
			// A nonfatal warning result; keep pumping.
		}
	}
}
