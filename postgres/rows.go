package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anserdb/anser"
	"github.com/anserdb/anser/field"
	"github.com/anserdb/anser/internal/pqconn"
)

// decodeRow decodes one result row against the row descriptor.
func (c *conn) decodeRow(cells [][]byte, t *field.Type, query string) (interface{}, *anser.Error) {
	if len(cells) != t.Length() {
		return nil, anser.NewResponseRejected(c.uri, query,
			fmt.Sprintf("Received row of %d cells, expected %d.", len(cells), t.Length()))
	}
	v, i, aerr := c.decodeValue(cells, t, 0, query)
	if aerr != nil {
		return nil, aerr
	}
	if i != t.Length() {
		return nil, anser.NewDecodeRejected(c.uri, query, t.String(),
			fmt.Errorf("covers %d cells, decoded %d", t.Length(), i))
	}
	return v, nil
}

func (c *conn) decodeValue(cells [][]byte, t *field.Type, i int, query string) (interface{}, int, *anser.Error) {
	switch t.Op() {
	case field.OpUnit:
		return nil, i, nil
	case field.OpField:
		cell := cells[i]
		if cell == nil {
			return nil, i, anser.NewDecodeRejected(c.uri, query, t.String(),
				fmt.Errorf("unexpected NULL in cell %d", i))
		}
		v, err := decodeField(t.Kind(), cell)
		if err != nil {
			return nil, i, anser.NewDecodeRejected(c.uri, query, t.String(), err)
		}
		return v, i + 1, nil
	case field.OpOption:
		// A cell group decodes to the absent value iff every covered cell
		// is NULL.
		n := t.Length()
		allNull := true
		for j := i; j < i+n; j++ {
			if cells[j] != nil {
				allNull = false
				break
			}
		}
		if allNull && n > 0 {
			return nil, i + n, nil
		}
		return c.decodeValue(cells, t.Elem(), i, query)
	case field.OpAnnot:
		return c.decodeValue(cells, t.Elem(), i, query)
	case field.OpCustom:
		rep, i2, aerr := c.decodeValue(cells, t.Elem(), i, query)
		if aerr != nil {
			return nil, i, aerr
		}
		decode := t.Decoder()
		if decode == nil {
			return nil, i, anser.NewDecodeMissing(c.uri, query, t.String())
		}
		v, err := decode(rep)
		if err != nil {
			return nil, i, anser.NewDecodeRejected(c.uri, query, t.String(), err)
		}
		return v, i2, nil
	case field.OpTup:
		tuple := make([]interface{}, 0, len(t.Elems()))
		for _, e := range t.Elems() {
			v, i2, aerr := c.decodeValue(cells, e, i, query)
			if aerr != nil {
				return nil, i, aerr
			}
			tuple = append(tuple, v)
			i = i2
		}
		return tuple, i, nil
	}
	return nil, i, anser.NewDecodeMissing(c.uri, query, t.String())
}

// decodeField parses the server's text representation of a primitive value.
func decodeField(k field.Kind, cell []byte) (interface{}, error) {
	s := string(cell)
	switch k {
	case field.KindBool:
		switch s {
		case "t":
			return true, nil
		case "f":
			return false, nil
		}
		return nil, fmt.Errorf("invalid bool %q", s)
	case field.KindInt, field.KindInt64:
		return strconv.ParseInt(s, 10, 64)
	case field.KindInt16:
		n, err := strconv.ParseInt(s, 10, 16)
		return int16(n), err
	case field.KindInt32:
		n, err := strconv.ParseInt(s, 10, 32)
		return int32(n), err
	case field.KindFloat:
		return strconv.ParseFloat(s, 64)
	case field.KindString, field.KindEnum:
		return s, nil
	case field.KindOctets:
		return pqconn.UnescapeBytea(s)
	case field.KindDate:
		return time.ParseInLocation("2006-01-02", s, time.UTC)
	case field.KindTimestamp:
		return decodeTimestamp(s)
	case field.KindInterval:
		return decodeInterval(s)
	}
	return nil, fmt.Errorf("unsupported field kind %s", k)
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
}

func decodeTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// decodeInterval parses the server's postgres-style interval output for
// day-time intervals. Calendar units (years, months) have no fixed duration
// and are rejected.
func decodeInterval(s string) (time.Duration, error) {
	var total time.Duration
	tokens := strings.Fields(s)
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if strings.Contains(tok, ":") {
			d, err := decodeIntervalTime(tok)
			if err != nil {
				return 0, err
			}
			total += d
			continue
		}
		if i+1 >= len(tokens) {
			return 0, fmt.Errorf("invalid interval %q", s)
		}
		n, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q", s)
		}
		unit := strings.TrimSuffix(tokens[i+1], "s")
		i++
		switch unit {
		case "day":
			total += time.Duration(n) * 24 * time.Hour
		case "year", "mon":
			return 0, fmt.Errorf("interval %q contains calendar units", s)
		default:
			return 0, fmt.Errorf("invalid interval %q", s)
		}
	}
	return total, nil
}

func decodeIntervalTime(tok string) (time.Duration, error) {
	neg := strings.HasPrefix(tok, "-")
	tok = strings.TrimPrefix(tok, "-")
	tok = strings.TrimPrefix(tok, "+")
	parts := strings.SplitN(tok, ":", 3)
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid interval time %q", tok)
	}
	hours, err1 := strconv.ParseInt(parts[0], 10, 64)
	minutes, err2 := strconv.ParseInt(parts[1], 10, 64)
	seconds, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, fmt.Errorf("invalid interval time %q", tok)
	}
	d := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	if neg {
		d = -d
	}
	return d, nil
}

// completeResponse serves a fully buffered server result.
type completeResponse struct {
	c       *conn
	query   string
	rowType *field.Type
	res     *pqconn.Result
}

func (r *completeResponse) Exec() error { return nil }

func (r *completeResponse) ReturnedCount() (int, error) {
	return r.res.NTuples(), nil
}

func (r *completeResponse) AffectedCount() (int64, error) {
	tag := r.res.CommandTag
	idx := strings.LastIndex(tag, " ")
	if idx == -1 {
		// Commands like BEGIN carry no row count.
		if _, err := strconv.ParseInt(tag, 10, 64); err != nil {
			return 0, nil
		}
	}
	n, err := strconv.ParseInt(tag[idx+1:], 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (r *completeResponse) Find() (interface{}, error) {
	if r.res.NTuples() == 0 {
		return nil, anser.NewResponseRejected(r.c.uri, r.query, "Received 0 tuples, expected one.")
	}
	v, aerr := r.c.decodeRow(r.res.Rows[0], r.rowType, r.query)
	if aerr != nil {
		return nil, aerr
	}
	return v, nil
}

func (r *completeResponse) FindOpt() (interface{}, bool, error) {
	if r.res.NTuples() == 0 {
		return nil, false, nil
	}
	v, aerr := r.c.decodeRow(r.res.Rows[0], r.rowType, r.query)
	if aerr != nil {
		return nil, false, aerr
	}
	return v, true, nil
}

func (r *completeResponse) Fold(acc interface{}, f func(row, acc interface{}) (interface{}, error)) (interface{}, error) {
	for _, cells := range r.res.Rows {
		v, aerr := r.c.decodeRow(cells, r.rowType, r.query)
		if aerr != nil {
			return nil, aerr
		}
		var err error
		acc, err = f(v, acc)
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func (r *completeResponse) Iter(f func(row interface{}) error) error {
	for _, cells := range r.res.Rows {
		v, aerr := r.c.decodeRow(cells, r.rowType, r.query)
		if aerr != nil {
			return aerr
		}
		if err := f(v); err != nil {
			return err
		}
	}
	return nil
}

func (r *completeResponse) Stream() anser.Stream {
	return &completeStream{r: r}
}

type completeStream struct {
	r   *completeResponse
	idx int
}

func (s *completeStream) Next() (interface{}, bool, error) {
	if s.idx >= s.r.res.NTuples() {
		return nil, false, nil
	}
	v, aerr := s.r.c.decodeRow(s.r.res.Rows[s.idx], s.r.rowType, s.r.query)
	if aerr != nil {
		return nil, false, aerr
	}
	s.idx++
	return v, true, nil
}

// singleRowResponse serves rows as the server delivers them in single-row
// mode. It is only valid while the dispatching call is active.
type singleRowResponse struct {
	c       *conn
	ctx     context.Context
	query   string
	rowType *field.Type
	done    bool
	err     *anser.Error
}

func (r *singleRowResponse) next() ([][]byte, *anser.Error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.done {
		return nil, nil
	}
	cells, aerr := r.c.fetchSingleRow(r.ctx, r.query)
	if aerr != nil {
		r.err = aerr
		return nil, aerr
	}
	if cells == nil {
		r.done = true
	}
	return cells, nil
}

// drain consumes any rows the callback left unread so the connection ends
// the call quiescent.
func (r *singleRowResponse) drain() *anser.Error {
	for {
		cells, aerr := r.next()
		if aerr != nil {
			return aerr
		}
		if cells == nil {
			return nil
		}
	}
}

func (r *singleRowResponse) Exec() error {
	return nil
}

func (r *singleRowResponse) ReturnedCount() (int, error) {
	return 0, anser.NewUnsupported()
}

func (r *singleRowResponse) AffectedCount() (int64, error) {
	return 0, anser.NewUnsupported()
}

func (r *singleRowResponse) Find() (interface{}, error) {
	cells, aerr := r.next()
	if aerr != nil {
		return nil, aerr
	}
	if cells == nil {
		return nil, anser.NewResponseRejected(r.c.uri, r.query, "Received 0 tuples, expected one.")
	}
	v, aerr := r.c.decodeRow(cells, r.rowType, r.query)
	if aerr != nil {
		return nil, aerr
	}
	return v, nil
}

func (r *singleRowResponse) FindOpt() (interface{}, bool, error) {
	cells, aerr := r.next()
	if aerr != nil {
		return nil, false, aerr
	}
	if cells == nil {
		return nil, false, nil
	}
	v, aerr := r.c.decodeRow(cells, r.rowType, r.query)
	if aerr != nil {
		return nil, false, aerr
	}
	return v, true, nil
}

func (r *singleRowResponse) Fold(acc interface{}, f func(row, acc interface{}) (interface{}, error)) (interface{}, error) {
	for {
		cells, aerr := r.next()
		if aerr != nil {
			return nil, aerr
		}
		if cells == nil {
			return acc, nil
		}
		v, aerr := r.c.decodeRow(cells, r.rowType, r.query)
		if aerr != nil {
			return nil, aerr
		}
		var err error
		acc, err = f(v, acc)
		if err != nil {
			return nil, err
		}
	}
}

func (r *singleRowResponse) Iter(f func(row interface{}) error) error {
	_, err := r.Fold(nil, func(row, acc interface{}) (interface{}, error) {
		return nil, f(row)
	})
	return err
}

func (r *singleRowResponse) Stream() anser.Stream {
	return &singleRowStream{r: r}
}

type singleRowStream struct {
	r *singleRowResponse
}

func (s *singleRowStream) Next() (interface{}, bool, error) {
	cells, aerr := s.r.next()
	if aerr != nil {
		return nil, false, aerr
	}
	if cells == nil {
		return nil, false, nil
	}
	v, aerr := s.r.c.decodeRow(cells, s.r.rowType, s.r.query)
	if aerr != nil {
		return nil, false, aerr
	}
	return v, true, nil
}
