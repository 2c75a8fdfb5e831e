package anser_test

import (
	"fmt"
	"testing"

	"github.com/anserdb/anser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderDollar(t *anser.Template) (string, error) {
	return t.Render(
		func(i int) string { return fmt.Sprintf("$%d", i+1) },
		func(s string) string { return "'" + s + "'" },
	)
}

func TestParseTemplateParams(t *testing.T) {
	tmpl, err := anser.ParseTemplate("SELECT name FROM users WHERE id = ? AND age > ?")
	require.NoError(t, err)
	assert.Equal(t, 2, tmpl.ParamCount())

	sql, err := renderDollar(tmpl)
	require.NoError(t, err)
	assert.Equal(t, "SELECT name FROM users WHERE id = $1 AND age > $2", sql)
}

func TestParseTemplateQuotedQuestionMark(t *testing.T) {
	tmpl, err := anser.ParseTemplate(`SELECT '?' AS q, "odd?col" FROM t WHERE x = ?`)
	require.NoError(t, err)
	assert.Equal(t, 1, tmpl.ParamCount())

	sql, err := renderDollar(tmpl)
	require.NoError(t, err)
	assert.Equal(t, `SELECT '?' AS q, "odd?col" FROM t WHERE x = $1`, sql)
}

func TestParseTemplateDollar(t *testing.T) {
	tmpl, err := anser.ParseTemplate("SELECT $$ FROM t")
	require.NoError(t, err)
	sql, err := renderDollar(tmpl)
	require.NoError(t, err)
	assert.Equal(t, "SELECT $ FROM t", sql)
}

func TestParseTemplateEnvRef(t *testing.T) {
	tmpl, err := anser.ParseTemplate("SELECT * FROM $(prefix)log WHERE id = ?")
	require.NoError(t, err)

	// Unexpanded environment references refuse to render.
	_, err = renderDollar(tmpl)
	require.Error(t, err)

	expanded, err := tmpl.Expand(func(name string) (*anser.Template, bool) {
		if name == "prefix" {
			return anser.Lit("audit_"), true
		}
		return nil, false
	}, true)
	require.NoError(t, err)

	sql, err := renderDollar(expanded)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM audit_log WHERE id = $1", sql)
}

func TestExpandFinalMissing(t *testing.T) {
	tmpl, err := anser.ParseTemplate("SELECT * FROM $(missing)")
	require.NoError(t, err)

	_, err = tmpl.Expand(func(string) (*anser.Template, bool) { return nil, false }, true)
	require.Error(t, err)

	// A non-final pass keeps the reference for a later expansion.
	kept, err := tmpl.Expand(func(string) (*anser.Template, bool) { return nil, false }, false)
	require.NoError(t, err)
	_, err = renderDollar(kept)
	require.Error(t, err)
}

func TestExpandNested(t *testing.T) {
	tmpl := anser.Seq(anser.Lit("SELECT "), anser.EnvRef("outer"))
	expanded, err := tmpl.Expand(func(name string) (*anser.Template, bool) {
		switch name {
		case "outer":
			return anser.Seq(anser.EnvRef("inner"), anser.Lit(".x")), true
		case "inner":
			return anser.Lit("tbl"), true
		}
		return nil, false
	}, true)
	require.NoError(t, err)

	sql, err := renderDollar(expanded)
	require.NoError(t, err)
	assert.Equal(t, "SELECT tbl.x", sql)
}

func TestQuoteNode(t *testing.T) {
	tmpl := anser.Seq(anser.Lit("SELECT "), anser.Quote("it's"), anser.Lit(", "), anser.Param(0))
	sql, err := renderDollar(tmpl)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 'it's', $1", sql)
}

func TestParseTemplateErrors(t *testing.T) {
	_, err := anser.ParseTemplate("SELECT $(unterminated")
	require.Error(t, err)
	_, err = anser.ParseTemplate("SELECT $()")
	require.Error(t, err)
}
