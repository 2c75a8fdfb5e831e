package postgres

import (
	"context"

	"github.com/anserdb/anser"
	"github.com/anserdb/anser/field"
)

// typeOIDRequest resolves a user-defined type name to its OID. It is
// one-shot: probing runs through the ordinary request pipeline without
// touching the prepared-statement cache.
var typeOIDRequest = anser.MustNewRequest(
	field.String, field.Int64, anser.ZeroOrOne,
	"SELECT oid FROM pg_catalog.pg_type WHERE typname = ?",
	anser.OneShot(),
)

func collectEnumNames(t *field.Type, names []string) []string {
	switch t.Op() {
	case field.OpField:
		if t.Kind() == field.KindEnum {
			names = append(names, t.EnumName())
		}
	case field.OpOption, field.OpAnnot, field.OpCustom:
		names = collectEnumNames(t.Elem(), names)
	case field.OpTup:
		for _, e := range t.Elems() {
			names = collectEnumNames(e, names)
		}
	}
	return names
}

// probeEnums resolves the OID of every enum named in the parameter
// descriptor that is not yet in the connection's type OID cache.
func (c *conn) probeEnums(ctx context.Context, t *field.Type) *anser.Error {
	for _, name := range collectEnumNames(t, nil) {
		if _, ok := c.typeOIDs[name]; ok {
			continue
		}
		row, found, err := anser.FindOpt(ctx, c, typeOIDRequest, name)
		if err != nil {
			c.log(ctx, anser.LogLevelError, "enum OID probe failed",
				map[string]interface{}{"typname": name, "err": err})
			return anser.NewEncodeMissing(c.uri, "", "enum("+name+")")
		}
		if !found {
			c.log(ctx, anser.LogLevelWarn, "enum type not present in pg_type",
				map[string]interface{}{"typname": name})
			return anser.NewEncodeMissing(c.uri, "", "enum("+name+")")
		}
		c.typeOIDs[name] = uint32(row.(int64))
	}
	return nil
}
