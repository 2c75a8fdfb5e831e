package postgres

// Type OIDs assigned in pg_catalog.pg_type. String parameters deliberately
// carry the unknown OID so the server coerces them to the column type.
const (
	boolOID        = 16
	byteaOID       = 17
	int8OID        = 20
	int2OID        = 21
	int4OID        = 23
	float8OID      = 701
	unknownOID     = 705
	dateOID        = 1082
	timestamptzOID = 1184
	intervalOID    = 1186
)
