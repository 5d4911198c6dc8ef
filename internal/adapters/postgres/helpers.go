package postgres

import (
	"encoding/json"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/airtimehq/topup-core/internal/domain/ports"
)

// runner picks the explicit transaction when one was passed, otherwise the
// shared pool. Lets every repository method serve both paths with one body.
func runner(db ports.DBTX, pool *pgxpool.Pool) ports.DBTX {
	if db != nil {
		return db
	}
	return pool
}

// numericFromDecimal converts a shopspring decimal to the wire type pgx
// expects for NUMERIC columns
func numericFromDecimal(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{
		Int:   d.Coefficient(),
		Exp:   d.Exponent(),
		Valid: true,
	}
}

// decimalFromNumeric converts a scanned NUMERIC back. NULL scans to zero.
func decimalFromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

// numericPtrFromDecimal converts an optional decimal, NULL when absent
func numericPtrFromDecimal(d *decimal.Decimal) pgtype.Numeric {
	if d == nil {
		return pgtype.Numeric{Valid: false}
	}
	return numericFromDecimal(*d)
}

// decimalPtrFromNumeric converts an optional scanned NUMERIC
func decimalPtrFromNumeric(n pgtype.Numeric) *decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return nil
	}
	d := decimal.NewFromBigInt(n.Int, n.Exp)
	return &d
}

// marshalJSON serializes a metadata bag for a JSONB column. A nil map is
// stored as an empty object so scans never see SQL NULL.
func marshalJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

// unmarshalJSON deserializes a JSONB column into dst, tolerating NULL
func unmarshalJSON(raw []byte, dst interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
