package postgres

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/AlterionX/auric-regia/counter"
)

// decimalNumeric encodes d exactly as NUMERIC.
func decimalNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

// idNumeric encodes an unsigned identity as NUMERIC(20,0).
func idNumeric(v uint64) pgtype.Numeric {
	return pgtype.Numeric{Int: new(big.Int).SetUint64(v), Valid: true}
}

func fromNumeric(v pgtype.Numeric) (decimal.Decimal, error) {
	if !v.Valid {
		return decimal.Zero, fmt.Errorf("unexpected NULL numeric")
	}
	if v.NaN || v.InfinityModifier != pgtype.Finite {
		return decimal.Zero, fmt.Errorf("non-finite numeric")
	}
	return decimal.NewFromBigInt(v.Int, v.Exp), nil
}

// numericDecimal scans NUMERIC into a decimal.Decimal.
type numericDecimal decimal.Decimal

func (n *numericDecimal) ScanNumeric(v pgtype.Numeric) error {
	d, err := fromNumeric(v)
	if err != nil {
		return err
	}
	*n = numericDecimal(d)
	return nil
}

// numericID scans NUMERIC(20,0) into an unsigned identity.
type numericID uint64

func (n *numericID) ScanNumeric(v pgtype.Numeric) error {
	d, err := fromNumeric(v)
	if err != nil {
		return err
	}
	if !d.IsInteger() || d.IsNegative() {
		return fmt.Errorf("identity %s is not an unsigned integer", d)
	}
	bi := d.BigInt()
	if !bi.IsUint64() {
		return fmt.Errorf("identity %s overflows uint64", d)
	}
	*n = numericID(bi.Uint64())
	return nil
}

func sortByID(rows []counter.Aggregate) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
}
