package dml

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/catalog"
)

// intWidthBounds returns the signed range for a SMALLINT(16)/INTEGER(32)/
// BIGINT(64) column, used by the boundary check in spec.md §8.
func intWidthBounds(width int) (lo, hi decimal.Decimal) {
	switch width {
	case 16:
		return decimal.NewFromInt(-32768), decimal.NewFromInt(32767)
	case 32:
		return decimal.NewFromInt(-2147483648), decimal.NewFromInt(2147483647)
	case 64:
		return decimal.NewFromInt(-9223372036854775808), decimal.NewFromInt(9223372036854775807)
	default:
		return decimal.Decimal{}, decimal.Decimal{}
	}
}

// validateValue enforces spec.md §4.11's per-column check order: type,
// length, enum membership, NOT NULL. UNIQUE and FK are cross-row checks
// performed separately by the caller since they need catalog/table
// access this function doesn't have.
func validateValue(col catalog.Column, v basic.Value, enumReg func(name string) (*catalog.Enum, error)) (basic.Value, error) {
	if v.IsNull() {
		if !col.Nullable {
			return v, errors.Wrapf(basic.ErrNotNullViolation, "column %q", col.Name)
		}
		return v, nil
	}

	switch col.Type {
	case catalog.TypeNumeric:
		if v.Kind != basic.KindNumeric {
			return v, errors.Wrapf(basic.ErrTypeViolation, "column %q expects numeric", col.Name)
		}
		if col.IntWidth > 0 {
			lo, hi := intWidthBounds(col.IntWidth)
			if v.Num.LessThan(lo) || v.Num.GreaterThan(hi) {
				return v, errors.Wrapf(basic.ErrLengthViolation, "column %q value out of range", col.Name)
			}
		}
		return v, nil

	case catalog.TypeString:
		if v.Kind != basic.KindString {
			return v, errors.Wrapf(basic.ErrTypeViolation, "column %q expects string", col.Name)
		}
		if col.FixedChar {
			if len(v.Str) > col.MaxLength {
				return v, errors.Wrapf(basic.ErrLengthViolation, "column %q exceeds CHAR(%d)", col.Name, col.MaxLength)
			}
			return basic.StringV(v.Str + strings.Repeat(" ", col.MaxLength-len(v.Str))), nil
		}
		if col.MaxLength > 0 && len(v.Str) > col.MaxLength {
			return v, errors.Wrapf(basic.ErrLengthViolation, "column %q exceeds VARCHAR(%d)", col.Name, col.MaxLength)
		}
		return v, nil

	case catalog.TypeTemporal:
		if v.Kind != basic.KindTemporal {
			return v, errors.Wrapf(basic.ErrTypeViolation, "column %q expects a temporal value", col.Name)
		}
		return v, nil

	case catalog.TypeBool:
		if v.Kind != basic.KindBool {
			return v, errors.Wrapf(basic.ErrTypeViolation, "column %q expects boolean", col.Name)
		}
		return v, nil

	case catalog.TypeUUID:
		if v.Kind != basic.KindUUID {
			return v, errors.Wrapf(basic.ErrTypeViolation, "column %q expects uuid", col.Name)
		}
		return v, nil

	case catalog.TypeJSON:
		if v.Kind != basic.KindJSON {
			return v, errors.Wrapf(basic.ErrTypeViolation, "column %q expects json", col.Name)
		}
		return v, nil

	case catalog.TypeBytea:
		if v.Kind != basic.KindBytea {
			return v, errors.Wrapf(basic.ErrTypeViolation, "column %q expects bytea", col.Name)
		}
		return v, nil

	case catalog.TypeEnum:
		if v.Kind != basic.KindEnum {
			return v, errors.Wrapf(basic.ErrTypeViolation, "column %q expects enum %s", col.Name, col.EnumType)
		}
		e, err := enumReg(col.EnumType)
		if err != nil {
			return v, err
		}
		if !e.Member(v.Str) {
			return v, errors.Wrapf(basic.ErrEnumViolation, "column %q value %q", col.Name, v.Str)
		}
		return v, nil

	default:
		return v, errors.Wrapf(basic.ErrTypeViolation, "column %q has unknown type", col.Name)
	}
}
