package source

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/json"
	"github.com/ajitpratap0/orbit/pkg/record"
)

// Querier runs a query. *pgxpool.Pool, *pgx.Conn and pgx.Tx implement it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// OpenPool connects to PostgreSQL.
func OpenPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid PostgreSQL connection string")
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to PostgreSQL")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping PostgreSQL")
	}
	return pool, nil
}

// FromQuery streams the rows of a query as records of objectType. Column
// names become field names. The query runs when iteration starts and its rows
// are released when iteration stops.
func FromQuery(ctx context.Context, q Querier, objectType, sql string, args ...any) Seq {
	return func(yield func(record.Record, error) bool) {
		rows, err := q.Query(ctx, sql, args...)
		if err != nil {
			yield(record.Record{}, errors.Wrap(err, errors.ErrorTypeConnection, "failed to run source query"))
			return
		}
		defer rows.Close()

		fields := rows.FieldDescriptions()
		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				yield(record.Record{}, errors.Wrap(err, errors.ErrorTypeParse, "failed to read row values"))
				return
			}

			b := record.NewBuilder(objectType)
			for i, v := range values {
				if i >= len(fields) {
					break
				}
				b.Set(fields[i].Name, convertValue(v, fields[i].DataTypeOID))
			}
			if !yield(b.Build(), nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(record.Record{}, errors.Wrap(err, errors.ErrorTypeConnection, "source query failed"))
		}
	}
}

// convertValue maps a decoded PostgreSQL value to a record value.
func convertValue(v any, oid uint32) record.Value {
	switch x := v.(type) {
	case nil:
		return record.Null()
	case string:
		return record.String(x)
	case bool:
		return record.Bool(x)
	case int16:
		return record.Int(int64(x))
	case int32:
		return record.Int(int64(x))
	case int64:
		return record.Int(x)
	case float32:
		return record.Float(float64(x))
	case float64:
		return record.Float(x)
	case []byte:
		return record.Binary(x)
	case [16]byte:
		return record.String(uuid.UUID(x).String())
	case time.Time:
		if oid == pgtype.DateOID {
			return record.String(x.Format(time.DateOnly))
		}
		return record.String(x.UTC().Format("2006-01-02T15:04:05.000Z"))
	case pgtype.Numeric:
		if n, ok := formatNumeric(x); ok {
			return record.JSON(json.Number(n))
		}
		return record.Null()
	default:
		return record.JSON(x)
	}
}

// formatNumeric renders a finite numeric in plain decimal notation.
func formatNumeric(n pgtype.Numeric) (string, bool) {
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite || n.Int == nil {
		return "", false
	}
	digits := n.Int.String()
	sign := ""
	if strings.HasPrefix(digits, "-") {
		sign, digits = "-", digits[1:]
	}
	if n.Exp >= 0 {
		if digits == "0" {
			return "0", true
		}
		return sign + digits + strings.Repeat("0", int(n.Exp)), true
	}

	scale := int(-n.Exp)
	if len(digits) <= scale {
		digits = strings.Repeat("0", scale-len(digits)+1) + digits
	}
	point := len(digits) - scale
	return sign + digits[:point] + "." + digits[point:], true
}
