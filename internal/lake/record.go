// Package lake implements the layered synchronization engine: it folds
// newly ingested raw rows (bronze) into per-symbol deduplicated history
// objects (silver) and exposes the merge primitives the by-date projection
// (gold) builds on.
package lake

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Record is one observation for a symbol on a date. Values are held in a
// column map so the same merge machinery serves prices, earnings and price
// targets; the per-domain Schema decides which columns exist.
type Record struct {
	Symbol string
	Date   time.Time // UTC, day granularity
	Fields map[string]float64
}

// Key returns the dedup key. History invariant: unique per merged table.
func (r Record) Key() string {
	return r.Symbol + "|" + r.Date.Format("2006-01-02")
}

// Field returns the value of a column and whether it is present.
func (r Record) Field(name string) (float64, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// YearMonth returns the record's gold-layer partition key ("2024-01").
func (r Record) YearMonth() string {
	return r.Date.Format("2006-01")
}

// EncodeMsgpack encodes the record with columns in sorted order, so that
// re-encoding an identical history produces byte-identical objects.
func (r *Record) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(3); err != nil {
		return err
	}
	if err := enc.EncodeString(r.Symbol); err != nil {
		return err
	}
	if err := enc.EncodeInt(r.Date.Unix()); err != nil {
		return err
	}

	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	if err := enc.EncodeArrayLen(len(names) * 2); err != nil {
		return err
	}
	for _, name := range names {
		if err := enc.EncodeString(name); err != nil {
			return err
		}
		if err := enc.EncodeFloat64(r.Fields[name]); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMsgpack decodes a record written by EncodeMsgpack.
func (r *Record) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != 3 {
		return fmt.Errorf("invalid record encoding: expected 3 elements, got %d", n)
	}

	if r.Symbol, err = dec.DecodeString(); err != nil {
		return err
	}
	unix, err := dec.DecodeInt64()
	if err != nil {
		return err
	}
	r.Date = time.Unix(unix, 0).UTC()

	pairs, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if pairs%2 != 0 {
		return fmt.Errorf("invalid record encoding: odd field array length %d", pairs)
	}

	r.Fields = make(map[string]float64, pairs/2)
	for i := 0; i < pairs; i += 2 {
		name, err := dec.DecodeString()
		if err != nil {
			return err
		}
		value, err := dec.DecodeFloat64()
		if err != nil {
			return err
		}
		r.Fields[name] = value
	}
	return nil
}

var _ msgpack.CustomEncoder = (*Record)(nil)
var _ msgpack.CustomDecoder = (*Record)(nil)

// rawRow is the shape of one row in an ingested raw-layer object. Ingestion
// writes JSON arrays of these; any column the schema does not know is dropped
// during normalization.
type rawRow map[string]json.RawMessage

// DecodeRaw parses a raw-layer object body into normalized records for one
// symbol: the timestamp column is coerced to a UTC date, unknown columns are
// dropped, and each row is tagged with the symbol. Rows missing required
// columns make the whole payload invalid; the error enumerates what is
// missing so ingestion bugs surface immediately rather than as silent NULLs.
func DecodeRaw(schema Schema, symbol string, body []byte) ([]Record, error) {
	var rows []rawRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("unparseable raw payload for %s: %w", symbol, err)
	}

	records := make([]Record, 0, len(rows))
	for i, row := range rows {
		rec, err := normalizeRow(schema, symbol, row)
		if err != nil {
			return nil, fmt.Errorf("raw row %d for %s: %w", i, symbol, err)
		}
		records = append(records, rec)
	}

	return records, nil
}

func normalizeRow(schema Schema, symbol string, row rawRow) (Record, error) {
	rawDate, ok := row[schema.TimeColumn]
	if !ok {
		return Record{}, fmt.Errorf("missing required column %q", schema.TimeColumn)
	}

	date, err := parseDate(rawDate)
	if err != nil {
		return Record{}, fmt.Errorf("invalid %s: %w", schema.TimeColumn, err)
	}

	rec := Record{
		Symbol: symbol,
		Date:   date,
		Fields: make(map[string]float64, len(schema.Columns)),
	}

	for _, col := range schema.Columns {
		raw, ok := row[col]
		if !ok {
			continue
		}
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			// Some feeds quote numerics; accept "12.5" as well.
			var s string
			if err2 := json.Unmarshal(raw, &s); err2 != nil {
				return Record{}, fmt.Errorf("column %q is not numeric: %w", col, err)
			}
			if _, err2 := fmt.Sscanf(s, "%g", &v); err2 != nil {
				return Record{}, fmt.Errorf("column %q is not numeric: %w", col, err2)
			}
		}
		rec.Fields[col] = v
	}

	var missing []string
	for _, col := range schema.Required {
		if _, ok := rec.Fields[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return Record{}, fmt.Errorf("missing required columns %v", missing)
	}

	return rec, nil
}

// parseDate accepts the date formats ingestion produces: bare dates,
// RFC3339 timestamps, and unix epoch seconds. Everything is truncated to a
// UTC day since the history key is (symbol, date).
func parseDate(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse("2006-01-02", s); err == nil {
			return t.UTC(), nil
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC().Truncate(24 * time.Hour), nil
		}
		return time.Time{}, fmt.Errorf("unrecognized date %q", s)
	}

	var unix int64
	if err := json.Unmarshal(raw, &unix); err == nil {
		return time.Unix(unix, 0).UTC().Truncate(24 * time.Hour), nil
	}

	return time.Time{}, fmt.Errorf("unrecognized date value %s", string(raw))
}
