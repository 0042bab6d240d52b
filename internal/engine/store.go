package engine

import (
	"fmt"
	"io"
	"macrodash/internal/models"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/ipc"
	"github.com/apache/arrow/go/v18/arrow/memory"
)

// ColumnStore holds a SeriesSet as flat (country, year, value) rows in
// Struct-of-Arrays format. Rows are grouped by country (sorted) and ordered
// by year within a country.
type ColumnStore struct {
	// Data Columns (Flat Arrays)
	Years  []int32
	Values []float64
	Valid  []bool

	// Dictionary Encoded IDs (0..N)
	CountryIDs []int32

	// Dictionary (ID -> ISO-3)
	CountryDict []string
}

// RowSchema is the Arrow layout of a ColumnStore. Absent values are nulls.
var RowSchema = arrow.NewSchema([]arrow.Field{
	{Name: "country", Type: arrow.BinaryTypes.String},
	{Name: "year", Type: arrow.PrimitiveTypes.Int32},
	{Name: "value", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
}, nil)

func NewColumnStore(set models.SeriesSet) *ColumnStore {
	countries := set.Countries()
	total := 0
	for _, c := range countries {
		total += len(set[c])
	}

	// Allocate Store ONCE
	cs := &ColumnStore{
		Years:       make([]int32, 0, total),
		Values:      make([]float64, 0, total),
		Valid:       make([]bool, 0, total),
		CountryIDs:  make([]int32, 0, total),
		CountryDict: countries,
	}
	for id, c := range countries {
		for _, o := range set[c] {
			cs.Years = append(cs.Years, int32(o.Year))
			cs.Values = append(cs.Values, o.Value.Value)
			cs.Valid = append(cs.Valid, o.Value.Valid)
			cs.CountryIDs = append(cs.CountryIDs, int32(id))
		}
	}
	return cs
}

func (cs *ColumnStore) Len() int { return len(cs.Years) }

func (cs *ColumnStore) Row(i int) models.Observation {
	o := models.Observation{Country: cs.CountryDict[cs.CountryIDs[i]], Year: int(cs.Years[i])}
	if cs.Valid[i] {
		o.Value = models.Some(cs.Values[i])
	}
	return o
}

// Record builds an Arrow record of the rows. The caller releases it.
func (cs *ColumnStore) Record(mem memory.Allocator) arrow.Record {
	b := array.NewRecordBuilder(mem, RowSchema)
	defer b.Release()

	countries := make([]string, len(cs.CountryIDs))
	for i, id := range cs.CountryIDs {
		countries[i] = cs.CountryDict[id]
	}
	b.Field(0).(*array.StringBuilder).AppendValues(countries, nil)
	b.Field(1).(*array.Int32Builder).AppendValues(cs.Years, nil)
	b.Field(2).(*array.Float64Builder).AppendValues(cs.Values, cs.Valid)
	return b.NewRecord()
}

// WriteIPC streams the rows to w in the Arrow IPC stream format.
func (cs *ColumnStore) WriteIPC(w io.Writer, mem memory.Allocator) error {
	rec := cs.Record(mem)
	defer rec.Release()

	wr := ipc.NewWriter(w, ipc.WithSchema(RowSchema), ipc.WithAllocator(mem))
	if err := wr.Write(rec); err != nil {
		wr.Close()
		return fmt.Errorf("write arrow record: %w", err)
	}
	return wr.Close()
}
