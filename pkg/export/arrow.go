// Package export converts columns to and from Apache Arrow arrays and writes
// sets of named columns as Parquet files or Arrow IPC streams.
//
// Nulls are carried as Arrow validity bits: sentinel slots of primitive
// columns and nil slots of object columns become Arrow nulls, and Arrow nulls
// become sentinels again on the way back. The column's logical type is kept
// in the field metadata under "tabula.type"; without it the type is inferred
// from the Arrow type.
package export

import (
	json "github.com/goccy/go-json"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ajitpratap0/tabula/pkg/column"
	"github.com/ajitpratap0/tabula/pkg/errors"
	"github.com/ajitpratap0/tabula/pkg/storage"
)

// TypeMetadataKey is the field metadata key holding the column's logical type.
const TypeMetadataKey = "tabula.type"

var intervalType = arrow.StructOf(
	arrow.Field{Name: "lower", Type: arrow.PrimitiveTypes.Float64},
	arrow.Field{Name: "upper", Type: arrow.PrimitiveTypes.Float64},
)

// ToArrow converts col into an Arrow array of col.Capacity() rows. The
// caller releases the returned array.
func ToArrow(name string, col column.Column, mem memory.Allocator) (arrow.Field, arrow.Array, error) {
	return toArrow(name, col, mem, col.Capacity())
}

// toArrow emits rows values; slots past the column's capacity are null.
func toArrow(name string, col column.Column, mem memory.Allocator, rows int) (arrow.Field, arrow.Array, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	capacity := min(col.Capacity(), rows)

	var (
		arr arrow.Array
		err error
	)
	switch c := col.(type) {
	case column.NullableColumn[float64]:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		arr, err = buildPrimitive[float64](c, b, capacity, rows)
	case column.NullableColumn[float32]:
		b := array.NewFloat32Builder(mem)
		defer b.Release()
		arr, err = buildPrimitive[float32](c, b, capacity, rows)
	case column.NullableColumn[int32]:
		b := array.NewInt32Builder(mem)
		defer b.Release()
		arr, err = buildPrimitive[int32](c, b, capacity, rows)
	default:
		if col.Type() == column.Range {
			arr, err = buildIntervals(col, mem, capacity, rows)
		} else {
			arr, err = buildJSON(col, mem, capacity, rows)
		}
	}
	if err != nil {
		return arrow.Field{}, nil, err
	}

	field := arrow.Field{
		Name:     name,
		Type:     arr.DataType(),
		Nullable: true,
		Metadata: arrow.NewMetadata([]string{TypeMetadataKey}, []string{col.Type().String()}),
	}
	return field, arr, nil
}

// primitiveBuilder is satisfied by the Arrow builders of the primitive
// column types.
type primitiveBuilder[T column.Primitive] interface {
	array.Builder
	Append(T)
}

func buildPrimitive[T column.Primitive](c column.NullableColumn[T], b primitiveBuilder[T], capacity, rows int) (arrow.Array, error) {
	b.Reserve(rows)
	for i := 0; i < capacity; i++ {
		v, err := c.GetPrimitive(i)
		if err != nil {
			return nil, err
		}
		if c.IsNull(v) {
			b.AppendNull()
			continue
		}
		b.Append(v)
	}
	for i := capacity; i < rows; i++ {
		b.AppendNull()
	}
	return b.NewArray(), nil
}

func buildIntervals(col column.Column, mem memory.Allocator, capacity, rows int) (arrow.Array, error) {
	sb := array.NewStructBuilder(mem, intervalType)
	defer sb.Release()
	lower := sb.FieldBuilder(0).(*array.Float64Builder)
	upper := sb.FieldBuilder(1).(*array.Float64Builder)

	appendNull := func() {
		sb.AppendNull()
		for _, fb := range []array.Builder{lower, upper} {
			if fb.Len() < sb.Len() {
				fb.AppendNull()
			}
		}
	}

	for i := 0; i < capacity; i++ {
		v, err := col.Get(i)
		if err != nil {
			return nil, err
		}
		if v == nil {
			appendNull()
			continue
		}
		iv, ok := v.(column.Interval)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeValidation, "range column holds %T", v)
		}
		sb.Append(true)
		lower.Append(iv.Lower)
		upper.Append(iv.Upper)
	}
	for i := capacity; i < rows; i++ {
		appendNull()
	}
	return sb.NewArray(), nil
}

func buildJSON(col column.Column, mem memory.Allocator, capacity, rows int) (arrow.Array, error) {
	b := array.NewStringBuilder(mem)
	defer b.Release()
	b.Reserve(rows)
	for i := 0; i < capacity; i++ {
		v, err := col.Get(i)
		if err != nil {
			return nil, err
		}
		if v == nil {
			b.AppendNull()
			continue
		}
		text, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "column value is not JSON encodable").
				WithDetail("index", i)
		}
		b.Append(string(text))
	}
	for i := capacity; i < rows; i++ {
		b.AppendNull()
	}
	return b.NewArray(), nil
}

// DataTypeOf returns the logical column type for an Arrow field.
func DataTypeOf(field arrow.Field) (column.DataType, error) {
	if idx := field.Metadata.FindKey(TypeMetadataKey); idx >= 0 {
		return column.ParseDataType(field.Metadata.Values()[idx]), nil
	}
	switch field.Type.ID() {
	case arrow.FLOAT64:
		return column.Double, nil
	case arrow.FLOAT32:
		return column.Float, nil
	case arrow.INT32:
		return column.Int, nil
	case arrow.STRUCT:
		st := field.Type.(*arrow.StructType)
		if st.NumFields() == 2 && st.Field(0).Name == "lower" && st.Field(1).Name == "upper" {
			return column.Range, nil
		}
	case arrow.STRING:
		return column.Custom, nil
	}
	return 0, errors.Newf(errors.ErrorTypeValidation, "field %q has unsupported arrow type %s", field.Name, field.Type)
}

// FromArrow builds a column holding arr's values. The column is created by
// factory (nil selects the default) and backed by h when its type has a
// mapped form.
func FromArrow(field arrow.Field, arr arrow.Array, factory *column.Factory, h storage.Handle) (column.Column, error) {
	dt, err := DataTypeOf(field)
	if err != nil {
		return nil, err
	}
	if factory == nil {
		factory = column.NewFactory(column.FactoryOptions{})
	}
	col, err := factory.CreateForType(dt, h, arr.Len())
	if err != nil {
		return nil, err
	}

	mismatch := func() error {
		return errors.Newf(errors.ErrorTypeData,
			"field %q: arrow type %s does not fit a %s column", field.Name, arr.DataType(), dt)
	}

	switch a := arr.(type) {
	case *array.Float64:
		c, ok := col.(column.NullableColumn[float64])
		if !ok {
			return nil, mismatch()
		}
		err = fillPrimitive[float64](c, a)
	case *array.Float32:
		c, ok := col.(column.NullableColumn[float32])
		if !ok {
			return nil, mismatch()
		}
		err = fillPrimitive[float32](c, a)
	case *array.Int32:
		c, ok := col.(column.NullableColumn[int32])
		if !ok {
			return nil, mismatch()
		}
		err = fillPrimitive[int32](c, a)
	case *array.Struct:
		if dt != column.Range || a.NumField() != 2 {
			return nil, mismatch()
		}
		err = fillIntervals(col, a)
	case *array.String:
		err = fillJSON(col, a)
	default:
		return nil, mismatch()
	}
	if err != nil {
		return nil, err
	}
	return col, nil
}

type primitiveArray[T column.Primitive] interface {
	arrow.Array
	Value(i int) T
}

func fillPrimitive[T column.Primitive](c column.NullableColumn[T], a primitiveArray[T]) error {
	for i := 0; i < a.Len(); i++ {
		if a.IsNull(i) {
			continue
		}
		if _, err := c.SetPrimitive(i, a.Value(i)); err != nil {
			return err
		}
	}
	return nil
}

func fillIntervals(col column.Column, a *array.Struct) error {
	lower, ok1 := a.Field(0).(*array.Float64)
	upper, ok2 := a.Field(1).(*array.Float64)
	if !ok1 || !ok2 {
		return errors.New(errors.ErrorTypeData, "range struct must hold two float64 fields")
	}
	for i := 0; i < a.Len(); i++ {
		if a.IsNull(i) {
			continue
		}
		iv := column.Interval{Lower: lower.Value(i), Upper: upper.Value(i)}
		if _, err := col.Set(i, iv); err != nil {
			return err
		}
	}
	return nil
}

func fillJSON(col column.Column, a *array.String) error {
	for i := 0; i < a.Len(); i++ {
		if a.IsNull(i) {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(a.Value(i)), &v); err != nil {
			// Plain strings written by other tools are kept verbatim.
			v = a.Value(i)
		}
		if _, err := col.Set(i, v); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "arrow value does not fit its column").
				WithDetail("index", i)
		}
	}
	return nil
}
