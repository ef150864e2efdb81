package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/davecgh/go-spew/spew"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-entity-provider/container"
	"github.com/goliatone/go-entity-provider/filter"
	"github.com/goliatone/go-entity-provider/internal/demo"
	"github.com/goliatone/go-entity-provider/pkg/di"
	"github.com/google/uuid"
)

// Output formats.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatDump  = "dump"
)

type listQuery struct {
	filters []string
	sort    []string
	offset  int
	limit   int
	columns []string
	format  string
}

// entitySet runs the browse commands for one entity type.
type entitySet interface {
	list(ctx context.Context, w io.Writer, q listQuery) error
	get(ctx context.Context, w io.Writer, id string, format string) error
	count(ctx context.Context, w io.Writer, filters []string) error
}

func (a *app) entitySet(name string) (entitySet, error) {
	switch strings.ToLower(name) {
	case "orders", "order":
		return browser[*demo.Order]{
			app:      a,
			handlers: demo.OrderHandlers(),
			columns:  []string{"orderNo", "orderDate", "customer.customerName", "billedDate", "total"},
		}, nil
	case "customers", "customer":
		return browser[*demo.Customer]{
			app:      a,
			handlers: demo.CustomerHandlers(),
			columns:  []string{"custNo", "customerName", "billingAddress.postOffice", "lastOrderDate"},
		}, nil
	}
	return nil, fmt.Errorf("unknown entity %q, want orders or customers", name)
}

type browser[T any] struct {
	app      *app
	handlers repository.ModelHandlers[T]
	columns  []string
}

func (b browser[T]) open() (*container.EntityContainer[T, uuid.UUID], error) {
	repo, err := di.NewRepository(b.app.container, b.handlers)
	if err != nil {
		return nil, err
	}
	p, err := di.NewCachingProvider[T, uuid.UUID](b.app.container, repo)
	if err != nil {
		return nil, err
	}
	return di.NewEntityContainer[T, uuid.UUID](b.app.container, p, container.WithReadOnly())
}

// addNested makes a dotted property known to the container so it can be
// filtered on and sorted by.
func addNested[T any](c *container.EntityContainer[T, uuid.UUID], property string) error {
	if !strings.Contains(property, ".") {
		return nil
	}
	return c.AddNestedContainerProperty(property)
}

func applyFilters[T any](c *container.EntityContainer[T, uuid.UUID], exprs []string) error {
	for _, expr := range exprs {
		f, err := ParseFilter(c.Metadata(), expr)
		if err != nil {
			return err
		}
		for _, p := range filter.Properties(f) {
			if err := addNested(c, p); err != nil {
				return err
			}
		}
		if err := c.AddFilter(f); err != nil {
			return err
		}
	}
	return nil
}

func (b browser[T]) list(ctx context.Context, w io.Writer, q listQuery) error {
	c, err := b.open()
	if err != nil {
		return err
	}

	columns := q.columns
	if len(columns) == 0 {
		columns = b.columns
	}
	for _, col := range columns {
		if err := addNested(c, col); err != nil {
			return err
		}
	}
	if err := applyFilters(c, q.filters); err != nil {
		return err
	}

	sorts, err := ParseSort(q.sort)
	if err != nil {
		return err
	}
	props := make([]string, len(sorts))
	asc := make([]bool, len(sorts))
	for i, s := range sorts {
		if err := addNested(c, s.Property); err != nil {
			return err
		}
		props[i], asc[i] = s.Property, s.Ascending
	}
	if err := c.Sort(props, asc); err != nil {
		return err
	}

	limit := q.limit
	if limit <= 0 {
		if limit, err = c.Size(ctx); err != nil {
			return err
		}
	}
	ids, err := c.ItemIDRange(ctx, q.offset, limit)
	if err != nil {
		return err
	}

	rows := make([][]any, 0, len(ids))
	for _, id := range ids {
		item, ok, err := c.Item(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		row := make([]any, len(columns))
		for i, col := range columns {
			prop, err := item.ItemProperty(col)
			if err != nil {
				return err
			}
			if row[i], err = prop.Value(); err != nil {
				return err
			}
		}
		rows = append(rows, row)
	}

	switch q.format {
	case formatJSON:
		records := make([]map[string]any, len(rows))
		for i, row := range rows {
			records[i] = make(map[string]any, len(columns))
			for j, col := range columns {
				records[i][col] = row[j]
			}
		}
		return writeJSON(w, records)
	case formatDump:
		spew.Fdump(w, rows)
		return nil
	default:
		return writeTable(w, columns, rows)
	}
}

func (b browser[T]) get(ctx context.Context, w io.Writer, raw string, format string) error {
	id, err := uuid.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %q is not an identifier: %v", ErrInvalidExpression, raw, err)
	}
	c, err := b.open()
	if err != nil {
		return err
	}
	entity, err := container.NewIdentifierConverter(c).ToModel(ctx, id)
	if err != nil {
		return err
	}

	if format == formatDump {
		spew.Fdump(w, entity)
		return nil
	}
	return writeJSON(w, entity)
}

func (b browser[T]) count(ctx context.Context, w io.Writer, filters []string) error {
	c, err := b.open()
	if err != nil {
		return err
	}
	if err := applyFilters(c, filters); err != nil {
		return err
	}
	n, err := c.Size(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, n)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTable(w io.Writer, columns []string, rows [][]any) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(columns, "\t"))
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatCell(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func formatCell(v any) string {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return ""
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return ""
	}
	if t, ok := rv.Interface().(time.Time); ok {
		return t.Format(time.DateOnly)
	}
	return fmt.Sprint(rv.Interface())
}
