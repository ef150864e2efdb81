package provider

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"sync"
	"testing"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-entity-provider/pkg/testsupport"
	"github.com/uptrace/bun"
)

type testCustomer struct {
	bun.BaseModel `bun:"table:customers,alias:c"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name"`
}

func (c *testCustomer) Clone() *testCustomer {
	cp := *c
	return &cp
}

type testOrder struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID         int64         `bun:"id,pk,autoincrement"`
	No         int           `bun:"no"`
	Note       *string       `bun:"note"`
	CustomerID int64         `bun:"customer_id"`
	Customer   *testCustomer `bun:"rel:belongs-to,join:customer_id=id"`
}

var (
	pkPattern     = regexp.MustCompile(`"id" = (\d+)`)
	limitPattern  = regexp.MustCompile(` LIMIT (\d+)`)
	offsetPattern = regexp.MustCompile(` OFFSET (\d+)`)
)

var errStore = errors.New("store failure")

// fakeStore serves rows in their slice order. It understands primary key
// lookups, LIMIT and OFFSET and ignores every other restriction. Like the
// repository, List pages by default.
type fakeStore[T any] struct {
	db   *bun.DB
	idOf func(T) int64

	mu      sync.Mutex
	rows    []T
	err     error
	selects []string
	counts  []string
	updates []string
	deletes []string
}

func newFakeStore[T any](t *testing.T, idOf func(T) int64, rows ...T) *fakeStore[T] {
	return &fakeStore[T]{db: testsupport.QueryDB(t), idOf: idOf, rows: rows}
}

func newOrderStore(t *testing.T, n int) *fakeStore[*testOrder] {
	rows := make([]*testOrder, n)
	for i := range rows {
		rows[i] = &testOrder{ID: int64(i + 1), No: 100 + i, CustomerID: 1}
	}
	return newFakeStore(t, func(o *testOrder) int64 { return o.ID }, rows...)
}

// defaultListLimit is the page size the repository applies to List before
// the caller's criteria run.
const defaultListLimit = 25

func (s *fakeStore[T]) render(criteria []repository.SelectCriteria, list bool) string {
	var rows []T
	q := s.db.NewSelect().Model(&rows)
	if list {
		q = q.Limit(defaultListLimit).Offset(0)
	}
	for _, c := range criteria {
		q = c(q)
	}
	return q.String()
}

func (s *fakeStore[T]) match(sql string, paged bool) []T {
	rows := s.rows
	if m := pkPattern.FindStringSubmatch(sql); m != nil {
		id, _ := strconv.ParseInt(m[1], 10, 64)
		rows = nil
		for _, r := range s.rows {
			if s.idOf(r) == id {
				rows = append(rows, r)
			}
		}
	}
	if !paged {
		return rows
	}
	if m := offsetPattern.FindStringSubmatch(sql); m != nil {
		offset, _ := strconv.Atoi(m[1])
		if offset >= len(rows) {
			return nil
		}
		rows = rows[offset:]
	}
	if m := limitPattern.FindStringSubmatch(sql); m != nil {
		limit, _ := strconv.Atoi(m[1])
		if limit < len(rows) {
			rows = rows[:limit]
		}
	}
	return append([]T(nil), rows...)
}

func (s *fakeStore[T]) selectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.selects)
}

func (s *fakeStore[T]) countCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counts)
}

func (s *fakeStore[T]) lastSelect() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.selects) == 0 {
		return ""
	}
	return s.selects[len(s.selects)-1]
}

func (s *fakeStore[T]) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error) {
	sql := s.render(criteria, true)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selects = append(s.selects, sql)
	if s.err != nil {
		return nil, 0, s.err
	}
	return s.match(sql, true), len(s.match(sql, false)), nil
}

func (s *fakeStore[T]) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]T, int, error) {
	return s.List(ctx, criteria...)
}

func (s *fakeStore[T]) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	sql := s.render(criteria, false)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = append(s.counts, sql)
	if s.err != nil {
		return 0, s.err
	}
	return len(s.match(sql, false)), nil
}

func (s *fakeStore[T]) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	return s.Count(ctx, criteria...)
}

func (s *fakeStore[T]) Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return record, s.err
	}
	s.rows = append(s.rows, record)
	return record, nil
}

func (s *fakeStore[T]) CreateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.InsertCriteria) (T, error) {
	return s.Create(ctx, record, criteria...)
}

// Update builds the query the way the repository does, skipping zero values
// and restricting by primary key before the caller's criteria run.
func (s *fakeStore[T]) Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	q := s.db.NewUpdate().Model(record).OmitZero().WherePK()
	for _, c := range criteria {
		q = c(q)
	}
	query, err := q.AppendQuery(s.db.Formatter(), nil)
	if err != nil {
		return record, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, string(query))
	return record, s.err
}

func (s *fakeStore[T]) UpdateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	return s.Update(ctx, record, criteria...)
}

func (s *fakeStore[T]) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	var zero T
	q := s.db.NewDelete().Model(zero)
	for _, c := range criteria {
		q = c(q)
	}
	sql := q.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, sql)
	if s.err != nil {
		return s.err
	}
	if m := pkPattern.FindStringSubmatch(sql); m != nil {
		id, _ := strconv.ParseInt(m[1], 10, 64)
		kept := s.rows[:0]
		for _, r := range s.rows {
			if s.idOf(r) != id {
				kept = append(kept, r)
			}
		}
		s.rows = kept
	}
	return nil
}

func (s *fakeStore[T]) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	return s.DeleteWhere(ctx, criteria...)
}
