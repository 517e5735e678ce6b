package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/wikimannia/refreshstats/internal/model"
)

// queryCtx derives a context bounded by the store's query timeout.
func (s *Store) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, s.QueryTimeout)
}

// table returns the quoted, prefixed name of a table.
func (s *Store) table(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("%w: table %q", ErrInvalidIdentifier, name)
	}
	return s.dialect.quote(s.prefix + s.dialect.table(name)), nil
}

func (s *Store) column(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("%w: column %q", ErrInvalidIdentifier, name)
	}
	return s.dialect.quote(name), nil
}

func (s *Store) summaryColumn(field string) (string, error) {
	if !model.IsSummaryField(field) {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return s.dialect.quote(field), nil
}

// countQuery renders the COUNT(*) statement for src.
func (s *Store) countQuery(src model.Source) (string, []interface{}, error) {
	tbl, err := s.table(src.Table)
	if err != nil {
		return "", nil, err
	}

	a := &args{d: s.dialect}
	var conds []string
	for _, p := range src.Where {
		col, err := s.column(p.Column)
		if err != nil {
			return "", nil, err
		}
		if len(p.Values) == 0 {
			return "", nil, fmt.Errorf("store: predicate on %s has no values", p.Column)
		}
		if len(p.Values) == 1 {
			conds = append(conds, col+" = "+a.add(p.Values[0]))
			continue
		}
		phs := make([]string, len(p.Values))
		for i, v := range p.Values {
			phs[i] = a.add(v)
		}
		conds = append(conds, col+" IN ("+strings.Join(phs, ", ")+")")
	}

	query := "SELECT COUNT(*) FROM " + tbl
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	return query, a.vals, nil
}

// CountRows counts the rows of src matching its predicates.
func (s *Store) CountRows(ctx context.Context, src model.Source) (int64, error) {
	query, vals, err := s.countQuery(src)
	if err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var count int64
	if err := s.db.QueryRowContext(ctx, query, vals...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", src.Table, err)
	}
	return count, nil
}

// SummaryValue reads one cached counter from the summary record. NULL reads as 0.
func (s *Store) SummaryValue(ctx context.Context, field string) (int64, error) {
	col, err := s.summaryColumn(field)
	if err != nil {
		return 0, err
	}
	tbl, err := s.table(model.SummaryTable)
	if err != nil {
		return 0, err
	}

	a := &args{d: s.dialect}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		col, tbl, s.dialect.quote(model.SummaryKey), a.add(model.SummaryRowID))

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query, a.vals...).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNoSummaryRow
		}
		return 0, fmt.Errorf("read %s: %w", field, err)
	}
	return v.Int64, nil
}

// CompareAndSetSummary writes value into field in a single statement, but
// only while the field still holds expected or NULL. A concurrent writer that
// already moved the field leaves it untouched and zero rows are affected.
func (s *Store) CompareAndSetSummary(ctx context.Context, field string, expected, value int64) (int64, error) {
	col, err := s.summaryColumn(field)
	if err != nil {
		return 0, err
	}
	tbl, err := s.table(model.SummaryTable)
	if err != nil {
		return 0, err
	}

	a := &args{d: s.dialect}
	setPH := a.add(value)
	keyPH := a.add(model.SummaryRowID)
	expPH := a.add(expected)
	query := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = %s AND (%s = %s OR %s IS NULL)",
		tbl, col, setPH, s.dialect.quote(model.SummaryKey), keyPH, col, expPH, col)

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, query, a.vals...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", field, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report it; the caller re-reads anyway.
		return -1, nil
	}
	return n, nil
}
