package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/wikimannia/refreshstats/internal/model"
)

// Page is a minimal page row.
type Page struct {
	Namespace int64
	Title     string
	Redirect  bool
}

// InsertPages appends rows to the page table.
func (s *Store) InsertPages(ctx context.Context, pages []Page) error {
	rows := make([][]interface{}, 0, len(pages))
	for _, p := range pages {
		redirect := 0
		if p.Redirect {
			redirect = 1
		}
		rows = append(rows, []interface{}{p.Namespace, p.Title, redirect})
	}
	return s.insertRows(ctx, "page", "page_id",
		[]string{"page_namespace", "page_title", "page_is_redirect"}, rows)
}

// InsertImages appends rows to the image table.
func (s *Store) InsertImages(ctx context.Context, names ...string) error {
	rows := make([][]interface{}, 0, len(names))
	for _, n := range names {
		rows = append(rows, []interface{}{n})
	}
	return s.insertRows(ctx, "image", "", []string{"img_name"}, rows)
}

// InsertUsers appends rows to the user table.
func (s *Store) InsertUsers(ctx context.Context, names ...string) error {
	rows := make([][]interface{}, 0, len(names))
	for _, n := range names {
		rows = append(rows, []interface{}{n})
	}
	return s.insertRows(ctx, "user", "user_id", []string{"user_name"}, rows)
}

// SetSummary overwrites a cached counter unconditionally.
func (s *Store) SetSummary(ctx context.Context, field string, value int64) error {
	col, err := s.summaryColumn(field)
	if err != nil {
		return err
	}
	tbl, err := s.table(model.SummaryTable)
	if err != nil {
		return err
	}

	key := s.dialect.quote(model.SummaryKey)
	a := &args{d: s.dialect}
	query := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = %s",
		tbl, col, a.add(value), key, a.add(model.SummaryRowID))

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, query, a.vals...)
	if err != nil {
		return fmt.Errorf("set %s: %w", field, err)
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return nil
	}

	// MySQL reports changed rows, so rewriting the current value affects
	// none. Only a missing record is an error.
	ka := &args{d: s.dialect}
	exists := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = %s", tbl, key, ka.add(model.SummaryRowID))
	var one int
	if err := s.db.QueryRowContext(ctx, exists, ka.vals...).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoSummaryRow
		}
		return fmt.Errorf("set %s: %w", field, err)
	}
	return nil
}

// insertRows writes rows in one transaction. When idCol is set, ids are
// allocated after the current maximum.
func (s *Store) insertRows(ctx context.Context, name, idCol string, cols []string, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := s.table(name)
	if err != nil {
		return err
	}

	allCols := cols
	if idCol != "" {
		allCols = append([]string{idCol}, cols...)
	}
	quoted := make([]string, len(allCols))
	for i, c := range allCols {
		if quoted[i], err = s.column(c); err != nil {
			return err
		}
	}
	a := &args{d: s.dialect}
	phs := make([]string, len(allCols))
	for i := range allCols {
		phs[i] = a.add(nil)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", tbl, strings.Join(quoted, ", "), strings.Join(phs, ", "))

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert %s: begin: %w", name, err)
	}
	defer tx.Rollback()

	var next int64
	if idCol != "" {
		var maxID sql.NullInt64
		q := fmt.Sprintf("SELECT MAX(%s) FROM %s", quoted[0], tbl)
		if err := tx.QueryRowContext(ctx, q).Scan(&maxID); err != nil {
			return fmt.Errorf("insert %s: max id: %w", name, err)
		}
		next = maxID.Int64 + 1
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("insert %s: prepare: %w", name, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		vals := row
		if idCol != "" {
			vals = append([]interface{}{next}, row...)
			next++
		}
		if _, err := stmt.ExecContext(ctx, vals...); err != nil {
			return fmt.Errorf("insert %s: %w", name, err)
		}
	}
	return tx.Commit()
}
