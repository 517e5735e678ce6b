package store

import (
	"fmt"
	"strconv"
	"strings"
)

// dialect captures the syntax differences between the supported engines.
type dialect struct {
	name       string
	quote      func(ident string) string
	positional bool // $1, $2 instead of ?
	// tables renames tables whose MediaWiki name differs on this engine.
	tables map[string]string
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverDuckDB:
		return dialect{name: driver, quote: doubleQuote}, nil
	case DriverMySQL:
		return dialect{name: driver, quote: backtick}, nil
	case DriverPostgres:
		// "user" is reserved in PostgreSQL; MediaWiki names the table mwuser.
		return dialect{name: driver, quote: doubleQuote, positional: true,
			tables: map[string]string{"user": "mwuser"}}, nil
	default:
		return dialect{}, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}

func (d dialect) table(name string) string {
	if t, ok := d.tables[name]; ok {
		return t
	}
	return name
}

func doubleQuote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func backtick(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

// args accumulates bind parameters and renders the matching placeholders.
type args struct {
	d    dialect
	vals []interface{}
}

func (a *args) add(v interface{}) string {
	a.vals = append(a.vals, v)
	if a.d.positional {
		return "$" + strconv.Itoa(len(a.vals))
	}
	return "?"
}
