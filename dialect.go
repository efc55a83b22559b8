package bgmigration

import (
	"strconv"
	"strings"
)

// Dialect renders the SQL fragments that differ between the supported stores
type Dialect interface {
	Name() string
	Placeholder(n int) string
	QuoteIdent(ident string) string
}

var (
	MySQL    Dialect = mysqlDialect{}
	Postgres Dialect = postgresDialect{}
	SQLite   Dialect = sqliteDialect{}
)

// DialectFor returns the dialect of a database/sql driver name
func DialectFor(driver string) (Dialect, bool) {
	switch driver {
	case "mysql":
		return MySQL, true
	case "pgx", "postgres", "postgresql":
		return Postgres, true
	case "sqlite", "sqlite3":
		return SQLite, true
	}
	return nil, false
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return "mysql" }

func (mysqlDialect) Placeholder(int) string { return "?" }

func (mysqlDialect) QuoteIdent(ident string) string { return quoteParts(ident, "`") }

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) QuoteIdent(ident string) string { return quoteParts(ident, `"`) }

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) QuoteIdent(ident string) string { return quoteParts(ident, `"`) }

func quoteParts(ident, q string) string {
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = q + strings.ReplaceAll(p, q, q+q) + q
	}
	return strings.Join(parts, ".")
}

// argList collects positional arguments and renders their placeholders
type argList struct {
	dialect Dialect
	args    []interface{}
}

func (a *argList) add(v interface{}) string {
	a.args = append(a.args, v)
	return a.dialect.Placeholder(len(a.args))
}
