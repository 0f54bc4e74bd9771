package option

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/rentfolio/rentfolio/pkg/db/pagination"
)

// QueryOption mutates a gorm statement. Repositories apply options in
// the order given.
type QueryOption interface {
	Apply(*gorm.DB) *gorm.DB
}

type optionFunc func(*gorm.DB) *gorm.DB

func (f optionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

type Operator string

const (
	EQ  Operator = "="
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

// Condition is a single field comparison appended to the WHERE clause.
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

func ApplyOperator(cond Condition) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		field := strings.TrimSpace(cond.Field)
		if field == "" {
			return db
		}
		op := cond.Operator
		if op == "" {
			op = EQ
		}
		return db.Where(fmt.Sprintf("%s %s ?", field, op), cond.Value)
	})
}

// QuerySortBy orders results by a caller-requested column, constrained
// to an allow-list. Unknown or disallowed columns fall back to the
// stable default ordering.
type QuerySortBy struct {
	Allow  map[string]bool
	SortBy string
	Desc   bool
}

func WithSortBy(sort QuerySortBy) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		column := strings.TrimSpace(sort.SortBy)
		if column == "" || !sort.Allow[column] {
			return db.Order("created_at desc, id desc")
		}
		direction := "asc"
		if sort.Desc {
			direction = "desc"
		}
		return db.Order(fmt.Sprintf("%s %s, id desc", column, direction))
	})
}

// ApplyPagination decodes the cursor token and limits the statement to
// pageSize+1 rows; the extra row tells the caller whether more pages
// exist. Rows are expected to be ordered created_at desc, id desc.
func ApplyPagination(page pagination.Pagination) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		size := page.PageSize
		if size <= 0 {
			size = 10
		}
		if size > 250 {
			size = 250
		}

		if token := strings.TrimSpace(page.PageToken); token != "" {
			cursor, err := pagination.DecodeCursor(token)
			if err == nil && cursor != nil {
				db = db.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
					cursor.CreatedAt,
					cursor.CreatedAt,
					cursor.ID,
				)
			}
		}

		return db.Limit(size + 1)
	})
}
