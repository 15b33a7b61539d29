package db

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ForUpdate applies a row-level write lock to the statement.
//
// SQLite serializes writers on its own and rejects FOR UPDATE syntax, so the
// clause is skipped there; tests run on sqlite, production on postgres/mysql.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector != nil && tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
