package migrations

import (
	"fmt"

	"gorm.io/gorm"
)

// futuresBackfills are the nullable legacy columns that AutoMigrate turns
// into NOT NULL ones. Existing NULLs must be filled first or the ALTER fails.
var futuresBackfills = []struct {
	Table  string
	Column string
	Value  interface{}
}{
	{Table: "trading_orders", Column: "leverage", Value: 1},
	{Table: "trading_api_keys", Column: "futures_enabled", Value: true},
	{Table: "trading_api_keys", Column: "default_leverage", Value: 3},
	{Table: "trading_api_keys", Column: "default_margin_type", Value: "ISOLATED"},
}

// PrepareFuturesColumns backfills futures columns on schemas created before
// futures trading existed. Fresh databases are left untouched.
func PrepareFuturesColumns(db *gorm.DB) error {
	m := db.Migrator()
	for _, b := range futuresBackfills {
		if !m.HasTable(b.Table) || !m.HasColumn(b.Table, b.Column) {
			continue
		}

		res := db.Table(b.Table).
			Where(b.Column + " IS NULL").
			Update(b.Column, b.Value)
		if res.Error != nil {
			return fmt.Errorf("backfill %s.%s: %w", b.Table, b.Column, res.Error)
		}
	}
	return nil
}
