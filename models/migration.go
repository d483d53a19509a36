package models

import (
	"bitbucket.org/mmdatafocus/backoffice_backend/config"
	"bitbucket.org/mmdatafocus/backoffice_backend/utils"
)

// MigrateTable runs AutoMigrate for every model in dependency order.
func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&User{},
		&Item{},
		&Warehouse{},
		&Account{},
		&Order{},
		&LineItem{},
		&BatchLineItem{},
		&SerialLineItem{},
		&StockSummary{},
		&Payment{},
		&AccountEntry{},
		&StatusHistory{},
	)
	utils.ErrorPanic(err)
}
