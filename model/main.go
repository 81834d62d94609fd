package model

import (
	"os"
	"strings"
	"time"

	"github.com/relayhub/relayhub/common"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDB opens the account store. SQL_DSN selects the backend: postgres:// or
// mysql DSNs use the matching driver, anything else (including empty) falls
// back to a local sqlite file, as the zero-config default.
func InitDB() (err error) {
	dsn := os.Getenv("SQL_DSN")

	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		common.SysLog("using PostgreSQL as database")
		dialector = postgres.Open(dsn)
	case dsn != "":
		common.SysLog("using MySQL as database")
		dialector = mysql.Open(dsn)
	default:
		path := common.GetEnvOrDefaultString("SQLITE_PATH", "relayhub.db")
		common.SysLog("SQL_DSN not set, using SQLite as database: " + path)
		dialector = sqlite.Open(path)
	}

	DB, err = gorm.Open(dialector, &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Silent),
		PrepareStmt: true,
	})
	if err != nil {
		return err
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxIdleConns(common.GetEnvOrDefault("SQL_MAX_IDLE_CONNS", 100))
	sqlDB.SetMaxOpenConns(common.GetEnvOrDefault("SQL_MAX_OPEN_CONNS", 1000))
	sqlDB.SetConnMaxLifetime(time.Second * time.Duration(common.GetEnvOrDefault("SQL_MAX_LIFETIME", 60)))

	common.SysLog("database migration started")
	if err = DB.AutoMigrate(&Account{}); err != nil {
		return err
	}
	common.SysLog("database migrated")
	return nil
}

func CloseDB() error {
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
