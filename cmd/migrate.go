package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/smoradi/webhook-notifier/internal/config"
	"github.com/smoradi/webhook-notifier/internal/db"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations (dev: DROP & CREATE tables)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		opts := db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		}
		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, opts)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer sqlDB.Close()

		sqlPath := filepath.Join("migrations", "001_init.sql")
		sqlBytes, err := os.ReadFile(sqlPath)
		if err != nil {
			return fmt.Errorf("read migration file %s: %w", sqlPath, err)
		}

		if _, err := sqlDB.Exec(string(sqlBytes)); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}

		if cfg.ClickHouse.DSN != "" {
			chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
				DSN:         cfg.ClickHouse.DSN,
				PingTimeout: cfg.ClickHouse.PingTimeout,
			})
			if err != nil {
				return fmt.Errorf("clickhouse connect: %w", err)
			}
			defer chDB.Close()

			chPath := filepath.Join("migrations", "clickhouse_001_init.sql")
			chBytes, err := os.ReadFile(chPath)
			if err != nil {
				return fmt.Errorf("read migration file %s: %w", chPath, err)
			}
			if _, err := chDB.Exec(string(chBytes)); err != nil {
				return fmt.Errorf("exec clickhouse migration: %w", err)
			}
		}

		fmt.Println(">> Migration complete")
		return nil
	},
}
