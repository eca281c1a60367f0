package cmd

import (
	"fmt"
	"log"

	"github.com/smoradi/webhook-notifier/internal/config"
	"github.com/smoradi/webhook-notifier/internal/db"
	"github.com/smoradi/webhook-notifier/internal/model"
	"github.com/smoradi/webhook-notifier/internal/repository"
	"github.com/smoradi/webhook-notifier/internal/signature"
	"github.com/smoradi/webhook-notifier/internal/util"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with a demo webhook endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		secret, err := signature.GenerateSecret()
		if err != nil {
			return fmt.Errorf("generate secret: %w", err)
		}

		endpoints := repository.NewEndpointsRepository(sqlDB)
		demo := model.EndpointConfig{
			ID:               util.NewID(),
			TenantID:         "tenant-demo",
			URL:              "http://127.0.0.1:9999/webhook",
			Secret:           secret,
			Enabled:          true,
			SubscribedEvents: model.EventTypes(),
			TimeoutMs:        5000,
		}
		if err := endpoints.Insert(cmd.Context(), demo); err != nil {
			return fmt.Errorf("insert demo endpoint: %w", err)
		}

		log.Printf(">> Seeded endpoint id=%s tenant=%s secret=%s", demo.ID, demo.TenantID, secret)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
