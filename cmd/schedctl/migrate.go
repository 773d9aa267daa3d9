package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the embedded schema migrations",
	}

	withMigrator := func(fn func(m *db.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.PostgresDSN == "" {
				return fmt.Errorf("POSTGRES_DSN is required")
			}
			m, err := db.NewMigrator(cfg.PostgresDSN)
			if err != nil {
				return err
			}
			defer m.Close()
			return fn(m)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: withMigrator(func(m *db.Migrator) error {
			if err := m.Up(); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		RunE: withMigrator(func(m *db.Migrator) error {
			if err := m.Down(); err != nil {
				return err
			}
			fmt.Println("migrations rolled back")
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: withMigrator(func(m *db.Migrator) error {
			v, dirty, err := m.Version()
			if err != nil {
				return err
			}
			fmt.Printf("version=%d dirty=%t\n", v, dirty)
			return nil
		}),
	})

	var forceVersion int
	forceCmd := &cobra.Command{
		Use:   "force VERSION",
		Short: "Mark a version as applied after a failed migration",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			forceVersion = v
			return nil
		},
		RunE: withMigrator(func(m *db.Migrator) error {
			return m.Force(forceVersion)
		}),
	}
	cmd.AddCommand(forceCmd)

	return cmd
}
