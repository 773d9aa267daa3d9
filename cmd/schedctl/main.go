package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "schedctl",
		Short:         "Operate the clinic scheduling database and query the engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().Int64("clinic", 0, "Clinic id")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(slotsCmd())
	rootCmd.AddCommand(conflictsCmd())
	rootCmd.AddCommand(assignCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// session is a read-only engine over the configured Postgres store.
type session struct {
	engine   *scheduling.Engine
	clinicID int64
	close    func()
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.StoreDriver != config.StorePostgres {
		return nil, fmt.Errorf("schedctl needs STORE_DRIVER=%s", config.StorePostgres)
	}
	clinicID, _ := cmd.Flags().GetInt64("clinic")
	if clinicID <= 0 {
		return nil, fmt.Errorf("--clinic is required")
	}
	loc, err := timeutil.LoadLocation(cfg.ClinicTimezone)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}

	logger := logging.InitWithWriter(os.Stderr, "schedctl", cfg.Env, cfg.LogLevel)
	engine := scheduling.NewEngine(scheduling.NewPgStore(pool), scheduling.EngineConfig{
		Location:               loc,
		SlotGranularityMinutes: cfg.SlotGranularityMinutes,
		Logger:                 logger,
	})
	return &session{engine: engine, clinicID: clinicID, close: pool.Close}, nil
}

func (s *session) date(raw string) (time.Time, error) {
	return timeutil.ParseDate(raw, s.engine.Location())
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
