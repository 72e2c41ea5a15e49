package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/database/postgres"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
)

// migrator is the part of postgres.Migrator the commands use.
type migrator interface {
	Up() error
	Down(steps int) error
	Status() (version uint, dirty bool, err error)
	Force(version int) error
	Close() error
}

var openMigrator = func(dbURL, dir string) (migrator, error) {
	return postgres.NewMigrator(dbURL, dir)
}

func newMigrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the run record schema in Postgres",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "migrations directory (default: database.postgres.migration_path)")

	withMigrator := func(fn func(cmd *cobra.Command, m migrator, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			pg := cliCtx.Config.Database.Postgres
			d := dir
			if d == "" {
				d = pg.MigrationPath
			}
			m, err := openMigrator(postgres.URL(pg), d)
			if err != nil {
				return err
			}
			defer func() {
				if err := m.Close(); err != nil {
					cliCtx.Logger.Warn("close migrator failed", logging.Err(err))
				}
			}()
			return fn(cmd, m, args)
		}
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
			if err := m.Down(steps); err != nil {
				return err
			}
			return printStatus(cmd, m)
		}),
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply every pending migration",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
				if err := m.Up(); err != nil {
					return err
				}
				return printStatus(cmd, m)
			}),
		},
		down,
		&cobra.Command{
			Use:   "status",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
				return printStatus(cmd, m)
			}),
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the schema version without running migrations and clear the dirty flag",
			Args:  cobra.ExactArgs(1),
			RunE: withMigrator(func(cmd *cobra.Command, m migrator, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				if err := m.Force(v); err != nil {
					return err
				}
				return printStatus(cmd, m)
			}),
		},
	)
	return cmd
}

type migrationStatus struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
}

func (s migrationStatus) String() string {
	return fmt.Sprintf("version %d, dirty %t", s.Version, s.Dirty)
}

func (s migrationStatus) TableHeaders() []string { return []string{"Version", "Dirty"} }
func (s migrationStatus) TableRows() [][]string {
	return [][]string{{strconv.FormatUint(uint64(s.Version), 10), strconv.FormatBool(s.Dirty)}}
}

func printStatus(cmd *cobra.Command, m migrator) error {
	v, dirty, err := m.Status()
	if err != nil {
		return err
	}
	return PrintResult(cmd, migrationStatus{Version: v, Dirty: dirty})
}
