package main

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"gestureguard/internal/config"
	"gestureguard/internal/store"
)

var (
	rollbackYes bool
	initForce   bool
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect or change the gesture database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the schema version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSchemaDB(func(db *sql.DB) error {
				st, err := store.GetMigrationStatus(db)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "schema version %d of %d\n", st.CurrentVersion, st.LatestVersion)
				for _, m := range st.Pending {
					fmt.Fprintf(out, "pending %04d %s\n", m.Version, m.Description)
				}
				if err := store.ValidateSchema(db); err != nil {
					fmt.Fprintf(out, "schema incomplete: %v\n", err)
				} else {
					fmt.Fprintln(out, "schema ok")
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSchemaDB(func(db *sql.DB) error {
				if err := store.MigrateDB(db); err != nil {
					return err
				}
				if err := store.ValidateSchema(db); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	})

	rollback := &cobra.Command{
		Use:   "rollback",
		Short: "Revert the newest applied migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !rollbackYes {
				return errors.New("refusing to roll back without --yes")
			}
			return withSchemaDB(func(db *sql.DB) error {
				if err := store.RollbackMigration(db); err != nil {
					return err
				}
				st, err := store.GetMigrationStatus(db)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back to schema version %d\n", st.CurrentVersion)
				return nil
			})
		},
	}
	rollback.Flags().BoolVarP(&rollbackYes, "yes", "y", false, "confirm the rollback")
	cmd.AddCommand(rollback)

	return cmd
}

// withSchemaDB opens the configured database without migrating it.
func withSchemaDB(fn func(*sql.DB) error) error {
	loader, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer loader.Close()

	db, err := store.OpenDB(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file unless one exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.ConfigPath()
			}
			if initForce {
				if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
				return nil
			}
			cfg, created, err := config.LoadOrCreate(path)
			if err != nil {
				return err
			}
			verb := "using existing"
			if created {
				verb = "created"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (storage %s)\n", verb, path, cfg.Storage.Path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file with the defaults")
	return cmd
}
