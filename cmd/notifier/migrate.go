package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/artisanmart/notifier/internal/templates"
)

const migrateTimeout = 2 * time.Minute

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply template store migrations and load the template catalogue",
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, log, err := bootstrap("migrate")
	if err != nil {
		return err
	}
	if cfg.Templates.DatabaseURL == "" {
		err := errors.New("DATABASE_URL is required for migrate")
		log.Error().Err(err).Msg("migrate aborted")
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), migrateTimeout)
	defer cancel()

	db, err := templates.OpenPostgres(ctx, cfg.Templates.DatabaseURL)
	if err != nil {
		log.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer db.Close()

	if err := templates.Migrate(ctx, db); err != nil {
		log.Error().Err(err).Msg("migration failed")
		return err
	}
	log.Info().Msg("template store migrated")

	if cfg.Templates.File == "" {
		return nil
	}
	tpls, err := templates.LoadFile(cfg.Templates.File)
	if err != nil {
		log.Error().Err(err).Msg("failed to read template catalogue")
		return err
	}
	store, err := templates.NewPostgresStore(db)
	if err != nil {
		return err
	}
	for _, t := range tpls {
		if err := store.Put(ctx, t); err != nil {
			log.Error().Err(err).Str("template", t.Name).Msg("failed to load template")
			return err
		}
	}
	log.Info().Int("templates", len(tpls)).Str("file", cfg.Templates.File).Msg("template catalogue loaded")
	return nil
}
