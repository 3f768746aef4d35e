package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"reputation_hub/internal/adapters/observability"
	"reputation_hub/internal/shared"
	"reputation_hub/internal/storage/sqldb"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "usage: migrate up|down|version")
	}
	flag.Parse()
	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}

	cfg := shared.Load()
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	db, err := sqldb.Open(context.Background(), cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database open failed")
	}
	defer db.Close()

	mg, err := sqldb.NewMigrator(db, cfg.DBDriver)
	if err != nil {
		log.Fatal().Err(err).Msg("migrator init failed")
	}

	switch cmd {
	case "up":
		err = mg.Up()
	case "down":
		err = mg.Down()
	case "version":
		v, dirty, verr := mg.Version()
		if verr == nil {
			log.Info().Uint("version", v).Bool("dirty", dirty).Msg("schema version")
		}
		err = verr
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Str("cmd", cmd).Msg("migration failed")
	}
	log.Info().Str("cmd", cmd).Msg("migration done")
}
