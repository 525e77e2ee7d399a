package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"clearline/internal/audit"
	"clearline/internal/catalog"
	"clearline/internal/config"
	"clearline/internal/db"
	"clearline/internal/migrate"
	"clearline/internal/repo"
	"clearline/internal/workflow"
)

// App bundles everything a command or server needs: the open database, the
// seeded ledger and a ready engine.
type App struct {
	DB     *sql.DB
	Config *config.Config
	Engine *workflow.Engine
	Ledger *audit.Ledger
}

// Open wires the full stack for a workspace: database, migrations, catalog,
// audit ledger seeded from the sink, engine.
func Open(ctx context.Context, workspace string, logger *log.Logger) (*App, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	cat := catalog.Default()
	if cfg.Catalog.Path != "" {
		cat, err = catalog.FromFile(cfg.Catalog.Path)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("load catalog: %w", err)
		}
	}

	sink := repo.AuditSink{DB: conn}
	ledger := audit.New(sink, logger)
	seed, err := sink.ListAuditEntries(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("seed audit ledger: %w", err)
	}
	ledger.Seed(seed)

	eng := workflow.New(repo.Repo{DB: conn}, cat, ledger)
	eng.Logger = logger
	return &App{DB: conn, Config: cfg, Engine: eng, Ledger: ledger}, nil
}

// Close drains the ledger outbox and closes the database.
func (a *App) Close() error {
	a.Ledger.Close()
	return a.DB.Close()
}
