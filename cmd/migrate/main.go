package main

import (
	"bufio"
	"database/sql"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"plexledger/internal/config"
	"plexledger/internal/db"
	"plexledger/internal/logger"

	"github.com/jmoiron/sqlx"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (defaults to configs/<APP_ENV>.yaml)")
	dir := flag.String("dir", "migrations", "directory holding *.sql migrations")
	flag.Parse()

	log := logger.NewWithWriter(os.Stdout, "info")
	cfg, _, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	database, err := db.Connect(cfg.Database.URL, db.PoolOptions{MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		log.Error("failed to connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer database.Close()

	applied, err := migrate(database, *dir, log)
	if err != nil {
		log.Error("migration failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("migrations complete", slog.Int("applied", applied))
}

func migrate(database *sqlx.DB, dir string, log *slog.Logger) (int, error) {
	if _, err := database.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (filename text primary key, applied_at timestamptz default now())`); err != nil {
		return 0, err
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return 0, err
	}
	sort.Strings(files)

	applied := 0
	for _, file := range files {
		filename := filepath.Base(file)
		var exists bool
		if err := database.Get(&exists, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, filename); err != nil {
			return applied, err
		}
		if exists {
			continue
		}
		content, err := os.ReadFile(file)
		if err != nil {
			return applied, err
		}
		tx, err := database.Beginx()
		if err != nil {
			return applied, err
		}
		if err := applyUp(tx, string(content)); err != nil {
			_ = tx.Rollback()
			return applied, err
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (filename) VALUES ($1)`, filename); err != nil {
			_ = tx.Rollback()
			return applied, err
		}
		if err := tx.Commit(); err != nil {
			return applied, err
		}
		applied++
		log.Info("applied migration", slog.String("file", filename))
	}
	return applied, nil
}

// applyUp runs the statements above the Down marker; everything below it is ignored.
func applyUp(db execer, content string) error {
	up, _, _ := strings.Cut(content, "-- +migrate Down")
	for _, stmt := range splitSQL(up) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func splitSQL(sqlText string) []string {
	var statements []string
	var current strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(sqlText))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		current.WriteString(line)
		current.WriteRune('\n')
		if strings.Contains(line, ";") {
			statements = append(statements, current.String())
			current.Reset()
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		statements = append(statements, current.String())
	}
	return statements
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}
