// Command migrate-tokens encrypts OAuth tokens that were stored before
// ENCRYPTION_KEY was configured (encryption_version=0).
//
// Usage:
//
//	migrate-tokens [--dry-run] [--provider twitch]
//
// DB_DSN and ENCRYPTION_KEY are read from the environment (or .env).
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/mod-tender/crypto"
	"github.com/onnwee/mod-tender/db"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "list the tokens that would be encrypted without changing them")
	provider := flag.String("provider", "", "only encrypt the token of this provider")
	flag.Parse()

	_ = godotenv.Load(".env")
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	key := os.Getenv("ENCRYPTION_KEY")
	if key == "" {
		slog.Error("ENCRYPTION_KEY environment variable is required")
		os.Exit(1)
	}
	enc, err := crypto.NewAESEncryptor(key)
	if err != nil {
		slog.Error("failed to initialize encryptor", slog.Any("err", err))
		os.Exit(1)
	}

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = db.DefaultDSN
	}
	database, err := db.Connect(dsn)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("err", err))
		os.Exit(1)
	}
	defer database.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := run(ctx, db.NewTokenStore(database, enc), *provider, *dryRun); err != nil {
		slog.Error("token migration failed", slog.Any("err", err))
		os.Exit(1)
	}
}

type tokenMigrator interface {
	EncryptPlaintext(ctx context.Context, provider string, dryRun bool) ([]string, error)
	EncryptionStatus(ctx context.Context) (map[int]int, error)
}

func run(ctx context.Context, store tokenMigrator, provider string, dryRun bool) error {
	done, err := store.EncryptPlaintext(ctx, provider, dryRun)
	for _, p := range done {
		if dryRun {
			slog.Info("would encrypt token (dry-run)", slog.String("provider", p))
		} else {
			slog.Info("encrypted token", slog.String("provider", p))
		}
	}
	if err != nil {
		return err
	}
	if len(done) == 0 {
		slog.Info("no plaintext tokens found")
	}

	status, err := store.EncryptionStatus(ctx)
	if err != nil {
		return err
	}
	slog.Info("token encryption status", slog.Int("plaintext", status[0]), slog.Int("encrypted", status[1]), slog.Bool("dry_run", dryRun))
	return nil
}
