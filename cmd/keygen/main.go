// Command keygen generates an opaque API key for the monitor's HTTP surface.
// With -org it also stores the key for that organization.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/mlop-ai/monitor/internal/auth"
	"github.com/mlop-ai/monitor/internal/config"
	"github.com/mlop-ai/monitor/internal/model"
	"github.com/mlop-ai/monitor/internal/storage"
)

func main() {
	org := flag.String("org", "", "organization id to store the key for")
	name := flag.String("name", "", "key name")
	expires := flag.Duration("expires", 0, "key lifetime (0 = never expires)")
	flag.Parse()

	raw, err := model.GenerateRawKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		os.Exit(1)
	}

	if *org == "" {
		fmt.Println(raw)
		return
	}

	if err := store(raw, *org, *name, *expires); err != nil {
		fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(raw)
}

func store(raw, org, name string, lifetime time.Duration) error {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := storage.New(ctx, cfg.DatabaseURL, slog.Default())
	if err != nil {
		return err
	}
	defer db.Close()

	key := model.APIKey{
		Key:   auth.NormalizeKey(raw),
		Name:  name,
		OrgID: org,
	}
	if lifetime > 0 {
		exp := time.Now().UTC().Add(lifetime)
		key.ExpiresAt = &exp
	}
	stored, err := db.CreateAPIKey(ctx, key)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "stored key %d for organization %s\n", stored.ID, org)
	return nil
}
