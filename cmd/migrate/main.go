package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/DarkDragonEl/commerce-sub000/internal/storage/postgres"
)

const commandTimeout = 30 * time.Second

// migrate применяет или откатывает миграции схемы commerce-сервиса.
func main() {
	var (
		direction string
		steps     int
		dsn       string
	)
	flag.StringVar(&direction, "direction", "up", "migration direction: up|down|status")
	flag.IntVar(&steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	flag.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: CS_POSTGRES_DSN)")
	flag.Parse()

	if strings.TrimSpace(dsn) == "" {
		dsn = strings.TrimSpace(os.Getenv("CS_POSTGRES_DSN"))
	}
	if dsn == "" {
		fail("CS_POSTGRES_DSN (or -dsn) is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	action := strings.ToLower(strings.TrimSpace(direction))
	switch action {
	case "up":
		err = store.MigrateUp(ctx, steps)
	case "down":
		err = store.MigrateDown(ctx, steps)
	case "status":
		// Только чтение статуса ниже.
	default:
		fail("unsupported direction: %s (use up|down|status)", direction)
	}
	if err != nil {
		fail("migrate %s failed: %v", action, err)
	}

	version, count, err := store.MigrationStatus(ctx)
	if err != nil {
		fail("migration status failed: %v", err)
	}
	if action == "status" {
		fmt.Printf("migration status: version=%d applied=%d\n", version, count)
		return
	}
	fmt.Printf("migrate %s ok: version=%d applied=%d\n", action, version, count)
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
