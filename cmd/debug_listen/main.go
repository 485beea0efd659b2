package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"sync-bridge/core/config"
	"sync-bridge/core/database"
	"sync-bridge/core/engine"
	"sync-bridge/core/engine/gormstore"
	"sync-bridge/core/engine/memstore"
	"sync-bridge/core/engine/pgstore"

	"go.uber.org/zap"
)

// Tails the change feed of one table and prints every event as it arrives.
// Handy for checking that triggers fire and payloads survive the wire.
//
// Usage: go run ./cmd/debug_listen [table]
func main() {
	table := "notes"
	if len(os.Args) > 1 {
		table = os.Args[1]
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatal(err)
	}

	// Nop logger keeps stdout clean for the feed itself
	logg := zap.NewNop()

	var eng engine.Engine
	switch cfg.Database.Driver {
	case database.DriverPostgres:
		st, err := pgstore.Open(cfg.Database.PostgresDSN(), logg)
		if err != nil {
			log.Fatal(err)
		}
		eng = st
	case database.DriverMemory:
		eng = memstore.New()
	default:
		db, err := database.Connect(cfg.Database)
		if err != nil {
			log.Fatal(err)
		}
		eng = gormstore.New(db, logg)
	}
	defer eng.Close()

	// Ensure installs the notification plumbing; without the trigger the
	// feed would stay silent even for a table full of writes.
	ctx := context.Background()
	if err := eng.Table(table).Ensure(ctx); err != nil {
		log.Fatal(err)
	}

	if n, ok := eng.(engine.Notifier); ok {
		events, cancel, err := n.Subscribe(ctx, table)
		if err != nil {
			log.Fatal(err)
		}
		defer cancel()

		fmt.Printf("=== Listening on %q (channel %s) ===\n", table, engine.ChannelName(table))
		for ev := range events {
			stamp := time.Now().Format("15:04:05.000")
			if len(ev.Row) > 0 {
				fmt.Printf("%s  %-6s %s  %s\n", stamp, ev.Op, ev.Key, ev.Row)
			} else {
				fmt.Printf("%s  %-6s %s  (no post-image, consumer must re-fetch)\n", stamp, ev.Op, ev.Key)
			}
		}
		fmt.Println("feed closed")
		return
	}

	lq, ok := eng.(engine.LiveQuerier)
	if !ok {
		log.Fatalf("driver %q has neither notifications nor live queries", cfg.Database.Driver)
	}

	interval := time.Duration(cfg.Mirror.PollIntervalMS) * time.Millisecond
	ticks, cancel, err := lq.Live(ctx, table, interval)
	if err != nil {
		log.Fatal(err)
	}
	defer cancel()

	fmt.Printf("=== Polling %q every %s (driver has no row-level notifications) ===\n", table, interval)
	for range ticks {
		fmt.Printf("%s  change signal, table may differ\n", time.Now().Format("15:04:05.000"))
	}
	fmt.Println("feed closed")
}
