// Seed adds todos to the configured task store, marking every other one completed.
// Run from project root: go run ./scripts/seed -n 2000
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"todoapp/internal/config"
	"todoapp/internal/models"
	"todoapp/internal/repository"
)

func main() {
	total := flag.Int("n", 1000, "number of todos to insert")
	workers := flag.Int("c", 16, "concurrent inserts")
	flag.Parse()

	ctx := context.Background()
	store, err := repository.Open(ctx, config.Get())
	if err != nil {
		fmt.Fprintln(os.Stderr, "Task store unavailable:", err)
		os.Exit(1)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Schema failed:", err)
		os.Exit(1)
	}

	start := time.Now()
	var inserted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*workers)
	for i := 0; i < *total; i++ {
		i := i
		g.Go(func() error {
			todo := models.NewTodo(fmt.Sprintf("Todo %d", i+1))
			todo.IsCompleted = i%2 == 1
			if _, err := store.Insert(gctx, todo.ToRecord()); err != nil {
				return err
			}
			if n := inserted.Add(1); n%100 == 0 {
				fmt.Printf("\rInserted %d / %d", n, *total)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintln(os.Stderr, "\nInsert failed:", err)
		os.Exit(1)
	}

	fmt.Printf("\nDone: %d todos in %v\n", inserted.Load(), time.Since(start))
}
