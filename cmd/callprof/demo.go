package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fllarpy/callprof"
	"github.com/fllarpy/callprof/infrastructure/sink"
	sqlinstrumentation "github.com/fllarpy/callprof/instrumentation/sql"
	"github.com/fllarpy/callprof/internal/host"
)

func newDemoCmd(load configLoader) *cobra.Command {
	var (
		threads int
		frames  int
		format  string
		withDB  bool
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Profile a synthetic workload and print the report",
		Long: `Run a small game-loop style workload on several goroutines, optionally
followed by traced SQLite queries, and print one report to stdout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if format != "" {
				cfg.Format = format
			}

			out, err := sink.NewStream(os.Stdout, cfg.Format)
			if err != nil {
				return err
			}
			goroutines := host.NewGoroutines()
			p, err := callprof.New(cfg, goroutines, callprof.WithSink(out))
			if err != nil {
				return fmt.Errorf("failed to create profiler: %w", err)
			}

			if err := runGameLoop(cmd.Context(), p, goroutines, threads, frames); err != nil {
				return err
			}
			if withDB {
				if err := runQueries(cmd.Context(), p, cfg.ServiceName); err != nil {
					return err
				}
			}
			return p.Shutdown(cmd.Context())
		},
	}

	cmd.Flags().IntVar(&threads, "threads", 4, "number of worker goroutines")
	cmd.Flags().IntVar(&frames, "frames", 50, "frames simulated per worker")
	cmd.Flags().StringVar(&format, "format", "table", "report format: csv, table, json or pprof")
	cmd.Flags().BoolVar(&withDB, "db", true, "also profile traced SQLite queries")
	return cmd
}

// runGameLoop simulates an engine calling Update, Physics and Render.
func runGameLoop(ctx context.Context, p *callprof.Profiler, symbols *host.Goroutines, threads, frames int) error {
	update := symbols.Intern("Game.Update")
	physics := symbols.Intern("Physics.Step")
	render := symbols.Intern("Renderer.Draw")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < threads; i++ {
		seed := int64(i)
		g.Go(func() error {
			defer p.ThreadExit()
			rng := rand.New(rand.NewSource(seed))
			for f := 0; f < frames; f++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				p.Enter(update)

				p.Enter(physics)
				time.Sleep(time.Duration(rng.Intn(200)) * time.Microsecond)
				p.Leave(physics)

				p.Enter(render)
				_ = strings.Repeat("#", 256+rng.Intn(4096))
				time.Sleep(time.Duration(rng.Intn(400)) * time.Microsecond)
				p.Leave(render)

				p.Leave(update)
			}
			return nil
		})
	}
	return g.Wait()
}

// runQueries seeds and reads a throwaway in-memory database under one trace.
func runQueries(ctx context.Context, p *callprof.Profiler, serviceName string) error {
	tp, err := p.NewTracerProvider(serviceName, version)
	if err != nil {
		return err
	}

	db, err := sqlinstrumentation.Open("sqlite3", "file:callprof-demo?mode=memory&cache=shared", "sqlite", tp)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, span := tp.Tracer("callprof/demo").Start(ctx, "Demo.Queries")
	defer span.End()

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS scores (id INTEGER PRIMARY KEY, player TEXT, points INTEGER)`); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	for i := 0; i < 20; i++ {
		if _, err := db.ExecContext(ctx, `INSERT INTO scores (player, points) VALUES (?, ?)`, fmt.Sprintf("player%d", i), i*10); err != nil {
			return fmt.Errorf("failed to insert score: %w", err)
		}
	}
	var best int
	if err := db.QueryRowContext(ctx, `SELECT MAX(points) FROM scores`).Scan(&best); err != nil {
		return fmt.Errorf("failed to query scores: %w", err)
	}
	return nil
}
