package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fllarpy/callprof"
	"github.com/fllarpy/callprof/config"
	httpinstrumentation "github.com/fllarpy/callprof/instrumentation/http"
	sqlinstrumentation "github.com/fllarpy/callprof/instrumentation/sql"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.ServiceName = "hybrid-service"
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 30 * time.Second
	}

	goroutines := callprof.GoroutineHost()
	profiler, err := callprof.New(cfg, goroutines)
	if err != nil {
		log.Fatalf("failed to initialize profiler: %v", err)
	}
	profiler.Start()
	defer func() {
		if err := profiler.Shutdown(context.Background()); err != nil {
			log.Printf("final report failed: %v", err)
		}
	}()

	tp, err := profiler.NewTracerProvider(cfg.ServiceName, "1.0.0")
	if err != nil {
		log.Fatalf("failed to create tracer provider: %v", err)
	}

	db, err := sqlinstrumentation.Open("sqlite3", "file:example?cache=shared&mode=memory", "sqlite", tp)
	if err != nil {
		log.Fatalf("failed to open instrumented db connection: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS users (id INTEGER PRIMARY KEY, name TEXT)`); err != nil {
		log.Fatalf("failed to create table: %v", err)
	}

	fib := goroutines.Intern("example.fibonacci")

	mux := http.NewServeMux()
	mux.HandleFunc("/", helloHandler)
	mux.HandleFunc("/db", dbHandler(db))
	mux.HandleFunc("/slow", slowHandler)
	mux.HandleFunc("/fib", fibHandler(profiler, fib))
	mux.Handle("/debug/callprof/", http.StripPrefix("/debug/callprof", profiler.Handler()))

	server := &http.Server{
		Addr:              ":8080",
		Handler:           httpinstrumentation.NewMiddleware(mux, "http-server", tp),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("Starting server for service '%s' on :8080", cfg.ServiceName)
		log.Println("Test endpoint: http://localhost:8080/")
		log.Println("DB test endpoint: http://localhost:8080/db")
		log.Println("Slow endpoint: http://localhost:8080/slow")
		log.Println("Profiled computation: http://localhost:8080/fib")
		log.Println("Report history: http://localhost:8080/debug/callprof/report")
		log.Println("Force a report: curl -X POST http://localhost:8080/debug/callprof/flush")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("could not start server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func helloHandler(w http.ResponseWriter, r *http.Request) {
	time.Sleep(50 * time.Millisecond)
	fmt.Fprintln(w, "Hello, from the hybrid server!")
}

func slowHandler(w http.ResponseWriter, r *http.Request) {
	time.Sleep(600 * time.Millisecond)
	fmt.Fprintln(w, "This was a slow request.")
}

func dbHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		row := db.QueryRowContext(ctx, "SELECT 'John Doe' as name")
		var name string
		if err := row.Scan(&name); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "User name from DB: %s\n", name)
	}
}

// fibHandler instruments a recursive function by hand on the request goroutine.
func fibHandler(p *callprof.Profiler, method callprof.MethodID) http.HandlerFunc {
	var fibonacci func(n int) int
	fibonacci = func(n int) int {
		p.Enter(method)
		defer p.Leave(method)
		if n < 2 {
			return n
		}
		return fibonacci(n-1) + fibonacci(n-2)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		defer p.ThreadExit()
		fmt.Fprintf(w, "fib(20) = %d\n", fibonacci(20))
	}
}
