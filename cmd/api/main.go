package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"leadflow.org/internal/auth"
	"leadflow.org/internal/crm"
	"leadflow.org/internal/httpapi"
	"leadflow.org/internal/hub"
	"leadflow.org/internal/obs"
	"leadflow.org/internal/session"
	"leadflow.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	if os.Getenv("LEADFLOW_AUTH_SECRET") == "" {
		log.Fatal("missing LEADFLOW_AUTH_SECRET")
	}

	addr := os.Getenv("LEADFLOW_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	// Persistent storage when a DSN is configured, in-memory otherwise.
	var (
		db        *sql.DB
		leadStore crm.Store
		userStore auth.UserStore
	)
	if dsn := os.Getenv("LEADFLOW_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db = pgStore.DB()
		leadStore = pgStore
		userStore = pg.NewUserStore(db)
	} else {
		leadStore = crm.NewInMemory()
		userStore = auth.NewMemoryUserStore()
		log.Println("LEADFLOW_PG_DSN not set, using in-memory storage")
	}

	// Stream tickets live in redis; without it the push endpoints answer 503.
	var tickets *session.TicketStore
	if redisURL := os.Getenv("LEADFLOW_REDIS_URL"); redisURL != "" {
		var err error
		tickets, err = session.NewTicketStore(redisURL)
		if err != nil {
			log.Fatalf("connect redis: %v", err)
		}
	} else {
		log.Println("LEADFLOW_REDIS_URL not set, streaming disabled")
	}

	h := hub.New()
	crmSvc := crm.NewService(leadStore, crm.WithEventSink(h))
	users, err := auth.NewService(userStore)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, crmSvc, users, h, tickets)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0, // SSE connections stay open
		IdleTimeout:       60 * time.Second,
	}

	obs.SetReady(true)
	log.Printf("Starting leadflow-api %s on %s", version, addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if tickets != nil {
		_ = tickets.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
