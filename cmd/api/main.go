package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"caidence.ai/internal/access"
	"caidence.ai/internal/config"
	"caidence.ai/internal/credits"
	"caidence.ai/internal/httpapi"
	"caidence.ai/internal/identity"
	"caidence.ai/internal/obs"
	"caidence.ai/internal/rbac"
	"caidence.ai/internal/store/pg"
	"caidence.ai/internal/token"
)

var version = "0.3.0"

// devSecret keeps local development working without configuration.
// Production refuses to start without CAIDENCE_SECRET_KEY.
const devSecret = "caidence-dev-secret-do-not-use-in-production"

func main() {
	log.SetFlags(0)
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	secret := cfg.SecretKey
	if secret == "" {
		secret = devSecret
		log.Println("warning: using the built-in development signing secret")
	}
	signer, err := token.NewSigner(secret, cfg.TokenTTL)
	if err != nil {
		log.Fatalf("token signer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		idStore     identity.Store
		accessStore access.Store
		ledger      credits.Service
		db          *sql.DB
	)

	// allotment resolves a user's monthly credits from their
	// organization's plan tier. Captured by both ledger
	// implementations below.
	allotment := func(ctx context.Context, userID string) (credits.Amount, error) {
		user, err := idStore.Users().Find(ctx, userID)
		if err != nil {
			return 0, err
		}
		if user.OrganizationID == "" {
			return credits.FromCredits(cfg.CreditDefaultMonthlyAllotment), nil
		}
		org, err := idStore.Organizations().Find(ctx, user.OrganizationID)
		if err != nil {
			return 0, err
		}
		if org.PlanTier == identity.PlanFree {
			return credits.FromCredits(cfg.FreeTierMonthlyAllotment), nil
		}
		return credits.FromCredits(cfg.CreditDefaultMonthlyAllotment), nil
	}

	if cfg.DatabaseURL != "" {
		pgStore, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		if err := pgStore.Ping(ctx); err != nil {
			log.Fatalf("ping db: %v", err)
		}
		idStore = pgStore
		accessStore = pgStore.AccessLog()
		ledger = pgStore.Credits(allotment)
		db = pgStore.DB()
		log.Println("storage: postgres")
	} else {
		idStore = identity.NewInMemory()
		accessStore = access.NewInMemory()
		ledger = credits.NewInMemory(allotment)
		log.Println("storage: in-memory (set CAIDENCE_DB_URL for postgres)")
	}

	if err := rbac.Seed(ctx, idStore.Roles()); err != nil {
		log.Fatalf("seed roles: %v", err)
	}
	catalog, err := rbac.NewCatalog(idStore.Roles())
	if err != nil {
		log.Fatalf("role catalog: %v", err)
	}

	writer := access.NewWriter(accessStore, cfg.AccessLogAllowSampleRate)
	defer writer.Close()

	api := httpapi.New(httpapi.Options{
		Config:       cfg,
		Identity:     identity.NewService(idStore).WithRoleCheck(rbac.RoleAllowedForProfile),
		RBAC:         rbac.NewService(idStore, catalog),
		Signer:       signer,
		Credits:      ledger,
		AccessWriter: writer,
		AccessStore:  accessStore,
		AuditStore:   idStore.Audit(),
		Hashes:       httpapi.NewHashPool(cfg.BcryptCost, 8),
		ReadyProbe:   httpapi.ReadyProbe{DB: db},
		Version:      version,
	})

	// Unused credits do not roll over: first of the month, 00:00 UTC.
	sched := cron.New(cron.WithLocation(time.UTC))
	if _, err := sched.AddFunc("0 0 1 * *", func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		n, err := ledger.ResetMonthly(rctx)
		if err != nil {
			log.Printf("monthly credit reset: %v", err)
			return
		}
		log.Printf("monthly credit reset: %d accounts", n)
	}); err != nil {
		log.Fatalf("schedule credit reset: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting caidence-authz %s on %s (%s)", version, srv.Addr, cfg.Environment)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server: %v", err)
	}
	log.Println("Stopped")
}
