package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"github.com/yanasoup/pos-sub000/internal/backend"
	"github.com/yanasoup/pos-sub000/internal/cache"
	"github.com/yanasoup/pos-sub000/internal/config"
	"github.com/yanasoup/pos-sub000/internal/httpapi"
	"github.com/yanasoup/pos-sub000/internal/journal"
	"github.com/yanasoup/pos-sub000/internal/journal/memory"
	pgjournal "github.com/yanasoup/pos-sub000/internal/journal/postgres"
	"github.com/yanasoup/pos-sub000/internal/session"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("dotenv: %v", err)
	}

	cfg := config.Load()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var recorder journal.Recorder
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgjournal.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		recorder = pg
		closers = append(closers, pg.Close)
		log.Println("journal: postgres")
	} else {
		recorder = memory.New()
		log.Println("journal: in-memory")
	}

	productCache := cache.ProductCache(cache.NoopProductCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisProductCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
		} else {
			productCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}

	backendClient := backend.NewHTTPClient(cfg.BackendBaseURL, time.Duration(cfg.BackendTimeoutSeconds)*time.Second)

	sessions := session.NewManager(backendClient, productCache, recorder, session.Options{
		CacheTTL:          time.Duration(cfg.ProductCacheTTLSeconds) * time.Second,
		PrefetchDelay:     time.Duration(cfg.CatalogPrefetchDelayMS) * time.Millisecond,
		TenantID:          cfg.TenantID,
		DefaultMarkupRate: cfg.DefaultMarkupRatePercent,
	})
	defer sessions.Close()

	var pinHash []byte
	if cfg.SupervisorPIN != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.SupervisorPIN), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("hash supervisor pin: %v", err)
		}
		pinHash = hash
	} else {
		log.Println("SUPERVISOR_PIN not set; deferred shift close needs no sign-off")
	}

	api := httpapi.New(sessions, pinHash, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("POS terminal listening on %s (backend %s)", cfg.Address(), cfg.BackendBaseURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("terminal stopped")
}

func validateConfig(cfg config.Config) error {
	if cfg.BackendBaseURL == "" {
		return fmt.Errorf("BACKEND_BASE_URL must be set")
	}
	if cfg.SupervisorPIN != "" {
		if len(cfg.SupervisorPIN) < 6 {
			return fmt.Errorf("SUPERVISOR_PIN must be at least 6 digits")
		}
		if err := validatePINStrength(cfg.SupervisorPIN); err != nil {
			return fmt.Errorf("SUPERVISOR_PIN is too weak: %w", err)
		}
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"222222": true, "333333": true, "444444": true, "555555": true,
		"666666": true, "777777": true, "888888": true, "999999": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
