package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"pantry-api/internal/bootstrap"
	"pantry-api/internal/cache"
	"pantry-api/internal/config"
	"pantry-api/internal/handler"
	"pantry-api/internal/repository"
	"pantry-api/internal/router"
	"pantry-api/internal/schema"
	"pantry-api/internal/seed"
	"pantry-api/internal/service"
	"pantry-api/internal/store"
)

func main() {
	cfg := config.MustLoad()
	if cfg.App.Debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
	log.Printf("Starting %s %s (%s)", cfg.App.Name, cfg.App.Version, cfg.App.Environment)

	// Schema registry and seed catalog are embedded unless overridden
	reg, err := loadRegistry(cfg.Store.RegistryFile)
	if err != nil {
		log.Fatalf("Failed to load schema registry: %v", err)
	}
	catalog, err := loadCatalog(cfg.Store.CatalogFile)
	if err != nil {
		log.Fatalf("Failed to load seed catalog: %v", err)
	}

	gw, err := store.Open(store.Config{
		Path:         cfg.Store.Path,
		BusyTimeout:  cfg.Store.BusyTimeout,
		MaxOpenConns: cfg.Store.MaxOpenConns,
	})
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	inventoryRepo := repository.NewSQLiteInventoryRepository(gw, nil)
	defer inventoryRepo.Close()

	boot := bootstrap.New(gw, reg, catalog)
	boot.Start()

	// Cache: Redis when configured, memory otherwise
	var listingCache cache.Cache
	switch cfg.Cache.Type {
	case "redis":
		rc, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:      cfg.Cache.RedisAddress(),
			Password:  cfg.Cache.RedisPassword,
			DB:        cfg.Cache.RedisDB,
			KeyPrefix: cfg.Cache.KeyPrefix,
		})
		if err != nil && cfg.App.IsProduction() {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		if err != nil {
			log.Printf("Warning: Redis cache unavailable, falling back to memory: %v", err)
			listingCache = cache.NewMemoryCache()
		} else {
			listingCache = rc
		}
	default:
		listingCache = cache.NewMemoryCache()
	}
	defer listingCache.Close()

	inventoryService := service.NewInventoryService(inventoryRepo, boot, listingCache, service.InventoryOptions{
		CacheTTL: cfg.Cache.TTL,
		Locale:   cfg.App.LanguageTag(),
	})

	var decay *service.DecayScheduler
	if cfg.Decay.Enabled {
		decay = service.NewDecayScheduler(inventoryRepo, boot, listingCache, service.DecayConfig{
			Interval: cfg.Decay.Interval,
		})
		decay.Start()
	}

	r := router.New(router.Config{
		Handler:          handler.New(cfg.App.Name, cfg.App.Version, boot),
		InventoryHandler: handler.NewInventoryHandler(inventoryService),
		AdminHandler:     handler.NewAdminHandler(inventoryService, cfg.Cache.Type),
		AllowedOrigins:   cfg.Server.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("Server listening on %s", cfg.Server.Address())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// A store that cannot converge is fatal; /ready answers 503 until then.
	initCtx, cancelInit := context.WithTimeout(context.Background(), cfg.Store.InitTimeout)
	if err := boot.Wait(initCtx); err != nil {
		cancelInit()
		log.Fatalf("Store initialization failed: %v", err)
	}
	cancelInit()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if decay != nil {
		decay.Stop()
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
	fmt.Println("Goodbye!")
}

func loadRegistry(path string) (*schema.Registry, error) {
	if path == "" {
		return schema.DefaultRegistry()
	}
	log.Printf("Using schema registry from %s", path)
	return schema.LoadRegistryFile(path)
}

func loadCatalog(path string) (seed.Catalog, error) {
	if path == "" {
		return seed.DefaultCatalog()
	}
	log.Printf("Using seed catalog from %s", path)
	return seed.LoadCatalogFile(path)
}
