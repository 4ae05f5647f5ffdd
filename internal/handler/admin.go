package handler

import (
	"log"
	"net/http"
	"runtime"
	"time"

	"pantry-api/internal/service"
	"pantry-api/pkg/response"
)

// AdminHandler serves operator diagnostics.
type AdminHandler struct {
	inventoryService *service.InventoryService
	cacheType        string
	startTime        time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(inventoryService *service.InventoryService, cacheType string) *AdminHandler {
	return &AdminHandler{
		inventoryService: inventoryService,
		cacheType:        cacheType,
		startTime:        time.Now(),
	}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]interface{})

	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["cache_type"] = h.cacheType

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	storeStats, err := h.inventoryService.Stats(r.Context())
	if err != nil {
		log.Printf("[AdminHandler] Failed to read store stats: %v", err)
		stats["store"] = map[string]interface{}{
			"status": "error",
			"error":  "store statistics unavailable",
		}
	} else {
		storeStats["status"] = "ok"
		stats["store"] = storeStats
	}

	response.OK(w, stats)
}
