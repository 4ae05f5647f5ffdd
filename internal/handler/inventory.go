package handler

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"pantry-api/internal/availability"
	"pantry-api/internal/model"
	"pantry-api/internal/service"
	"pantry-api/pkg/apierror"
	"pantry-api/pkg/response"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// IDs double as cache-key segments, so ':' and whitespace are excluded.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.@-]{1,128}$`)

const idRule = "must be 1-128 letters, digits or . _ @ -"

// InventoryHandler serves the per-user inventory, recipe and sync endpoints.
type InventoryHandler struct {
	inventoryService *service.InventoryService
}

// NewInventoryHandler creates a new inventory handler.
func NewInventoryHandler(inventoryService *service.InventoryService) *InventoryHandler {
	return &InventoryHandler{
		inventoryService: inventoryService,
	}
}

func pathID(r *http.Request, name string) (string, *apierror.Error) {
	id := chi.URLParam(r, name)
	if !idPattern.MatchString(id) {
		return "", apierror.ValidationError("invalid path parameter",
			apierror.FieldError{Field: name, Message: idRule})
	}
	return id, nil
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) *apierror.Error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apierror.BadRequest("invalid JSON: " + err.Error())
	}
	return nil
}

// AddItemRequest is the body of POST /inventory.
type AddItemRequest struct {
	IngredientID string     `json:"ingredient_id"`
	Quantity     float64    `json:"quantity"`
	Unit         string     `json:"unit"`
	ExpiresAt    *time.Time `json:"expires_at"`
	Location     string     `json:"location"`
	Origin       string     `json:"origin"`
}

// UpdateItemRequest is the body of PUT /inventory/{ingredient_id}. An explicit
// null expires_at clears the expiry; an absent one leaves it alone.
type UpdateItemRequest struct {
	Quantity  *float64        `json:"quantity"`
	Unit      *string         `json:"unit"`
	ExpiresAt json.RawMessage `json:"expires_at"`
	Location  *string         `json:"location"`
}

// SyncAckRequest is the body of POST /sync/ack.
type SyncAckRequest struct {
	Items []model.SyncAck `json:"items"`
}

// ListInventory handles GET /api/v1/users/{user_id}/inventory
func (h *InventoryHandler) ListInventory(w http.ResponseWriter, r *http.Request) {
	userID, apiErr := pathID(r, "user_id")
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	groups, err := h.inventoryService.ListInventoryGrouped(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"user_id": userID,
		"groups":  groups,
	})
}

// AddItem handles POST /api/v1/users/{user_id}/inventory
func (h *InventoryHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	userID, apiErr := pathID(r, "user_id")
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	var req AddItemRequest
	if apiErr := decode(w, r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	if req.IngredientID == "" {
		response.Error(w, apierror.ValidationError("invalid request",
			apierror.FieldError{Field: "ingredient_id", Message: "is required"}))
		return
	}
	if !idPattern.MatchString(req.IngredientID) {
		response.Error(w, apierror.ValidationError("invalid request",
			apierror.FieldError{Field: "ingredient_id", Message: idRule}))
		return
	}

	item, err := h.inventoryService.AddItem(r.Context(), model.AddInput{
		UserID:       userID,
		IngredientID: req.IngredientID,
		Quantity:     req.Quantity,
		Unit:         req.Unit,
		ExpiresAt:    req.ExpiresAt,
		Location:     req.Location,
		Origin:       availability.ParseOrigin(req.Origin),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	response.Created(w, item)
}

// UpdateItem handles PUT /api/v1/users/{user_id}/inventory/{ingredient_id}
func (h *InventoryHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	userID, apiErr := pathID(r, "user_id")
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	ingredientID, apiErr := pathID(r, "ingredient_id")
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	var req UpdateItemRequest
	if apiErr := decode(w, r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	in := model.UpdateInput{Quantity: req.Quantity, Unit: req.Unit, Location: req.Location}
	switch {
	case len(req.ExpiresAt) == 0:
	case string(req.ExpiresAt) == "null":
		in.ClearExpiry = true
	default:
		var t time.Time
		if err := json.Unmarshal(req.ExpiresAt, &t); err != nil {
			response.Error(w, apierror.ValidationError("invalid request",
				apierror.FieldError{Field: "expires_at", Message: "must be an RFC 3339 timestamp or null"}))
			return
		}
		in.ExpiresAt = &t
	}

	item, err := h.inventoryService.UpdateItem(r.Context(), userID, ingredientID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, item)
}

// RemoveItem handles DELETE /api/v1/users/{user_id}/inventory/{ingredient_id}
func (h *InventoryHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, apiErr := pathID(r, "user_id")
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	ingredientID, apiErr := pathID(r, "ingredient_id")
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	if err := h.inventoryService.RemoveItem(r.Context(), userID, ingredientID); err != nil {
		writeError(w, err)
		return
	}
	response.NoContent(w)
}

// RecipeStatus handles GET /api/v1/users/{user_id}/recipes/{recipe_id}/status
func (h *InventoryHandler) RecipeStatus(w http.ResponseWriter, r *http.Request) {
	userID, apiErr := pathID(r, "user_id")
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	recipeID, apiErr := pathID(r, "recipe_id")
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	verdict, err := h.inventoryService.ResolveRecipeStatus(r.Context(), userID, recipeID)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, verdict)
}

// PendingSync handles GET /api/v1/users/{user_id}/sync/pending?limit=N
func (h *InventoryHandler) PendingSync(w http.ResponseWriter, r *http.Request) {
	userID, apiErr := pathID(r, "user_id")
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			response.Error(w, apierror.ValidationError("invalid query",
				apierror.FieldError{Field: "limit", Message: "must be between 1 and 1000"}))
			return
		}
		limit = n
	}

	items, err := h.inventoryService.PendingSync(r.Context(), userID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"user_id": userID,
		"items":   items,
		"count":   len(items),
	})
}

// AcknowledgeSync handles POST /api/v1/users/{user_id}/sync/ack
func (h *InventoryHandler) AcknowledgeSync(w http.ResponseWriter, r *http.Request) {
	userID, apiErr := pathID(r, "user_id")
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	var req SyncAckRequest
	if apiErr := decode(w, r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	cleared, err := h.inventoryService.AcknowledgeSync(r.Context(), userID, req.Items)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"user_id":      userID,
		"acknowledged": cleared,
		"ignored":      int64(len(req.Items)) - cleared,
	})
}
