package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/food-market/api/internal/domain"
	"github.com/food-market/api/internal/platform/auth"
	"github.com/food-market/api/internal/platform/httpx"
	"github.com/food-market/api/internal/platform/pagination"
	"github.com/food-market/api/internal/repositories"
	"github.com/food-market/api/internal/services"
)

const (
	defaultProductPageSize = 20
	maxProductPageSize     = 100
	maxProductBodySize     = 64 * 1024
)

type upsertProductRequest struct {
	MarketID    string `json:"market_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Unit        string `json:"unit"`
	UnitPrice   int64  `json:"unit_price"`
	Currency    string `json:"currency"`
	Stock       int64  `json:"stock"`
	ImageURL    string `json:"image_url"`
	Origin      string `json:"origin"`
	Organic     bool   `json:"organic"`
}

type restockRequest struct {
	Quantity int64 `json:"quantity"`
}

type imageUploadRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// ProductHandlers exposes product catalog and stock endpoints.
type ProductHandlers struct {
	authn     *auth.Authenticator
	catalog   services.CatalogService
	inventory services.InventoryService
}

// NewProductHandlers constructs a new ProductHandlers instance.
func NewProductHandlers(authn *auth.Authenticator, catalog services.CatalogService, inventory services.InventoryService) *ProductHandlers {
	return &ProductHandlers{
		authn:     authn,
		catalog:   catalog,
		inventory: inventory,
	}
}

// Routes registers the /products endpoints. Reads are public; writes require a
// market admin identity.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Get("/{productID}", h.getProduct)

	if h.authn != nil {
		r.Group(func(protected chi.Router) {
			protected.Use(h.authn.RequireFirebaseAuth(auth.RoleMarketAdmin, auth.RoleSuperAdmin))
			protected.Post("/", h.createProduct)
			protected.Put("/{productID}", h.updateProduct)
			protected.Post("/{productID}:activate", h.setActive(true))
			protected.Post("/{productID}:deactivate", h.setActive(false))
			protected.Post("/{productID}:restock", h.restock)
			protected.Post("/{productID}:upload-image", h.issueImageUpload)
		})
	}
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	pageSize, err := pagination.ParsePageSize(query.Get("page_size"), defaultProductPageSize, maxProductPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.ProductListFilter{
		MarketID:   strings.TrimSpace(query.Get("market_id")),
		ActiveOnly: query.Get("include_inactive") == "",
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	if raw := strings.ToLower(strings.TrimSpace(query.Get("category"))); raw != "" {
		category := domain.ProductCategory(raw)
		if !validProductCategoryParam(category) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "category is not recognised", http.StatusBadRequest))
			return
		}
		filter.Category = &category
	}
	if raw := strings.TrimSpace(query.Get("organic")); raw != "" {
		organic, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "organic must be a boolean", http.StatusBadRequest))
			return
		}
		filter.Organic = &organic
	}
	if raw := strings.TrimSpace(query.Get("max_price")); raw != "" {
		maxPrice, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || maxPrice <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "max_price must be a positive integer of minor units", http.StatusBadRequest))
			return
		}
		filter.MaxPrice = &maxPrice
	}

	page, err := h.catalog.ListProducts(ctx, filter)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req upsertProductRequest
	if err := decodeJSONBody(r, maxProductBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	product, err := h.catalog.CreateProduct(ctx, services.UpsertProductCommand{
		Product: productFromRequest(req, ""),
		Actor:   actorFromIdentity(identity),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	var req upsertProductRequest
	if err := decodeJSONBody(r, maxProductBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	product, err := h.catalog.UpdateProduct(ctx, services.UpsertProductCommand{
		Product: productFromRequest(req, productID),
		Actor:   actorFromIdentity(identity),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.catalog == nil {
			httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
			return
		}

		identity, ok := requireIdentity(ctx, w)
		if !ok {
			return
		}

		productID := strings.TrimSpace(chi.URLParam(r, "productID"))
		if productID == "" {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
			return
		}

		if err := h.catalog.SetProductActive(ctx, services.SetProductActiveCommand{
			ProductID: productID,
			Active:    active,
			Actor:     actorFromIdentity(identity),
		}); err != nil {
			writeCatalogError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, map[string]any{
			"product_id": productID,
			"active":     active,
		})
	}
}

func (h *ProductHandlers) restock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil || h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	actor := actorFromIdentity(identity)

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	var req restockRequest
	if err := decodeJSONBody(r, maxProductBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	// Only the owning market admin (or a platform admin) may restock.
	if !actor.HasRole(services.RoleSuperAdmin) {
		product, err := h.catalog.GetProduct(ctx, productID)
		if err != nil {
			writeCatalogError(ctx, w, err)
			return
		}
		market, err := h.catalog.GetMarket(ctx, product.MarketID)
		if err != nil {
			writeCatalogError(ctx, w, err)
			return
		}
		if market.OwnerID == "" || market.OwnerID != actor.ID {
			httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to manage this resource", http.StatusForbidden))
			return
		}
	}

	product, err := h.inventory.Restock(ctx, services.RestockCommand{
		ProductID: productID,
		Quantity:  req.Quantity,
		ActorID:   actor.ID,
	})
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) issueImageUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	var req imageUploadRequest
	if err := decodeJSONBody(r, maxProductBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	upload, err := h.catalog.IssueProductImageUpload(ctx, services.ProductImageUploadCommand{
		ProductID:   productID,
		FileName:    req.FileName,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
		Actor:       actorFromIdentity(identity),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, imageUploadResponse{
		URL:       upload.URL,
		Method:    upload.Method,
		Headers:   upload.Headers,
		ObjectKey: upload.ObjectKey,
		ExpiresAt: formatTime(upload.ExpiresAt),
	})
}

// Payloads -------------------------------------------------------------------

type productListResponse struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productPayload struct {
	ID          string `json:"id"`
	MarketID    string `json:"market_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category"`
	Unit        string `json:"unit"`
	UnitPrice   int64  `json:"unit_price"`
	Currency    string `json:"currency"`
	Stock       int64  `json:"stock"`
	ImageURL    string `json:"image_url,omitempty"`
	Origin      string `json:"origin,omitempty"`
	Organic     bool   `json:"organic"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

type imageUploadResponse struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	ObjectKey string            `json:"object_key"`
	ExpiresAt string            `json:"expires_at"`
}

func buildProductPayload(product services.Product) productPayload {
	return productPayload{
		ID:          strings.TrimSpace(product.ID),
		MarketID:    strings.TrimSpace(product.MarketID),
		Name:        product.Name,
		Description: product.Description,
		Category:    string(product.Category),
		Unit:        product.Unit,
		UnitPrice:   product.UnitPrice,
		Currency:    strings.ToUpper(strings.TrimSpace(product.Currency)),
		Stock:       product.StockQuantity,
		ImageURL:    product.ImageURL,
		Origin:      product.Origin,
		Organic:     product.Organic,
		Active:      product.Active,
		CreatedAt:   formatTime(product.CreatedAt),
		UpdatedAt:   formatTime(product.UpdatedAt),
	}
}

func productFromRequest(req upsertProductRequest, productID string) services.Product {
	return services.Product{
		ID:            productID,
		MarketID:      strings.TrimSpace(req.MarketID),
		Name:          req.Name,
		Description:   req.Description,
		Category:      domain.ProductCategory(strings.ToLower(strings.TrimSpace(req.Category))),
		Unit:          req.Unit,
		UnitPrice:     req.UnitPrice,
		Currency:      req.Currency,
		StockQuantity: req.Stock,
		ImageURL:      req.ImageURL,
		Origin:        req.Origin,
		Organic:       req.Organic,
	}
}

func writeInventoryError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
		case repositories.StockErrorProductNotFound:
			httpx.WriteError(ctx, w, httpx.NewError("not_found", "product not found", http.StatusNotFound))
		case repositories.StockErrorProductInactive:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("inventory_error", "failed to process stock request", http.StatusInternalServerError))
		}
		return
	}

	switch {
	case errors.Is(err, services.ErrInventoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("inventory_error", "failed to process stock request", http.StatusInternalServerError))
	}
}

func validProductCategoryParam(category domain.ProductCategory) bool {
	for _, candidate := range domain.ProductCategories() {
		if candidate == category {
			return true
		}
	}
	return false
}
