package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/food-market/api/internal/domain"
	pstorage "github.com/food-market/api/internal/platform/storage"
	"github.com/food-market/api/internal/platform/textutil"
	"github.com/food-market/api/internal/repositories"
)

const (
	marketIDPrefix  = "mkt_"
	productIDPrefix = "prd_"

	maxProductImageBytes  = 5 << 20
	productImageURLExpiry = 15 * time.Minute

	deactivationBatchSize = 100
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid catalog data.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogNotFound indicates the market or product could not be located.
	ErrCatalogNotFound = errors.New("catalog: not found")
	// ErrCatalogConflict indicates a duplicate or concurrent catalog write.
	ErrCatalogConflict = errors.New("catalog: conflict")
	// ErrCatalogForbidden indicates the actor may not manage the resource.
	ErrCatalogForbidden = errors.New("catalog: forbidden")
)

// catalogTextPolicy strips every HTML construct from user-supplied text fields.
var catalogTextPolicy = bluemonday.StrictPolicy()

var (
	fileNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
	currencyPattern   = regexp.MustCompile(`^[A-Z]{3}$`)
)

var allowedImageContentTypes = []string{"image/jpeg", "image/png", "image/webp"}

// UploadURLSigner issues signed object-storage URLs for direct client uploads.
type UploadURLSigner interface {
	SignedURL(ctx context.Context, bucket, object string, opts pstorage.SignedURLOptions) (pstorage.SignedURLResult, error)
}

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Markets     repositories.MarketRepository
	Products    repositories.ProductRepository
	Storage     UploadURLSigner
	MediaBucket string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	markets     repositories.MarketRepository
	products    repositories.ProductRepository
	storage     UploadURLSigner
	mediaBucket string
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Markets == nil {
		return nil, errors.New("catalog service: market repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &catalogService{
		markets:     deps.Markets,
		products:    deps.Products,
		storage:     deps.Storage,
		mediaBucket: strings.TrimSpace(deps.MediaBucket),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Markets ---------------------------------------------------------------------

func (s *catalogService) CreateMarket(ctx context.Context, cmd UpsertMarketCommand) (Market, error) {
	if !cmd.Actor.HasRole(RoleMarketAdmin) && !cmd.Actor.HasRole(RoleSuperAdmin) {
		return Market{}, fmt.Errorf("%w: actor %s may not create markets", ErrCatalogForbidden, cmd.Actor.ID)
	}

	market, err := normaliseMarket(cmd.Market)
	if err != nil {
		return Market{}, err
	}

	if market.OwnerID == "" {
		market.OwnerID = cmd.Actor.ID
	}
	if market.OwnerID != cmd.Actor.ID && !cmd.Actor.HasRole(RoleSuperAdmin) {
		return Market{}, fmt.Errorf("%w: only platform admins may assign other owners", ErrCatalogForbidden)
	}
	// Verification is a platform decision, not a self-service flag.
	if !cmd.Actor.HasRole(RoleSuperAdmin) {
		market.Verified = false
	}

	now := s.clock()
	market.ID = marketIDPrefix + s.newID()
	market.Active = true
	market.CreatedAt = now
	market.UpdatedAt = now

	if err := s.markets.Insert(ctx, market); err != nil {
		return Market{}, mapCatalogRepositoryError(err)
	}

	s.logger(ctx, "catalog.market.created", map[string]any{
		"market": market.ID,
		"owner":  market.OwnerID,
	})
	return market, nil
}

func (s *catalogService) UpdateMarket(ctx context.Context, cmd UpsertMarketCommand) (Market, error) {
	marketID := strings.TrimSpace(cmd.Market.ID)
	if marketID == "" {
		return Market{}, fmt.Errorf("%w: market id is required", ErrCatalogInvalidInput)
	}

	existing, err := s.markets.FindByID(ctx, marketID)
	if err != nil {
		return Market{}, mapCatalogRepositoryError(err)
	}
	if err := s.authorizeMarketWrite(existing, cmd.Actor); err != nil {
		return Market{}, err
	}
	wasActive := existing.Active

	updated, err := normaliseMarket(cmd.Market)
	if err != nil {
		return Market{}, err
	}

	existing.Name = updated.Name
	existing.Description = updated.Description
	existing.Address = updated.Address
	existing.City = updated.City
	existing.Phone = updated.Phone
	existing.Email = updated.Email
	existing.OpeningHours = updated.OpeningHours
	existing.Tags = updated.Tags
	existing.Active = updated.Active
	if cmd.Actor.HasRole(RoleSuperAdmin) {
		existing.Verified = updated.Verified
		if updated.OwnerID != "" {
			existing.OwnerID = updated.OwnerID
		}
	}
	existing.UpdatedAt = s.clock()

	if err := s.markets.Update(ctx, existing); err != nil {
		return Market{}, mapCatalogRepositoryError(err)
	}

	// Deactivating a market hides the whole storefront: its products are
	// switched off with it so active-only listings cannot surface orphans.
	if wasActive && !existing.Active {
		if err := s.deactivateMarketProducts(ctx, existing.ID); err != nil {
			return Market{}, err
		}
	}

	s.logger(ctx, "catalog.market.updated", map[string]any{"market": existing.ID})
	return existing, nil
}

func (s *catalogService) deactivateMarketProducts(ctx context.Context, marketID string) error {
	now := s.clock()
	deactivated := 0
	// Every pass deactivates the products it saw, so the active-only query
	// shrinks until it drains; no cursor is carried across passes.
	for {
		page, err := s.products.List(ctx, repositories.ProductListFilter{
			MarketID:   marketID,
			ActiveOnly: true,
			Pagination: domain.Pagination{PageSize: deactivationBatchSize},
		})
		if err != nil {
			return mapCatalogRepositoryError(err)
		}
		if len(page.Items) == 0 {
			break
		}
		for _, product := range page.Items {
			if err := s.products.SetActive(ctx, product.ID, false, now); err != nil {
				return mapCatalogRepositoryError(err)
			}
			deactivated++
		}
	}
	if deactivated > 0 {
		s.logger(ctx, "catalog.market.products_deactivated", map[string]any{
			"market": marketID,
			"count":  deactivated,
		})
	}
	return nil
}

func (s *catalogService) GetMarket(ctx context.Context, marketID string) (Market, error) {
	marketID = strings.TrimSpace(marketID)
	if marketID == "" {
		return Market{}, fmt.Errorf("%w: market id is required", ErrCatalogInvalidInput)
	}
	market, err := s.markets.FindByID(ctx, marketID)
	if err != nil {
		return Market{}, mapCatalogRepositoryError(err)
	}
	return market, nil
}

func (s *catalogService) ListMarkets(ctx context.Context, filter MarketListFilter) (domain.CursorPage[Market], error) {
	page, err := s.markets.List(ctx, repositories.MarketListFilter{
		City:         strings.TrimSpace(filter.City),
		Tags:         normaliseTags(filter.Tags),
		ActiveOnly:   filter.ActiveOnly,
		VerifiedOnly: filter.VerifiedOnly,
		Pagination:   filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Market]{}, mapCatalogRepositoryError(err)
	}
	return page, nil
}

// Products --------------------------------------------------------------------

func (s *catalogService) CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	product, err := normaliseProduct(cmd.Product)
	if err != nil {
		return Product{}, err
	}

	market, err := s.markets.FindByID(ctx, product.MarketID)
	if err != nil {
		return Product{}, mapCatalogRepositoryError(err)
	}
	if err := s.authorizeMarketWrite(market, cmd.Actor); err != nil {
		return Product{}, err
	}

	now := s.clock()
	product.ID = productIDPrefix + s.newID()
	product.Active = true
	product.TotalSold = 0
	product.TotalRevenue = 0
	product.CreatedAt = now
	product.UpdatedAt = now

	if err := s.products.Insert(ctx, product); err != nil {
		return Product{}, mapCatalogRepositoryError(err)
	}

	s.logger(ctx, "catalog.product.created", map[string]any{
		"product": product.ID,
		"market":  product.MarketID,
	})
	return product, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.Product.ID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	existing, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, mapCatalogRepositoryError(err)
	}
	market, err := s.markets.FindByID(ctx, existing.MarketID)
	if err != nil {
		return Product{}, mapCatalogRepositoryError(err)
	}
	if err := s.authorizeMarketWrite(market, cmd.Actor); err != nil {
		return Product{}, err
	}

	incoming := cmd.Product
	incoming.MarketID = existing.MarketID
	updated, err := normaliseProduct(incoming)
	if err != nil {
		return Product{}, err
	}

	existing.Name = updated.Name
	existing.Description = updated.Description
	existing.Category = updated.Category
	existing.Unit = updated.Unit
	existing.UnitPrice = updated.UnitPrice
	existing.Currency = updated.Currency
	existing.ImageURL = updated.ImageURL
	existing.Origin = updated.Origin
	existing.Organic = updated.Organic
	// Stock and sales counters move only through inventory and stats flows.
	existing.UpdatedAt = s.clock()

	if err := s.products.Update(ctx, existing); err != nil {
		return Product{}, mapCatalogRepositoryError(err)
	}

	s.logger(ctx, "catalog.product.updated", map[string]any{"product": existing.ID})
	return existing, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, mapCatalogRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error) {
	page, err := s.products.List(ctx, repositories.ProductListFilter{
		MarketID:   strings.TrimSpace(filter.MarketID),
		Category:   filter.Category,
		Organic:    filter.Organic,
		MaxPrice:   filter.MaxPrice,
		ActiveOnly: filter.ActiveOnly,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Product]{}, mapCatalogRepositoryError(err)
	}
	return page, nil
}

func (s *catalogService) SetProductActive(ctx context.Context, cmd SetProductActiveCommand) error {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return mapCatalogRepositoryError(err)
	}
	market, err := s.markets.FindByID(ctx, product.MarketID)
	if err != nil {
		return mapCatalogRepositoryError(err)
	}
	if err := s.authorizeMarketWrite(market, cmd.Actor); err != nil {
		return err
	}

	if err := s.products.SetActive(ctx, productID, cmd.Active, s.clock()); err != nil {
		return mapCatalogRepositoryError(err)
	}

	s.logger(ctx, "catalog.product.active", map[string]any{
		"product": productID,
		"active":  cmd.Active,
	})
	return nil
}

func (s *catalogService) IssueProductImageUpload(ctx context.Context, cmd ProductImageUploadCommand) (SignedUploadResponse, error) {
	if s.storage == nil || s.mediaBucket == "" {
		return SignedUploadResponse{}, errors.New("catalog: media storage is not configured")
	}

	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return SignedUploadResponse{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	fileName := sanitiseFileName(cmd.FileName)
	if fileName == "" {
		return SignedUploadResponse{}, fmt.Errorf("%w: file name is required", ErrCatalogInvalidInput)
	}
	if cmd.SizeBytes <= 0 || cmd.SizeBytes > maxProductImageBytes {
		return SignedUploadResponse{}, fmt.Errorf("%w: image size must be within 1 byte and %d bytes", ErrCatalogInvalidInput, maxProductImageBytes)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return SignedUploadResponse{}, mapCatalogRepositoryError(err)
	}
	market, err := s.markets.FindByID(ctx, product.MarketID)
	if err != nil {
		return SignedUploadResponse{}, mapCatalogRepositoryError(err)
	}
	if err := s.authorizeMarketWrite(market, cmd.Actor); err != nil {
		return SignedUploadResponse{}, err
	}

	objectKey, err := pstorage.BuildObjectPath(pstorage.PurposeProductImage, pstorage.PathParams{
		MarketID:  market.ID,
		ProductID: product.ID,
		UploadID:  s.newID(),
		FileName:  fileName,
	})
	if err != nil {
		return SignedUploadResponse{}, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
	}

	result, err := s.storage.SignedURL(ctx, s.mediaBucket, objectKey, pstorage.SignedURLOptions{
		Upload: &pstorage.UploadOptions{
			Method:              "PUT",
			ContentType:         strings.TrimSpace(cmd.ContentType),
			AllowedContentTypes: allowedImageContentTypes,
			MaxSize:             maxProductImageBytes,
			ExpiresIn:           productImageURLExpiry,
		},
	})
	if err != nil {
		return SignedUploadResponse{}, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
	}

	return SignedUploadResponse{
		URL:       result.URL,
		Method:    result.Method,
		Headers:   result.Headers,
		ObjectKey: objectKey,
		ExpiresAt: result.ExpiresAt,
	}, nil
}

// Helpers ---------------------------------------------------------------------

func (s *catalogService) authorizeMarketWrite(market Market, actor Actor) error {
	if actor.HasRole(RoleSuperAdmin) {
		return nil
	}
	if actor.HasRole(RoleMarketAdmin) && actor.ID != "" && actor.ID == market.OwnerID {
		return nil
	}
	return fmt.Errorf("%w: actor %s may not manage market %s", ErrCatalogForbidden, actor.ID, market.ID)
}

func normaliseMarket(market Market) (Market, error) {
	market.Name = sanitiseText(market.Name)
	if market.Name == "" {
		return Market{}, fmt.Errorf("%w: market name is required", ErrCatalogInvalidInput)
	}
	market.Description = sanitiseText(market.Description)
	market.Address = sanitiseText(market.Address)
	market.City = sanitiseText(market.City)
	market.Phone = strings.TrimSpace(market.Phone)
	market.OwnerID = strings.TrimSpace(market.OwnerID)

	market.Email = strings.TrimSpace(market.Email)
	if market.Email != "" {
		if _, err := mail.ParseAddress(market.Email); err != nil {
			return Market{}, fmt.Errorf("%w: invalid email address", ErrCatalogInvalidInput)
		}
	}

	market.OpeningHours = textutil.NormalizeStringMap(market.OpeningHours)
	market.Tags = normaliseTags(market.Tags)
	return market, nil
}

func normaliseProduct(product Product) (Product, error) {
	product.MarketID = strings.TrimSpace(product.MarketID)
	if product.MarketID == "" {
		return Product{}, fmt.Errorf("%w: market id is required", ErrCatalogInvalidInput)
	}
	product.Name = sanitiseText(product.Name)
	if product.Name == "" {
		return Product{}, fmt.Errorf("%w: product name is required", ErrCatalogInvalidInput)
	}
	product.Description = sanitiseText(product.Description)
	product.Origin = sanitiseText(product.Origin)

	if product.Category == "" {
		product.Category = domain.CategoryOther
	}
	if !validProductCategory(product.Category) {
		return Product{}, fmt.Errorf("%w: unknown category %q", ErrCatalogInvalidInput, product.Category)
	}

	product.Unit = strings.ToLower(strings.TrimSpace(product.Unit))
	if product.Unit == "" {
		return Product{}, fmt.Errorf("%w: unit is required", ErrCatalogInvalidInput)
	}

	if product.UnitPrice <= 0 {
		return Product{}, fmt.Errorf("%w: unit price must be positive", ErrCatalogInvalidInput)
	}
	product.Currency = strings.ToUpper(strings.TrimSpace(product.Currency))
	if !currencyPattern.MatchString(product.Currency) {
		return Product{}, fmt.Errorf("%w: currency must be a 3-letter code", ErrCatalogInvalidInput)
	}
	if product.StockQuantity < 0 {
		return Product{}, fmt.Errorf("%w: stock quantity must not be negative", ErrCatalogInvalidInput)
	}

	product.ImageURL = strings.TrimSpace(product.ImageURL)
	return product, nil
}

func validProductCategory(category domain.ProductCategory) bool {
	for _, candidate := range domain.ProductCategories() {
		if candidate == category {
			return true
		}
	}
	return false
}

func sanitiseText(value string) string {
	return strings.TrimSpace(catalogTextPolicy.Sanitize(value))
}

func normaliseTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(sanitiseText(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sanitiseFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = fileNameSanitizer.ReplaceAllString(name, "-")
	return strings.Trim(name, "-.")
}

func mapCatalogRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCatalogConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("catalog: repository unavailable: %w", err)
		}
	}
	return err
}
