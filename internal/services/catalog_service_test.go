package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/food-market/api/internal/domain"
	pstorage "github.com/food-market/api/internal/platform/storage"
	"github.com/food-market/api/internal/repositories"
)

type catalogFixture struct {
	markets  *stubMarketRepo
	products *stubProductRepo
	signer   *stubUploadSigner

	market  domain.Market
	product domain.Product

	insertedMarkets  []domain.Market
	updatedMarkets   []domain.Market
	insertedProducts []domain.Product
	updatedProducts  []domain.Product
}

func newCatalogFixture() *catalogFixture {
	f := &catalogFixture{}

	f.market = domain.Market{
		ID:      "mkt_1",
		Name:    "Borough Greens",
		OwnerID: "owner-1",
		Active:  true,
	}
	f.product = domain.Product{
		ID:        "prd_1",
		MarketID:  "mkt_1",
		Name:      "Apples",
		Category:  domain.CategoryProduce,
		Unit:      "kg",
		UnitPrice: 250,
		Currency:  "EUR",
		Active:    true,
	}

	f.markets = &stubMarketRepo{
		insert: func(_ context.Context, market domain.Market) error {
			f.insertedMarkets = append(f.insertedMarkets, market)
			return nil
		},
		update: func(_ context.Context, market domain.Market) error {
			f.updatedMarkets = append(f.updatedMarkets, market)
			return nil
		},
		findByID: func(_ context.Context, marketID string) (domain.Market, error) {
			if marketID == f.market.ID {
				return f.market, nil
			}
			return domain.Market{}, stubRepoError{notFound: true}
		},
	}
	f.products = &stubProductRepo{
		insert: func(_ context.Context, product domain.Product) error {
			f.insertedProducts = append(f.insertedProducts, product)
			return nil
		},
		update: func(_ context.Context, product domain.Product) error {
			f.updatedProducts = append(f.updatedProducts, product)
			return nil
		},
		findByID: func(_ context.Context, productID string) (domain.Product, error) {
			if productID == f.product.ID {
				return f.product, nil
			}
			return domain.Product{}, stubRepoError{notFound: true}
		},
	}
	f.signer = &stubUploadSigner{
		signedURL: func(_ context.Context, bucket, object string, opts pstorage.SignedURLOptions) (pstorage.SignedURLResult, error) {
			return pstorage.SignedURLResult{
				URL:       "https://storage.example.com/" + bucket + "/" + object,
				Method:    "PUT",
				ExpiresAt: testTime.Add(15 * time.Minute),
			}, nil
		},
	}
	return f
}

func (f *catalogFixture) service(t *testing.T) CatalogService {
	t.Helper()
	svc, err := NewCatalogService(CatalogServiceDeps{
		Markets:     f.markets,
		Products:    f.products,
		Storage:     f.signer,
		MediaBucket: "media-bucket",
		Clock:       fixedClock,
		IDGenerator: func() string { return "TESTID01" },
	})
	if err != nil {
		t.Fatalf("building catalog service: %v", err)
	}
	return svc
}

func TestCreateMarketAssignsOwnership(t *testing.T) {
	f := newCatalogFixture()
	svc := f.service(t)

	market, err := svc.CreateMarket(context.Background(), UpsertMarketCommand{
		Market: domain.Market{
			Name:     " Riverside Stalls ",
			City:     "Lisbon",
			Verified: true,
		},
		Actor: Actor{ID: "owner-9", Roles: []string{RoleMarketAdmin}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(market.ID, "mkt_") {
		t.Errorf("market id should carry prefix, got %q", market.ID)
	}
	if market.Name != "Riverside Stalls" {
		t.Errorf("name not trimmed, got %q", market.Name)
	}
	if market.OwnerID != "owner-9" {
		t.Errorf("owner should default to the actor, got %q", market.OwnerID)
	}
	if market.Verified {
		t.Error("market admins may not self-verify")
	}
	if !market.Active {
		t.Error("new markets start active")
	}
	if !market.CreatedAt.Equal(testTime) {
		t.Errorf("created timestamp not pinned to clock: %v", market.CreatedAt)
	}
	if len(f.insertedMarkets) != 1 {
		t.Fatalf("expected one insert, got %d", len(f.insertedMarkets))
	}
}

func TestCreateMarketForbiddenForCustomer(t *testing.T) {
	f := newCatalogFixture()
	svc := f.service(t)

	_, err := svc.CreateMarket(context.Background(), UpsertMarketCommand{
		Market: domain.Market{Name: "Pop-up"},
		Actor:  Actor{ID: "user-1", Roles: []string{RoleUser}},
	})
	if !errors.Is(err, ErrCatalogForbidden) {
		t.Fatalf("expected forbidden error, got %v", err)
	}
}

func TestCreateMarketSuperAdminAssignsOtherOwner(t *testing.T) {
	f := newCatalogFixture()
	svc := f.service(t)

	market, err := svc.CreateMarket(context.Background(), UpsertMarketCommand{
		Market: domain.Market{
			Name:     "Harbour Market",
			OwnerID:  "owner-7",
			Verified: true,
		},
		Actor: Actor{ID: "admin-1", Roles: []string{RoleSuperAdmin}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if market.OwnerID != "owner-7" {
		t.Errorf("expected assigned owner, got %q", market.OwnerID)
	}
	if !market.Verified {
		t.Error("platform admins may verify on creation")
	}
}

func TestCreateMarketRejectsOwnerReassignmentByMarketAdmin(t *testing.T) {
	f := newCatalogFixture()
	svc := f.service(t)

	_, err := svc.CreateMarket(context.Background(), UpsertMarketCommand{
		Market: domain.Market{Name: "Harbour Market", OwnerID: "owner-7"},
		Actor:  Actor{ID: "owner-9", Roles: []string{RoleMarketAdmin}},
	})
	if !errors.Is(err, ErrCatalogForbidden) {
		t.Fatalf("expected forbidden error, got %v", err)
	}
}

func TestCreateMarketStripsHTML(t *testing.T) {
	f := newCatalogFixture()
	svc := f.service(t)

	market, err := svc.CreateMarket(context.Background(), UpsertMarketCommand{
		Market: domain.Market{
			Name:        "Borough <script>alert(1)</script>Greens",
			Description: "<b>Fresh</b> produce",
		},
		Actor: Actor{ID: "owner-9", Roles: []string{RoleMarketAdmin}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(market.Name, "<") || strings.Contains(market.Description, "<") {
		t.Errorf("HTML not stripped: %q / %q", market.Name, market.Description)
	}
}

func TestCreateMarketRejectsInvalidEmail(t *testing.T) {
	f := newCatalogFixture()
	svc := f.service(t)

	_, err := svc.CreateMarket(context.Background(), UpsertMarketCommand{
		Market: domain.Market{Name: "Harbour Market", Email: "not-an-email"},
		Actor:  Actor{ID: "owner-9", Roles: []string{RoleMarketAdmin}},
	})
	if !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestUpdateMarketAuthorization(t *testing.T) {
	f := newCatalogFixture()
	svc := f.service(t)

	_, err := svc.UpdateMarket(context.Background(), UpsertMarketCommand{
		Market: domain.Market{ID: "mkt_1", Name: "Renamed"},
		Actor:  Actor{ID: "owner-2", Roles: []string{RoleMarketAdmin}},
	})
	if !errors.Is(err, ErrCatalogForbidden) {
		t.Fatalf("expected forbidden error for non-owner, got %v", err)
	}

	updated, err := svc.UpdateMarket(context.Background(), UpsertMarketCommand{
		Market: domain.Market{ID: "mkt_1", Name: "Renamed", Active: true},
		Actor:  Actor{ID: "owner-1", Roles: []string{RoleMarketAdmin}},
	})
	if err != nil {
		t.Fatalf("unexpected error for owner: %v", err)
	}
	if updated.Name != "Renamed" {
		t.Errorf("name not applied, got %q", updated.Name)
	}
	if !updated.UpdatedAt.Equal(testTime) {
		t.Errorf("updated timestamp not pinned to clock: %v", updated.UpdatedAt)
	}
}

func TestUpdateMarketOnlySuperAdminMovesOwnership(t *testing.T) {
	f := newCatalogFixture()
	svc := f.service(t)

	updated, err := svc.UpdateMarket(context.Background(), UpsertMarketCommand{
		Market: domain.Market{ID: "mkt_1", Name: "Renamed", OwnerID: "owner-5", Verified: true, Active: true},
		Actor:  Actor{ID: "owner-1", Roles: []string{RoleMarketAdmin}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.OwnerID != "owner-1" {
		t.Errorf("market admin must not move ownership, got %q", updated.OwnerID)
	}
	if updated.Verified {
		t.Error("market admin must not flip verification")
	}

	updated, err = svc.UpdateMarket(context.Background(), UpsertMarketCommand{
		Market: domain.Market{ID: "mkt_1", Name: "Renamed", OwnerID: "owner-5", Verified: true, Active: true},
		Actor:  Actor{ID: "admin-1", Roles: []string{RoleSuperAdmin}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.OwnerID != "owner-5" || !updated.Verified {
		t.Errorf("super admin changes not applied: %+v", updated)
	}
}

func TestUpdateMarketDeactivationCascadesToProducts(t *testing.T) {
	f := newCatalogFixture()

	remaining := []domain.Product{
		{ID: "prd_1", MarketID: "mkt_1", Active: true},
		{ID: "prd_2", MarketID: "mkt_1", Active: true},
	}
	var deactivated []string

	f.products.list = func(_ context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
		if filter.MarketID != "mkt_1" || !filter.ActiveOnly {
			t.Errorf("unexpected list filter %+v", filter)
		}
		return domain.CursorPage[domain.Product]{Items: remaining}, nil
	}
	f.products.setActive = func(_ context.Context, productID string, active bool, now time.Time) error {
		if active {
			t.Errorf("product %s should be deactivated, not activated", productID)
		}
		if !now.Equal(testTime) {
			t.Errorf("deactivation timestamp not pinned to clock: %v", now)
		}
		deactivated = append(deactivated, productID)
		kept := remaining[:0]
		for _, p := range remaining {
			if p.ID != productID {
				kept = append(kept, p)
			}
		}
		remaining = kept
		return nil
	}

	svc := f.service(t)
	updated, err := svc.UpdateMarket(context.Background(), UpsertMarketCommand{
		Market: domain.Market{ID: "mkt_1", Name: "Borough Greens", Active: false},
		Actor:  Actor{ID: "owner-1", Roles: []string{RoleMarketAdmin}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Active {
		t.Error("market should be deactivated")
	}
	if len(deactivated) != 2 {
		t.Fatalf("expected both products deactivated, got %v", deactivated)
	}
}

func TestUpdateMarketReactivationLeavesProductsAlone(t *testing.T) {
	f := newCatalogFixture()
	f.market.Active = false
	svc := f.service(t)

	// No product stubs are wired: any listing or SetActive call would fail
	// the test through errStubUnexpectedCall.
	updated, err := svc.UpdateMarket(context.Background(), UpsertMarketCommand{
		Market: domain.Market{ID: "mkt_1", Name: "Borough Greens", Active: true},
		Actor:  Actor{ID: "owner-1", Roles: []string{RoleMarketAdmin}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated.Active {
		t.Error("market should be reactivated")
	}
}

func TestCreateProductNormalises(t *testing.T) {
	f := newCatalogFixture()
	svc := f.service(t)

	product, err := svc.CreateProduct(context.Background(), UpsertProductCommand{
		Product: domain.Product{
			MarketID:  "mkt_1",
			Name:      " Heritage Tomatoes ",
			Unit:      " KG ",
			UnitPrice: 320,
			Currency:  "eur",
		},
		Actor: Actor{ID: "owner-1", Roles: []string{RoleMarketAdmin}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(product.ID, "prd_") {
		t.Errorf("product id should carry prefix, got %q", product.ID)
	}
	if product.Name != "Heritage Tomatoes" {
		t.Errorf("name not trimmed, got %q", product.Name)
	}
	if product.Unit != "kg" {
		t.Errorf("unit not normalised, got %q", product.Unit)
	}
	if product.Currency != "EUR" {
		t.Errorf("currency not normalised, got %q", product.Currency)
	}
	if product.Category != domain.CategoryOther {
		t.Errorf("category should default to the catch-all, got %q", product.Category)
	}
	if !product.Active {
		t.Error("new products start active")
	}
	if product.TotalSold != 0 || product.TotalRevenue != 0 {
		t.Error("sales counters must start at zero")
	}
}

func TestCreateProductValidation(t *testing.T) {
	base := domain.Product{
		MarketID:  "mkt_1",
		Name:      "Apples",
		Unit:      "kg",
		UnitPrice: 250,
		Currency:  "EUR",
	}
	mutate := func(fn func(*domain.Product)) domain.Product {
		product := base
		fn(&product)
		return product
	}

	cases := []struct {
		name    string
		product domain.Product
	}{
		{"missing market", mutate(func(p *domain.Product) { p.MarketID = "" })},
		{"missing name", mutate(func(p *domain.Product) { p.Name = " " })},
		{"missing unit", mutate(func(p *domain.Product) { p.Unit = "" })},
		{"zero price", mutate(func(p *domain.Product) { p.UnitPrice = 0 })},
		{"bad currency", mutate(func(p *domain.Product) { p.Currency = "EURO" })},
		{"unknown category", mutate(func(p *domain.Product) { p.Category = "gadgets" })},
		{"negative stock", mutate(func(p *domain.Product) { p.StockQuantity = -1 })},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newCatalogFixture()
			svc := f.service(t)
			_, err := svc.CreateProduct(context.Background(), UpsertProductCommand{
				Product: tc.product,
				Actor:   Actor{ID: "owner-1", Roles: []string{RoleMarketAdmin}},
			})
			if !errors.Is(err, ErrCatalogInvalidInput) {
				t.Fatalf("expected invalid input error, got %v", err)
			}
		})
	}
}

func TestCreateProductForbiddenForNonOwner(t *testing.T) {
	f := newCatalogFixture()
	svc := f.service(t)

	_, err := svc.CreateProduct(context.Background(), UpsertProductCommand{
		Product: domain.Product{
			MarketID:  "mkt_1",
			Name:      "Apples",
			Unit:      "kg",
			UnitPrice: 250,
			Currency:  "EUR",
		},
		Actor: Actor{ID: "owner-2", Roles: []string{RoleMarketAdmin}},
	})
	if !errors.Is(err, ErrCatalogForbidden) {
		t.Fatalf("expected forbidden error, got %v", err)
	}
}

func TestUpdateProductPreservesCounters(t *testing.T) {
	f := newCatalogFixture()
	f.product.StockQuantity = 40
	f.product.TotalSold = 12
	f.product.TotalRevenue = 3000
	svc := f.service(t)

	updated, err := svc.UpdateProduct(context.Background(), UpsertProductCommand{
		Product: domain.Product{
			ID:        "prd_1",
			MarketID:  "mkt_other",
			Name:      "Cox Apples",
			Unit:      "kg",
			UnitPrice: 270,
			Currency:  "EUR",
			Category:  domain.CategoryProduce,
		},
		Actor: Actor{ID: "owner-1", Roles: []string{RoleMarketAdmin}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if updated.MarketID != "mkt_1" {
		t.Errorf("products must not move between markets, got %q", updated.MarketID)
	}
	if updated.Name != "Cox Apples" || updated.UnitPrice != 270 {
		t.Errorf("update not applied: %+v", updated)
	}
	if updated.StockQuantity != 40 || updated.TotalSold != 12 || updated.TotalRevenue != 3000 {
		t.Errorf("stock and sales counters must survive profile updates: %+v", updated)
	}
}

func TestSetProductActiveTogglesListing(t *testing.T) {
	f := newCatalogFixture()
	var gotProduct string
	var gotActive bool
	f.products.setActive = func(_ context.Context, productID string, active bool, now time.Time) error {
		gotProduct = productID
		gotActive = active
		if !now.Equal(testTime) {
			t.Fatalf("timestamp not pinned to clock: %v", now)
		}
		return nil
	}
	svc := f.service(t)

	err := svc.SetProductActive(context.Background(), SetProductActiveCommand{
		ProductID: "prd_1",
		Active:    false,
		Actor:     Actor{ID: "owner-1", Roles: []string{RoleMarketAdmin}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotProduct != "prd_1" || gotActive {
		t.Errorf("unexpected toggle %q active=%v", gotProduct, gotActive)
	}

	err = svc.SetProductActive(context.Background(), SetProductActiveCommand{
		ProductID: "prd_1",
		Active:    false,
		Actor:     Actor{ID: "owner-2", Roles: []string{RoleMarketAdmin}},
	})
	if !errors.Is(err, ErrCatalogForbidden) {
		t.Fatalf("expected forbidden error for non-owner, got %v", err)
	}
}

func TestIssueProductImageUploadSignsURL(t *testing.T) {
	f := newCatalogFixture()
	var gotBucket, gotObject string
	var gotOpts pstorage.SignedURLOptions
	f.signer.signedURL = func(_ context.Context, bucket, object string, opts pstorage.SignedURLOptions) (pstorage.SignedURLResult, error) {
		gotBucket, gotObject, gotOpts = bucket, object, opts
		return pstorage.SignedURLResult{URL: "https://signed.example.com/upload", Method: "PUT"}, nil
	}
	svc := f.service(t)

	resp, err := svc.IssueProductImageUpload(context.Background(), ProductImageUploadCommand{
		ProductID:   "prd_1",
		FileName:    "fresh tomatoes!.jpg",
		ContentType: "image/jpeg",
		SizeBytes:   1024,
		Actor:       Actor{ID: "owner-1", Roles: []string{RoleMarketAdmin}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotBucket != "media-bucket" {
		t.Errorf("unexpected bucket %q", gotBucket)
	}
	want := "markets/mkt_1/products/prd_1/TESTID01-fresh-tomatoes-.jpg"
	if gotObject != want {
		t.Errorf("unexpected object key %q, want %q", gotObject, want)
	}
	if resp.ObjectKey != gotObject {
		t.Errorf("response must echo the object key, got %q", resp.ObjectKey)
	}
	if resp.URL != "https://signed.example.com/upload" || resp.Method != "PUT" {
		t.Errorf("unexpected response %+v", resp)
	}
	if gotOpts.Upload == nil || gotOpts.Upload.ContentType != "image/jpeg" {
		t.Fatalf("upload options not forwarded: %+v", gotOpts)
	}
	if gotOpts.Upload.MaxSize != 5<<20 {
		t.Errorf("unexpected max size %d", gotOpts.Upload.MaxSize)
	}
}

func TestIssueProductImageUploadRejectsOversize(t *testing.T) {
	f := newCatalogFixture()
	svc := f.service(t)

	_, err := svc.IssueProductImageUpload(context.Background(), ProductImageUploadCommand{
		ProductID:   "prd_1",
		FileName:    "huge.jpg",
		ContentType: "image/jpeg",
		SizeBytes:   6 << 20,
		Actor:       Actor{ID: "owner-1", Roles: []string{RoleMarketAdmin}},
	})
	if !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestIssueProductImageUploadForbiddenForNonOwner(t *testing.T) {
	f := newCatalogFixture()
	svc := f.service(t)

	_, err := svc.IssueProductImageUpload(context.Background(), ProductImageUploadCommand{
		ProductID:   "prd_1",
		FileName:    "photo.jpg",
		ContentType: "image/jpeg",
		SizeBytes:   1024,
		Actor:       Actor{ID: "owner-2", Roles: []string{RoleMarketAdmin}},
	})
	if !errors.Is(err, ErrCatalogForbidden) {
		t.Fatalf("expected forbidden error, got %v", err)
	}
}

func TestGetMarketNotFound(t *testing.T) {
	f := newCatalogFixture()
	svc := f.service(t)

	if _, err := svc.GetMarket(context.Background(), "mkt_missing"); !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
	if _, err := svc.GetProduct(context.Background(), "prd_missing"); !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}
