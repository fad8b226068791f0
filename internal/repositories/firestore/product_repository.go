package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/food-market/api/internal/domain"
	pfirestore "github.com/food-market/api/internal/platform/firestore"
	"github.com/food-market/api/internal/platform/pagination"
	"github.com/food-market/api/internal/repositories"
)

const productsCollection = "products"

// ProductRepository implements repositories.ProductRepository backed by Firestore.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &ProductRepository{provider: provider, products: base}, nil
}

// Insert creates the product document, failing when the ID is already taken.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product insert: id is required")
	}

	ref, err := r.products.DocumentRef(ctx, product.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newProductDocument(product)); err != nil {
		return pfirestore.WrapError("products.insert", err)
	}
	return nil
}

// Update replaces the product document.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product update: id is required")
	}

	ref, err := r.products.DocumentRef(ctx, product.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, newProductDocument(product)); err != nil {
		return pfirestore.WrapError("products.update", err)
	}
	return nil
}

// FindByID fetches a single product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product find: id is required")
	}

	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns products matching the filter, ordered by name.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
	}

	query := client.Collection(productsCollection).Query
	if marketID := strings.TrimSpace(filter.MarketID); marketID != "" {
		query = query.Where("marketId", "==", marketID)
	}
	if filter.Category != nil {
		query = query.Where("category", "==", string(*filter.Category))
	}
	if filter.Organic != nil {
		query = query.Where("organic", "==", *filter.Organic)
	}
	if filter.ActiveOnly {
		query = query.Where("active", "==", true)
	}
	if filter.MaxPrice != nil {
		query = query.Where("unitPrice", "<=", *filter.MaxPrice).OrderBy("unitPrice", firestore.Asc)
	}
	query = query.OrderBy("name", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeProductPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		if filter.MaxPrice != nil {
			query = query.StartAfter(decoded.UnitPrice, decoded.Name, decoded.ID)
		} else {
			query = query.StartAfter(decoded.Name, decoded.ID)
		}
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var products []domain.Product
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		products = append(products, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(products) > pageSize
	if hasMore {
		products = products[:pageSize]
	}
	var nextToken string
	if hasMore && len(products) > 0 {
		last := products[len(products)-1]
		encoded, err := encodeProductPageToken(productPageToken{ID: last.ID, Name: last.Name, UnitPrice: last.UnitPrice})
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Product]{
		Items:         products,
		NextPageToken: nextToken,
	}, nil
}

// SetActive flips the active flag without touching the rest of the document.
func (r *ProductRepository) SetActive(ctx context.Context, productID string, active bool, now time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return errors.New("product set active: id is required")
	}

	_, err := r.products.Update(ctx, productID, []firestore.Update{
		{Path: "active", Value: active},
		{Path: "updatedAt", Value: now.UTC()},
	})
	return err
}

// AdjustStock applies all stock deltas in one transaction. Either every line
// lands or none does, so concurrent requests cannot leave partial decrements.
func (r *ProductRepository) AdjustStock(ctx context.Context, req repositories.StockAdjustment) (map[string]domain.Product, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}
	if len(req.Lines) == 0 {
		return nil, errors.New("product adjust stock: at least one line is required")
	}

	lines := make([]repositories.StockLine, len(req.Lines))
	copy(lines, req.Lines)
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })

	now := req.Now.UTC()
	var result map[string]domain.Product

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// All reads happen before any write; Firestore transactions forbid
		// reading after the first mutation.
		type pendingWrite struct {
			ref *firestore.DocumentRef
			doc productDocument
			id  string
		}
		writes := make([]pendingWrite, 0, len(lines))
		for _, line := range lines {
			productID := strings.TrimSpace(line.ProductID)
			if productID == "" {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, productID, "product id is required", nil)
			}
			if line.Delta == 0 {
				return repositories.NewStockError(repositories.StockErrorUnknown, productID, fmt.Sprintf("stock delta for %s must be non-zero", productID), nil)
			}

			ref, err := r.products.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewStockError(repositories.StockErrorProductNotFound, productID, fmt.Sprintf("product %s not found", productID), err)
				}
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", productID, err)
			}
			if req.RequireActive && !doc.Active {
				return repositories.NewStockError(repositories.StockErrorProductInactive, productID, fmt.Sprintf("product %s is not active", productID), nil)
			}
			newQuantity := doc.StockQuantity + line.Delta
			if newQuantity < 0 {
				return repositories.NewStockError(repositories.StockErrorInsufficient, productID, fmt.Sprintf("insufficient stock for %s: have %d, need %d", productID, doc.StockQuantity, -line.Delta), nil)
			}
			doc.StockQuantity = newQuantity
			doc.UpdatedAt = now
			writes = append(writes, pendingWrite{ref: ref, doc: doc, id: productID})
		}

		updated := make(map[string]domain.Product, len(writes))
		for _, write := range writes {
			if err := tx.Set(write.ref, write.doc); err != nil {
				return err
			}
			updated[write.id] = write.doc.toDomain(write.id)
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, wrapStockError("products.adjustStock", err)
	}
	return result, nil
}

// Helper structures ---------------------------------------------------------

type productDocument struct {
	MarketID      string    `firestore:"marketId"`
	Name          string    `firestore:"name"`
	Description   string    `firestore:"description,omitempty"`
	Category      string    `firestore:"category"`
	Unit          string    `firestore:"unit"`
	UnitPrice     int64     `firestore:"unitPrice"`
	Currency      string    `firestore:"currency"`
	StockQuantity int64     `firestore:"stockQuantity"`
	ImageURL      string    `firestore:"imageUrl,omitempty"`
	Origin        string    `firestore:"origin,omitempty"`
	Organic       bool      `firestore:"organic"`
	Active        bool      `firestore:"active"`
	TotalSold     int64     `firestore:"totalSold"`
	TotalRevenue  int64     `firestore:"totalRevenue"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func newProductDocument(p domain.Product) productDocument {
	return productDocument{
		MarketID:      strings.TrimSpace(p.MarketID),
		Name:          strings.TrimSpace(p.Name),
		Description:   strings.TrimSpace(p.Description),
		Category:      string(p.Category),
		Unit:          strings.TrimSpace(p.Unit),
		UnitPrice:     p.UnitPrice,
		Currency:      strings.TrimSpace(p.Currency),
		StockQuantity: p.StockQuantity,
		ImageURL:      strings.TrimSpace(p.ImageURL),
		Origin:        strings.TrimSpace(p.Origin),
		Organic:       p.Organic,
		Active:        p.Active,
		TotalSold:     p.TotalSold,
		TotalRevenue:  p.TotalRevenue,
		CreatedAt:     p.CreatedAt.UTC(),
		UpdatedAt:     p.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:            id,
		MarketID:      strings.TrimSpace(d.MarketID),
		Name:          strings.TrimSpace(d.Name),
		Description:   strings.TrimSpace(d.Description),
		Category:      domain.ProductCategory(d.Category),
		Unit:          strings.TrimSpace(d.Unit),
		UnitPrice:     d.UnitPrice,
		Currency:      strings.TrimSpace(d.Currency),
		StockQuantity: d.StockQuantity,
		ImageURL:      strings.TrimSpace(d.ImageURL),
		Origin:        strings.TrimSpace(d.Origin),
		Organic:       d.Organic,
		Active:        d.Active,
		TotalSold:     d.TotalSold,
		TotalRevenue:  d.TotalRevenue,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

type productPageToken struct {
	ID        string
	Name      string
	UnitPrice int64
}

func encodeProductPageToken(token productPageToken) (string, error) {
	return pagination.EncodeToken(token)
}

func decodeProductPageToken(encoded string) (*productPageToken, error) {
	return pagination.DecodeToken[productPageToken](encoded)
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}
