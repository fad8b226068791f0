package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/food-market/api/internal/domain"
	pfirestore "github.com/food-market/api/internal/platform/firestore"
	"github.com/food-market/api/internal/platform/pagination"
	"github.com/food-market/api/internal/repositories"
)

const marketsCollection = "markets"

// MarketRepository implements repositories.MarketRepository backed by Firestore.
type MarketRepository struct {
	provider *pfirestore.Provider
	markets  *pfirestore.BaseRepository[marketDocument]
}

// NewMarketRepository constructs a Firestore-backed market repository.
func NewMarketRepository(provider *pfirestore.Provider) (*MarketRepository, error) {
	if provider == nil {
		return nil, errors.New("market repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[marketDocument](provider, marketsCollection, nil, nil)
	return &MarketRepository{provider: provider, markets: base}, nil
}

// Insert creates the market document, failing when the ID is already taken.
func (r *MarketRepository) Insert(ctx context.Context, market domain.Market) error {
	if r == nil || r.provider == nil {
		return errors.New("market repository not initialised")
	}
	if strings.TrimSpace(market.ID) == "" {
		return errors.New("market insert: id is required")
	}

	ref, err := r.markets.DocumentRef(ctx, market.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newMarketDocument(market)); err != nil {
		return pfirestore.WrapError("markets.insert", err)
	}
	return nil
}

// Update replaces the market document.
func (r *MarketRepository) Update(ctx context.Context, market domain.Market) error {
	if r == nil || r.provider == nil {
		return errors.New("market repository not initialised")
	}
	if strings.TrimSpace(market.ID) == "" {
		return errors.New("market update: id is required")
	}

	ref, err := r.markets.DocumentRef(ctx, market.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, newMarketDocument(market)); err != nil {
		return pfirestore.WrapError("markets.update", err)
	}
	return nil
}

// FindByID fetches a single market.
func (r *MarketRepository) FindByID(ctx context.Context, marketID string) (domain.Market, error) {
	if r == nil || r.markets == nil {
		return domain.Market{}, errors.New("market repository not initialised")
	}
	marketID = strings.TrimSpace(marketID)
	if marketID == "" {
		return domain.Market{}, errors.New("market find: id is required")
	}

	doc, err := r.markets.Get(ctx, marketID)
	if err != nil {
		return domain.Market{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns markets matching the filter, ordered by name.
func (r *MarketRepository) List(ctx context.Context, filter repositories.MarketListFilter) (domain.CursorPage[domain.Market], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Market]{}, errors.New("market repository not initialised")
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
		return domain.CursorPage[domain.Market]{}, pfirestore.WrapError("markets.list", err)
	}

	query := client.Collection(marketsCollection).Query
	if city := strings.TrimSpace(filter.City); city != "" {
		query = query.Where("city", "==", city)
	}
	if len(filter.Tags) > 0 {
		query = query.Where("tags", "array-contains-any", filter.Tags)
	}
	if filter.ActiveOnly {
		query = query.Where("active", "==", true)
	}
	if filter.VerifiedOnly {
		query = query.Where("verified", "==", true)
	}
	query = query.OrderBy("name", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeMarketPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Market]{}, pfirestore.WrapError("markets.list", err)
		}
		query = query.StartAfter(decoded.Name, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var markets []domain.Market
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Market]{}, pfirestore.WrapError("markets.list", err)
		}
		var doc marketDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Market]{}, fmt.Errorf("decode market %s: %w", snap.Ref.ID, err)
		}
		markets = append(markets, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(markets) > pageSize
	if hasMore {
		markets = markets[:pageSize]
	}
	var nextToken string
	if hasMore && len(markets) > 0 {
		last := markets[len(markets)-1]
		encoded, err := encodeMarketPageToken(marketPageToken{ID: last.ID, Name: last.Name})
		if err != nil {
			return domain.CursorPage[domain.Market]{}, pfirestore.WrapError("markets.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Market]{
		Items:         markets,
		NextPageToken: nextToken,
	}, nil
}

// Helper structures ---------------------------------------------------------

type marketDocument struct {
	Name         string            `firestore:"name"`
	Description  string            `firestore:"description,omitempty"`
	Address      string            `firestore:"address,omitempty"`
	City         string            `firestore:"city,omitempty"`
	OwnerID      string            `firestore:"ownerId"`
	Phone        string            `firestore:"phone,omitempty"`
	Email        string            `firestore:"email,omitempty"`
	OpeningHours map[string]string `firestore:"openingHours,omitempty"`
	Tags         []string          `firestore:"tags,omitempty"`
	Active       bool              `firestore:"active"`
	Verified     bool              `firestore:"verified"`
	CreatedAt    time.Time         `firestore:"createdAt"`
	UpdatedAt    time.Time         `firestore:"updatedAt"`
}

func newMarketDocument(m domain.Market) marketDocument {
	return marketDocument{
		Name:         strings.TrimSpace(m.Name),
		Description:  strings.TrimSpace(m.Description),
		Address:      strings.TrimSpace(m.Address),
		City:         strings.TrimSpace(m.City),
		OwnerID:      strings.TrimSpace(m.OwnerID),
		Phone:        strings.TrimSpace(m.Phone),
		Email:        strings.TrimSpace(m.Email),
		OpeningHours: m.OpeningHours,
		Tags:         m.Tags,
		Active:       m.Active,
		Verified:     m.Verified,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

func (d marketDocument) toDomain(id string) domain.Market {
	return domain.Market{
		ID:           id,
		Name:         strings.TrimSpace(d.Name),
		Description:  strings.TrimSpace(d.Description),
		Address:      strings.TrimSpace(d.Address),
		City:         strings.TrimSpace(d.City),
		OwnerID:      strings.TrimSpace(d.OwnerID),
		Phone:        strings.TrimSpace(d.Phone),
		Email:        strings.TrimSpace(d.Email),
		OpeningHours: d.OpeningHours,
		Tags:         d.Tags,
		Active:       d.Active,
		Verified:     d.Verified,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

type marketPageToken struct {
	ID   string
	Name string
}

func encodeMarketPageToken(token marketPageToken) (string, error) {
	return pagination.EncodeToken(token)
}

func decodeMarketPageToken(encoded string) (*marketPageToken, error) {
	return pagination.DecodeToken[marketPageToken](encoded)
}
