package storage

import (
	"fmt"
	"strings"
	"sync"
)

// MediaPurpose captures high-level intent for storage layout decisions.
type MediaPurpose string

const (
	PurposeProductImage MediaPurpose = "product-image"
	PurposeMarketLogo   MediaPurpose = "market-logo"
)

// PathParams provide required identifiers to compose storage object keys.
type PathParams struct {
	MarketID  string
	ProductID string
	UploadID  string
	FileName  string
}

// PathBuilder composes the object path for a given media purpose.
type PathBuilder func(PathParams) (string, error)

var (
	pathBuilders = map[MediaPurpose]PathBuilder{
		PurposeProductImage: buildProductImagePath,
		PurposeMarketLogo:   buildMarketLogoPath,
	}
	pathBuildersMu sync.RWMutex
)

// RegisterPathBuilder overrides or registers a builder for a specific purpose.
func RegisterPathBuilder(purpose MediaPurpose, builder PathBuilder) {
	pathBuildersMu.Lock()
	defer pathBuildersMu.Unlock()
	if builder == nil {
		delete(pathBuilders, purpose)
		return
	}
	pathBuilders[purpose] = builder
}

// BuildObjectPath resolves the storage object path for the given purpose.
func BuildObjectPath(purpose MediaPurpose, params PathParams) (string, error) {
	pathBuildersMu.RLock()
	builder, ok := pathBuilders[purpose]
	pathBuildersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("storage: unsupported media purpose %q", purpose)
	}
	return builder(params)
}

func buildProductImagePath(params PathParams) (string, error) {
	marketID, err := validateSegment("marketID", params.MarketID)
	if err != nil {
		return "", err
	}
	productID, err := validateSegment("productID", params.ProductID)
	if err != nil {
		return "", err
	}
	uploadID, err := validateSegment("uploadID", params.UploadID)
	if err != nil {
		return "", err
	}
	fileName, err := validateFileName(params.FileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("markets/%s/products/%s/%s-%s", marketID, productID, uploadID, fileName), nil
}

func buildMarketLogoPath(params PathParams) (string, error) {
	marketID, err := validateSegment("marketID", params.MarketID)
	if err != nil {
		return "", err
	}
	uploadID, err := validateSegment("uploadID", params.UploadID)
	if err != nil {
		return "", err
	}
	fileName, err := validateFileName(params.FileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("markets/%s/logo/%s-%s", marketID, uploadID, fileName), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}

func validateFileName(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: fileName is required")
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: fileName contains invalid path characters")
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: fileName contains invalid traversal sequence")
	}
	return value, nil
}
