package storage

import "testing"

func TestBuildProductImagePath(t *testing.T) {
	path, err := BuildObjectPath(PurposeProductImage, PathParams{
		MarketID:  "mkt_123",
		ProductID: "prd_456",
		UploadID:  "upload789",
		FileName:  "tomatoes.jpg",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "markets/mkt_123/products/prd_456/upload789-tomatoes.jpg"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildMarketLogoPath(t *testing.T) {
	path, err := BuildObjectPath(PurposeMarketLogo, PathParams{
		MarketID: "mkt_123",
		UploadID: "upload789",
		FileName: "logo.png",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "markets/mkt_123/logo/upload789-logo.png"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildObjectPathRejectsInvalidSegment(t *testing.T) {
	_, err := BuildObjectPath(PurposeProductImage, PathParams{
		MarketID:  "../bad",
		ProductID: "prd_456",
		UploadID:  "upload",
		FileName:  "file.png",
	})
	if err == nil {
		t.Fatal("expected error for traversal segment")
	}
}

func TestBuildObjectPathRejectsPathSeparatorInFileName(t *testing.T) {
	_, err := BuildObjectPath(PurposeProductImage, PathParams{
		MarketID:  "mkt_123",
		ProductID: "prd_456",
		UploadID:  "upload",
		FileName:  "a/b.png",
	})
	if err == nil {
		t.Fatal("expected error for file name with separator")
	}
}

func TestBuildObjectPathUnknownPurpose(t *testing.T) {
	_, err := BuildObjectPath(MediaPurpose("unknown"), PathParams{})
	if err == nil {
		t.Fatal("expected error for unknown purpose")
	}
}

func TestRegisterPathBuilderOverride(t *testing.T) {
	custom := MediaPurpose("custom")
	RegisterPathBuilder(custom, func(params PathParams) (string, error) {
		return "custom/" + params.FileName, nil
	})
	defer RegisterPathBuilder(custom, nil)

	path, err := BuildObjectPath(custom, PathParams{FileName: "x.bin"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "custom/x.bin" {
		t.Fatalf("unexpected path %s", path)
	}
}
