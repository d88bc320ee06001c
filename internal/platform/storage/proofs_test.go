package storage

import (
	"testing"

	"github.com/arbora/orders-api/internal/platform/auth"
)

func TestBuildProofObjectPath(t *testing.T) {
	path, err := BuildProofObjectPath("ord_01H", "prf_01H", "photo.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "orders/ord_01H/proofs/prf_01H/photo.jpg" {
		t.Fatalf("unexpected path %q", path)
	}

	if _, err := BuildProofObjectPath("", "prf_01H", "photo.jpg"); err == nil {
		t.Fatal("expected error for missing order id")
	}
	if _, err := BuildProofObjectPath("ord_01H", "prf_01H", "../escape.jpg"); err == nil {
		t.Fatal("expected error for traversal sequence")
	}
	if _, err := BuildProofObjectPath("ord_01H", "prf_01H", "a/b.jpg"); err == nil {
		t.Fatal("expected error for path separator")
	}
}

func TestAuthorizeProofUpload(t *testing.T) {
	if err := AuthorizeProofUpload(auth.RoleShipper, "shp_1", "shp_1"); err != nil {
		t.Fatalf("assigned shipper should upload: %v", err)
	}
	if err := AuthorizeProofUpload(auth.RoleShipper, "shp_1", "shp_2"); err == nil {
		t.Fatal("unassigned shipper should be rejected")
	}
	if err := AuthorizeProofUpload(auth.RoleShipper, "shp_1", ""); err == nil {
		t.Fatal("shipper should be rejected when the order has no assignment")
	}

	if err := AuthorizeProofUpload(auth.RoleAdmin, "adm_1", "shp_2"); err != nil {
		t.Fatalf("admin should upload: %v", err)
	}

	if err := AuthorizeProofUpload(auth.RoleCustomer, "cus_1", "shp_1"); err == nil {
		t.Fatal("customer should be rejected")
	}
	if err := AuthorizeProofUpload(auth.RoleAdmin, "  ", "shp_1"); err == nil {
		t.Fatal("blank actor id should be rejected")
	}
}
