package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arbora/orders-api/internal/platform/auth"
)

// ErrPermissionDenied is returned when the caller lacks permission to access the object.
var ErrPermissionDenied = errors.New("storage: permission denied")

// ProofContentTypes lists the content types accepted for delivery proof uploads.
var ProofContentTypes = []string{"image/jpeg", "image/png", "image/webp"}

// MaxProofSizeBytes caps the size of a single delivery proof upload.
const MaxProofSizeBytes = 10 << 20

// BuildProofObjectPath composes the Cloud Storage object key for a delivery
// proof attached to an order.
func BuildProofObjectPath(orderID, proofID, fileName string) (string, error) {
	orderID, err := validateSegment("orderID", orderID)
	if err != nil {
		return "", err
	}
	proofID, err = validateSegment("proofID", proofID)
	if err != nil {
		return "", err
	}
	fileName, err = validateSegment("fileName", fileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("orders/%s/proofs/%s/%s", orderID, proofID, fileName), nil
}

// AuthorizeProofUpload permits the assigned shipper and admins to attach
// delivery proofs to an order. Role values follow the auth custom claims.
func AuthorizeProofUpload(actorRole, actorID, assignedShipperID string) error {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return ErrPermissionDenied
	}
	switch strings.ToLower(strings.TrimSpace(actorRole)) {
	case auth.RoleAdmin:
		return nil
	case auth.RoleShipper:
		if assignedShipperID != "" && actorID == assignedShipperID {
			return nil
		}
	}
	return ErrPermissionDenied
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
