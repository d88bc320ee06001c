package services

import "github.com/oklog/ulid/v2"

// Prefixed ULID generators. The prefix makes identifiers self-describing in
// logs and audit trails while keeping lexicographic creation order.

func newOrderID() string { return "ord_" + ulid.Make().String() }

func newAuditID() string { return "aud_" + ulid.Make().String() }

func newReservationKey() string { return "rsv_" + ulid.Make().String() }

func newProofID() string { return "prf_" + ulid.Make().String() }
