package saga

import "github.com/xraph/saga/id"

// ID is the primary identifier type for all saga entities.
type ID = id.ID

// Prefix identifies the entity type encoded in an ID.
type Prefix = id.Prefix
