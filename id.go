package ripple

import "github.com/xraph/ripple/id"

// ID is the primary identifier type for all ripple entities.
type ID = id.ID

// Prefix identifies the entity type encoded in an ID.
type Prefix = id.Prefix
