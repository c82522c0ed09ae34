package farmledger

import "github.com/xraph/farmledger/id"

// ID is the primary identifier type for all farmledger entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
