package store

import "github.com/bobmcallan/jobmesh/internal/interfaces"

// Compile-time check that RedisStore satisfies the StateStore contract.
var _ interfaces.StateStore = (*RedisStore)(nil)
