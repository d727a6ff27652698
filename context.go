package tierq

import "context"

// Context is the execution context passed to claim callbacks and
// lifecycle hooks. It is an alias for context.Context; caller identity
// travels on it via the auth package helpers.
type Context = context.Context
