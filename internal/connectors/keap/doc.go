// Package keap is the record source for the Keap CRM REST API.
//
// It provides:
//   - Client, which fetches one offset/limit page per call, authenticates
//     with an API key or OAuth bearer token and retries once after a 401
//   - the entity registry (endpoints, dependencies and SyncOrder)
//   - per-entity transforms from raw API items to normalised records
//
// Retrying, throttle handling and checkpointing live in the core services;
// the client reports non-2xx answers as *domain.APIError with the
// response headers attached.
package keap
