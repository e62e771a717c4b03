// Package transport declares the request/response interface of the remote
// system of record. Implementations live outside this module; fake provides
// an in-memory one for tests and demos.
package transport

import (
	"context"

	"github.com/huykn/entity-sync/keys"
	"github.com/huykn/entity-sync/types"
)

// Page is one page of a list response.
type Page[E types.Entity] struct {
	Items []E `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// BulkResult reports the two disjoint outcome lists of a bulk operation.
// Entities carries the updated entity of every succeeded id the remote
// system returned.
type BulkResult[E types.Entity] struct {
	Success  []string `json:"success"`
	Failed   []string `json:"failed"`
	Entities []E      `json:"entities,omitempty"`
}

// Client is the per-kind transport collaborator. Every response carries the
// full updated entity unless the client is declared partial.
type Client[E types.Entity] interface {
	List(ctx context.Context, filters keys.Params) (Page[E], error)
	Get(ctx context.Context, id string) (E, error)
	Create(ctx context.Context, payload any) (E, error)
	Update(ctx context.Context, id string, payload any) (E, error)
	SetStatus(ctx context.Context, id string, status string) (E, error)
	BulkSetStatus(ctx context.Context, ids []string, status string) (BulkResult[E], error)
}
