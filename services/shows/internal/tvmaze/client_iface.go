package tvmaze

import "context"

// Provider is the port for fetching show pages from the upstream catalog.
type Provider interface {
	FetchPage(ctx context.Context, page int) ([]ShowRecord, error)
}
