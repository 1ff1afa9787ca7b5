package apiclient

import (
	"context"
	"net/url"

	"kasiran/admin/internal/domain"
)

// Resource binds the client to one /v1/app/{resource} collection so a list
// page can use it as its data source.
type Resource struct {
	client *Client
	name   string
}

func (c *Client) Resource(name string) *Resource {
	return &Resource{client: c, name: name}
}

func (r *Resource) Name() string {
	return r.name
}

func (r *Resource) List(ctx context.Context, query domain.ListQuery) (domain.ListResult[domain.Record], error) {
	return List[domain.Record](ctx, r.client, r.name, query)
}

func (r *Resource) Get(ctx context.Context, id int64, params url.Values) (domain.Record, error) {
	return Get[domain.Record](ctx, r.client, r.name, id, params)
}

func (r *Resource) Delete(ctx context.Context, id int64) error {
	return r.client.Delete(ctx, r.name, id)
}

func (r *Resource) BulkDelete(ctx context.Context, ids []int64) error {
	return r.client.BulkDelete(ctx, r.name, ids)
}

func (r *Resource) Create(ctx context.Context, payload Payload) error {
	_, err := r.client.Create(ctx, r.name, payload)
	return err
}

func (r *Resource) Update(ctx context.Context, id int64, payload Payload) error {
	_, err := r.client.Update(ctx, r.name, id, payload)
	return err
}
