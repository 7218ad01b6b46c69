// Package resources holds request builders and response types for a few Stripe
// resources: refunds, Connect login links and treasury transaction entries.
package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/url"
	"strconv"

	"stripekit/client"
	"stripekit/request"
	"stripekit/retry"
)

// Send executes req and decodes the response into T.
func Send[T any](ctx context.Context, c *client.Client, req request.Request, policy retry.Policy) (T, error) {
	return client.Execute[T](ctx, c, req, policy)
}

// List 列表接口的统一响应结构
type List[T any] struct {
	Object  string `json:"object"`
	Data    []T    `json:"data"`
	HasMore bool   `json:"has_more"`
	URL     string `json:"url"`
}

// ListParams are the cursor parameters shared by every list endpoint.
type ListParams struct {
	Limit         *int64   `form:"limit"`
	StartingAfter string   `form:"starting_after,omitempty"`
	EndingBefore  string   `form:"ending_before,omitempty"`
	Expand        []string `form:"expand"`
}

// RangeQuery filters a timestamp field, e.g. created[gte]=1700000000.
type RangeQuery struct {
	Gt  *int64 `form:"gt"`
	Gte *int64 `form:"gte"`
	Lt  *int64 `form:"lt"`
	Lte *int64 `form:"lte"`
}

// Identified is implemented by objects that can be used as a pagination cursor.
type Identified interface {
	ObjectID() string
}

// All pages through a list endpoint, following has_more with starting_after.
// Each page is fetched under policy; iteration stops at the first error.
func All[T Identified](ctx context.Context, c *client.Client, req request.Request, policy retry.Policy) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		page := req
		for {
			list, err := Send[List[T]](ctx, c, page, policy)
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			for _, item := range list.Data {
				if !yield(item, nil) {
					return
				}
			}
			if !list.HasMore || len(list.Data) == 0 {
				return
			}
			last := list.Data[len(list.Data)-1].ObjectID()
			page = withCursor(req, last)
		}
	}
}

func withCursor(req request.Request, startingAfter string) request.Request {
	q := req.Query()
	q.Del("starting_after")
	q.Del("ending_before")
	q.Set("starting_after", startingAfter)
	next := request.New(req.Method(), req.Path()).WithQuery(q).WithStripeAccount(req.StripeAccount())
	for k, vs := range req.Header() {
		if len(vs) > 0 {
			next = next.WithHeader(k, vs[0])
		}
	}
	return next
}

func expandQuery(expand []string) url.Values {
	q := url.Values{}
	for i, e := range expand {
		q.Set("expand["+strconv.Itoa(i)+"]", e)
	}
	return q
}

// Expandable is a field Stripe returns either as an ID or, when requested with
// expand, as the full object.
type Expandable[T any] struct {
	ID     string
	Object *T
}

func (e *Expandable[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &e.ID)
	}

	var ref struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &ref); err != nil {
		return fmt.Errorf("expandable field: %w", err)
	}
	var obj T
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("expandable field: %w", err)
	}
	e.ID = ref.ID
	e.Object = &obj
	return nil
}

func (e Expandable[T]) MarshalJSON() ([]byte, error) {
	if e.Object != nil {
		return json.Marshal(e.Object)
	}
	if e.ID == "" {
		return []byte("null"), nil
	}
	return json.Marshal(e.ID)
}

func (e Expandable[T]) IsExpanded() bool { return e.Object != nil }

// decodeEnum maps an unrecognized value to unknown instead of failing.
func decodeEnum[T ~string](data []byte, unknown T, known ...T) (T, error) {
	if string(data) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", err
	}
	for _, k := range known {
		if string(k) == s {
			return k, nil
		}
	}
	return unknown, nil
}
