package resources

import (
	"fmt"

	"stripekit/request"
)

// LoginLink is a single-use URL to the Express dashboard of a connected account.
type LoginLink struct {
	Object  string `json:"object"`
	Created int64  `json:"created"`
	URL     string `json:"url"`
}

// CreateLoginLink creates a login link for an Express account.
func CreateLoginLink(account string, expand ...string) (request.Request, error) {
	if account == "" {
		return request.Request{}, fmt.Errorf("account id is required")
	}
	return request.Post(request.Pathf("/v1/accounts/%s/login_links", account)).
		WithForm(struct {
			Expand []string `form:"expand"`
		}{Expand: expand})
}
