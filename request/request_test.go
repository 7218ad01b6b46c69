package request

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type address struct {
	City    string `form:"city"`
	Country string `form:"country,omitempty"`
}

type Pagination struct {
	Limit *int64 `form:"limit"`
}

type createParams struct {
	Pagination
	Amount   *int64            `form:"amount"`
	Charge   string            `form:"charge,omitempty"`
	Reason   *string           `form:"reason"`
	Expand   []string          `form:"expand"`
	Metadata map[string]string `form:"metadata"`
	Address  *address          `form:"address"`
	Instant  bool              `form:"instant"`
	Created  time.Time         `form:"created,omitempty"`
	Internal string            `form:"-"`
}

func ptr[T any](v T) *T { return &v }

func TestEncodeForm_Nested(t *testing.T) {
	values, err := EncodeForm(createParams{
		Pagination: Pagination{Limit: ptr(int64(10))},
		Amount:     ptr(int64(500)),
		Expand:     []string{"charge", "payment_intent"},
		Metadata:   map[string]string{"order": "42", "customer": "c_1"},
		Address:    &address{City: "Berlin"},
		Instant:    true,
		Created:    time.Unix(1700000000, 0),
		Internal:   "skip me",
	})
	require.NoError(t, err)

	want := url.Values{
		"limit":              {"10"},
		"amount":             {"500"},
		"expand[0]":          {"charge"},
		"expand[1]":          {"payment_intent"},
		"metadata[customer]": {"c_1"},
		"metadata[order]":    {"42"},
		"address[city]":      {"Berlin"},
		"instant":            {"true"},
		"created":            {"1700000000"},
	}
	if diff := cmp.Diff(want, values); diff != "" {
		t.Errorf("encoded form mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeForm_NilAndUnsupported(t *testing.T) {
	values, err := EncodeForm(nil)
	require.NoError(t, err)
	assert.Empty(t, values)

	var p *createParams
	values, err = EncodeForm(p)
	require.NoError(t, err)
	assert.Empty(t, values)

	_, err = EncodeForm(42)
	assert.Error(t, err)

	_, err = EncodeForm(struct {
		C chan int `form:"c"`
	}{C: make(chan int)})
	assert.Error(t, err)
}

func TestWithForm_PlacesParamsByMethod(t *testing.T) {
	params := map[string]any{"limit": 3, "charge": "ch_1"}

	get, err := Get("/v1/refunds").WithForm(params)
	require.NoError(t, err)
	assert.False(t, get.HasBody())
	assert.Equal(t, "https://api.stripe.com/v1/refunds?charge=ch_1&limit=3", get.URL("https://api.stripe.com/"))

	post, err := Post("/v1/refunds").WithForm(params)
	require.NoError(t, err)
	assert.Equal(t, ContentTypeForm, post.ContentType())
	assert.Equal(t, "charge=ch_1&limit=3", string(post.Body()))
	assert.Equal(t, "https://api.stripe.com/v1/refunds", post.URL("https://api.stripe.com"))
}

func TestRequest_Immutable(t *testing.T) {
	base := Post("/v1/refunds").WithBody(ContentTypeForm, []byte("amount=1"))

	withKey := base.WithIdempotencyKey("k1").WithHeader("X-Test", "1").WithStripeAccount("acct_1")
	assert.Empty(t, base.IdempotencyKey())
	assert.Empty(t, base.Header().Get("X-Test"))
	assert.Empty(t, base.StripeAccount())
	assert.Equal(t, "k1", withKey.IdempotencyKey())
	assert.Equal(t, "acct_1", withKey.StripeAccount())

	body := base.Body()
	body[0] = 'X'
	assert.Equal(t, "amount=1", string(base.Body()), "Body returns a copy")

	q := base.WithQuery(url.Values{"a": {"1"}})
	q2 := q.WithQuery(url.Values{"a": {"2"}})
	assert.Equal(t, []string{"1"}, q.Query()["a"])
	assert.Equal(t, []string{"1", "2"}, q2.Query()["a"])
}

func TestNew_NormalizesMethodAndPath(t *testing.T) {
	r := New("post", "v1/refunds")
	assert.Equal(t, http.MethodPost, r.Method())
	assert.Equal(t, "/v1/refunds", r.Path())
	assert.Equal(t, "POST /v1/refunds", r.String())
}

func TestPathf_EscapesSegments(t *testing.T) {
	assert.Equal(t, "/v1/refunds/re_1%2F..%2Fx/cancel", Pathf("/v1/refunds/%s/cancel", "re_1/../x"))
}

func TestWithJSON(t *testing.T) {
	r, err := Post("/v1/x").WithJSON(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, ContentTypeJSON, r.ContentType())
	assert.JSONEq(t, `{"a":1}`, string(r.Body()))

	_, err = Post("/v1/x").WithJSON(make(chan int))
	assert.Error(t, err)
}

// TestEncodeForm_Deterministic 属性测试：同一组参数多次编码结果完全一致
func TestEncodeForm_Deterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		meta := rapid.MapOf(rapid.StringMatching(`[a-z]{1,8}`), rapid.String()).Draw(t, "metadata")
		expand := rapid.SliceOf(rapid.StringMatching(`[a-z_]{1,12}`)).Draw(t, "expand")
		p := createParams{Metadata: meta, Expand: expand, Amount: ptr(rapid.Int64().Draw(t, "amount"))}

		first, err := EncodeForm(p)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		for i := 0; i < 3; i++ {
			again, _ := EncodeForm(p)
			if first.Encode() != again.Encode() {
				t.Fatalf("encoding not deterministic: %q vs %q", first.Encode(), again.Encode())
			}
		}
		if len(first)-2 != len(meta)+len(expand) {
			t.Fatalf("expected %d keys, got %d", len(meta)+len(expand)+2, len(first))
		}
	})
}
