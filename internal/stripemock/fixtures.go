package stripemock

import (
	"fmt"
	"maps"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// fixtureStore 内置的退款数据，供 mock 命令演示完整流程
type fixtureStore struct {
	mu      sync.Mutex
	refunds map[string]map[string]any
	seq     int
}

// WithFixtures registers an in-memory refunds API plus balance, login link and
// treasury transaction entry endpoints. Scripted routes still apply to every
// other path.
func (s *Server) WithFixtures() *Server {
	store := &fixtureStore{refunds: make(map[string]map[string]any)}

	s.engine.GET("/v1/balance", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"object":    "balance",
			"livemode":  false,
			"available": []gin.H{{"amount": 0, "currency": "usd"}},
			"pending":   []gin.H{{"amount": 0, "currency": "usd"}},
		})
	})
	s.engine.POST("/v1/refunds", store.createRefund)
	s.engine.GET("/v1/refunds", store.listRefunds)
	s.engine.GET("/v1/refunds/:id", store.withRefund(func(c *gin.Context, refund map[string]any) {
		c.JSON(http.StatusOK, refund)
	}))
	s.engine.POST("/v1/refunds/:id", store.withRefund(func(c *gin.Context, refund map[string]any) {
		if err := c.Request.ParseForm(); err == nil {
			for k, vs := range c.Request.PostForm {
				if key, ok := strings.CutPrefix(k, "metadata["); ok {
					refund["metadata"].(map[string]any)[strings.TrimSuffix(key, "]")] = vs[0]
				}
			}
		}
		c.JSON(http.StatusOK, refund)
	}))
	s.engine.POST("/v1/refunds/:id/cancel", store.withRefund(func(c *gin.Context, refund map[string]any) {
		if refund["status"] != "requires_action" {
			c.JSON(http.StatusBadRequest, stripeError("invalid_request_error", "charge_already_refunded",
				fmt.Sprintf("Refund %s cannot be canceled because it has a status of %s.", refund["id"], refund["status"])))
			return
		}
		refund["status"] = "canceled"
		c.JSON(http.StatusOK, refund)
	}))
	s.engine.POST("/v1/accounts/:account/login_links", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"object":  "login_link",
			"created": time.Now().Unix(),
			"url":     "https://connect.stripe.com/express/" + c.Param("account") + "/mock",
		})
	})
	s.engine.GET("/v1/treasury/transaction_entries", func(c *gin.Context) {
		if c.Query("financial_account") == "" {
			c.JSON(http.StatusBadRequest, stripeError("invalid_request_error", "parameter_missing", "Missing required param: financial_account."))
			return
		}
		c.JSON(http.StatusOK, gin.H{"object": "list", "data": []any{}, "has_more": false, "url": "/v1/treasury/transaction_entries"})
	})

	return s
}

func stripeError(errType, code, message string) gin.H {
	return gin.H{"error": gin.H{"type": errType, "code": code, "message": message}}
}

func (f *fixtureStore) createRefund(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, stripeError("invalid_request_error", "parameter_invalid_empty", err.Error()))
		return
	}
	form := c.Request.PostForm
	charge, paymentIntent := form.Get("charge"), form.Get("payment_intent")
	if charge == "" && paymentIntent == "" {
		c.JSON(http.StatusBadRequest, stripeError("invalid_request_error", "parameter_missing",
			"One of the following params should be provided for this request: payment_intent or charge."))
		return
	}
	amount := int64(1000)
	if v := form.Get("amount"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, stripeError("invalid_request_error", "parameter_invalid_integer", "Invalid integer: "+v))
			return
		}
		amount = n
	}

	f.mu.Lock()
	f.seq++
	refund := map[string]any{
		"id":             "re_mock_" + uuid.NewString()[:8],
		"object":         "refund",
		"amount":         amount,
		"currency":       "usd",
		"charge":         charge,
		"payment_intent": paymentIntent,
		"created":        time.Now().Unix() + int64(f.seq),
		"metadata":       map[string]any{},
		"status":         "succeeded",
	}
	if reason := form.Get("reason"); reason != "" {
		refund["reason"] = reason
	}
	// 金额为 4242 的退款保持 requires_action，便于演示取消
	if amount == 4242 {
		refund["status"] = "requires_action"
	}
	f.refunds[refund["id"].(string)] = refund
	f.mu.Unlock()

	c.JSON(http.StatusOK, refund)
}

func (f *fixtureStore) listRefunds(c *gin.Context) {
	limit := 10
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	charge := c.Query("charge")

	f.mu.Lock()
	data := make([]map[string]any, 0, len(f.refunds))
	for _, r := range f.refunds {
		if charge == "" || r["charge"] == charge {
			data = append(data, maps.Clone(r))
		}
	}
	f.mu.Unlock()

	sort.Slice(data, func(i, j int) bool { return data[i]["created"].(int64) > data[j]["created"].(int64) })
	if after := c.Query("starting_after"); after != "" {
		for i, r := range data {
			if r["id"] == after {
				data = data[i+1:]
				break
			}
		}
	}
	hasMore := len(data) > limit
	if hasMore {
		data = data[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data, "has_more": hasMore, "url": "/v1/refunds"})
}

func (f *fixtureStore) withRefund(fn func(*gin.Context, map[string]any)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		f.mu.Lock()
		defer f.mu.Unlock()
		refund, ok := f.refunds[id]
		if !ok {
			c.JSON(http.StatusNotFound, stripeError("invalid_request_error", "resource_missing", fmt.Sprintf("No such refund: '%s'", id)))
			return
		}
		fn(c, refund)
	}
}
