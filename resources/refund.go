package resources

import (
	"context"
	"fmt"

	"stripekit/client"
	"stripekit/request"
	"stripekit/retry"
)

// RefundStatus 退款状态，未识别的值解码为 RefundStatusUnknown
type RefundStatus string

const (
	RefundStatusCanceled       RefundStatus = "canceled"
	RefundStatusFailed         RefundStatus = "failed"
	RefundStatusPending        RefundStatus = "pending"
	RefundStatusRequiresAction RefundStatus = "requires_action"
	RefundStatusSucceeded      RefundStatus = "succeeded"
	RefundStatusUnknown        RefundStatus = "unknown"
)

func (s *RefundStatus) UnmarshalJSON(data []byte) error {
	v, err := decodeEnum(data, RefundStatusUnknown,
		RefundStatusCanceled, RefundStatusFailed, RefundStatusPending, RefundStatusRequiresAction, RefundStatusSucceeded)
	*s = v
	return err
}

// RefundReason 退款原因
type RefundReason string

const (
	RefundReasonDuplicate               RefundReason = "duplicate"
	RefundReasonExpiredUncapturedCharge RefundReason = "expired_uncaptured_charge"
	RefundReasonFraudulent              RefundReason = "fraudulent"
	RefundReasonRequestedByCustomer     RefundReason = "requested_by_customer"
	RefundReasonUnknown                 RefundReason = "unknown"
)

func (r *RefundReason) UnmarshalJSON(data []byte) error {
	v, err := decodeEnum(data, RefundReasonUnknown,
		RefundReasonDuplicate, RefundReasonExpiredUncapturedCharge, RefundReasonFraudulent, RefundReasonRequestedByCustomer)
	*r = v
	return err
}

// ParseRefundReason validates a reason accepted when creating a refund.
func ParseRefundReason(s string) (RefundReason, error) {
	switch r := RefundReason(s); r {
	case RefundReasonDuplicate, RefundReasonFraudulent, RefundReasonRequestedByCustomer:
		return r, nil
	default:
		return "", fmt.Errorf("invalid refund reason %q: must be duplicate, fraudulent or requested_by_customer", s)
	}
}

// CreateRefundOrigin 退款资金来源
type CreateRefundOrigin string

const (
	CreateRefundOriginCustomerBalance CreateRefundOrigin = "customer_balance"
	CreateRefundOriginUnknown         CreateRefundOrigin = "unknown"
)

func (o *CreateRefundOrigin) UnmarshalJSON(data []byte) error {
	v, err := decodeEnum(data, CreateRefundOriginUnknown, CreateRefundOriginCustomerBalance)
	*o = v
	return err
}

// Charge is the subset of the charge object returned when a refund is expanded.
type Charge struct {
	ID             string `json:"id"`
	Amount         int64  `json:"amount"`
	AmountRefunded int64  `json:"amount_refunded"`
	Currency       string `json:"currency"`
	Refunded       bool   `json:"refunded"`
}

// Refund 退款对象
type Refund struct {
	ID                 string             `json:"id"`
	Object             string             `json:"object"`
	Amount             int64              `json:"amount"`
	BalanceTransaction string             `json:"balance_transaction,omitempty"`
	Charge             Expandable[Charge] `json:"charge"`
	Created            int64              `json:"created"`
	Currency           string             `json:"currency"`
	Description        string             `json:"description,omitempty"`
	FailureReason      string             `json:"failure_reason,omitempty"`
	InstructionsEmail  string             `json:"instructions_email,omitempty"`
	Metadata           map[string]string  `json:"metadata"`
	PaymentIntent      string             `json:"payment_intent,omitempty"`
	Reason             RefundReason       `json:"reason,omitempty"`
	ReceiptNumber      string             `json:"receipt_number,omitempty"`
	Status             RefundStatus       `json:"status"`
}

func (r Refund) ObjectID() string { return r.ID }

type ListRefundsParams struct {
	ListParams
	Charge        string      `form:"charge,omitempty"`
	PaymentIntent string      `form:"payment_intent,omitempty"`
	Created       *RangeQuery `form:"created"`
}

type CreateRefundParams struct {
	Amount               *int64             `form:"amount"`
	Charge               string             `form:"charge,omitempty"`
	Currency             string             `form:"currency,omitempty"`
	Customer             string             `form:"customer,omitempty"`
	InstructionsEmail    string             `form:"instructions_email,omitempty"`
	Metadata             map[string]string  `form:"metadata"`
	Origin               CreateRefundOrigin `form:"origin,omitempty"`
	PaymentIntent        string             `form:"payment_intent,omitempty"`
	Reason               RefundReason       `form:"reason,omitempty"`
	RefundApplicationFee *bool              `form:"refund_application_fee"`
	ReverseTransfer      *bool              `form:"reverse_transfer"`
	Expand               []string           `form:"expand"`
}

type UpdateRefundParams struct {
	Metadata map[string]string `form:"metadata"`
	Expand   []string          `form:"expand"`
}

type CancelRefundParams struct {
	Expand []string `form:"expand"`
}

// ListRefunds returns refunds in reverse chronological order.
func ListRefunds(params *ListRefundsParams) (request.Request, error) {
	return request.Get("/v1/refunds").WithForm(params)
}

func RetrieveRefund(id string, expand ...string) (request.Request, error) {
	if id == "" {
		return request.Request{}, fmt.Errorf("refund id is required")
	}
	return request.Get(request.Pathf("/v1/refunds/%s", id)).WithQuery(expandQuery(expand)), nil
}

// CreateRefund refunds a charge or payment intent; one of them is required.
func CreateRefund(params *CreateRefundParams) (request.Request, error) {
	if params == nil || (params.Charge == "" && params.PaymentIntent == "") {
		return request.Request{}, fmt.Errorf("one of charge or payment_intent is required")
	}
	return request.Post("/v1/refunds").WithForm(params)
}

func UpdateRefund(id string, params *UpdateRefundParams) (request.Request, error) {
	if id == "" {
		return request.Request{}, fmt.Errorf("refund id is required")
	}
	return request.Post(request.Pathf("/v1/refunds/%s", id)).WithForm(params)
}

// CancelRefund cancels a refund in the requires_action state.
func CancelRefund(id string, params *CancelRefundParams) (request.Request, error) {
	if id == "" {
		return request.Request{}, fmt.Errorf("refund id is required")
	}
	return request.Post(request.Pathf("/v1/refunds/%s/cancel", id)).WithForm(params)
}

// RefundService binds the refund builders to a client.
type RefundService struct {
	Client *client.Client
	Policy retry.Policy // 零值使用客户端默认策略
}

func (s RefundService) List(ctx context.Context, params *ListRefundsParams) (List[Refund], error) {
	req, err := ListRefunds(params)
	if err != nil {
		return List[Refund]{}, err
	}
	return Send[List[Refund]](ctx, s.Client, req, s.Policy)
}

func (s RefundService) Retrieve(ctx context.Context, id string, expand ...string) (Refund, error) {
	req, err := RetrieveRefund(id, expand...)
	if err != nil {
		return Refund{}, err
	}
	return Send[Refund](ctx, s.Client, req, s.Policy)
}

func (s RefundService) Create(ctx context.Context, params *CreateRefundParams) (Refund, error) {
	req, err := CreateRefund(params)
	if err != nil {
		return Refund{}, err
	}
	return Send[Refund](ctx, s.Client, req, s.Policy)
}

func (s RefundService) Update(ctx context.Context, id string, params *UpdateRefundParams) (Refund, error) {
	req, err := UpdateRefund(id, params)
	if err != nil {
		return Refund{}, err
	}
	return Send[Refund](ctx, s.Client, req, s.Policy)
}

func (s RefundService) Cancel(ctx context.Context, id string, params *CancelRefundParams) (Refund, error) {
	req, err := CancelRefund(id, params)
	if err != nil {
		return Refund{}, err
	}
	return Send[Refund](ctx, s.Client, req, s.Policy)
}
