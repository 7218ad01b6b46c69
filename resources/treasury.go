package resources

import (
	"fmt"

	"stripekit/request"
)

// TransactionEntryOrderBy 排序字段，结果总是按时间倒序
type TransactionEntryOrderBy string

const (
	TransactionEntryOrderByCreated     TransactionEntryOrderBy = "created"
	TransactionEntryOrderByEffectiveAt TransactionEntryOrderBy = "effective_at"
	TransactionEntryOrderByUnknown     TransactionEntryOrderBy = "unknown"
)

func (o *TransactionEntryOrderBy) UnmarshalJSON(data []byte) error {
	v, err := decodeEnum(data, TransactionEntryOrderByUnknown, TransactionEntryOrderByCreated, TransactionEntryOrderByEffectiveAt)
	*o = v
	return err
}

// ParseTransactionEntryOrderBy accepts "created" or "effective_at".
func ParseTransactionEntryOrderBy(s string) (TransactionEntryOrderBy, error) {
	switch o := TransactionEntryOrderBy(s); o {
	case TransactionEntryOrderByCreated, TransactionEntryOrderByEffectiveAt:
		return o, nil
	default:
		return "", fmt.Errorf("invalid order_by %q: must be created or effective_at", s)
	}
}

type BalanceImpact struct {
	Cash            int64 `json:"cash"`
	InboundPending  int64 `json:"inbound_pending"`
	OutboundPending int64 `json:"outbound_pending"`
}

// Transaction is the subset of a treasury transaction returned when expanded.
type Transaction struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	FlowType    string `json:"flow_type"`
	Status      string `json:"status"`
}

// TransactionEntry 金融账户余额的一次变动
type TransactionEntry struct {
	ID               string                  `json:"id"`
	Object           string                  `json:"object"`
	BalanceImpact    BalanceImpact           `json:"balance_impact"`
	Created          int64                   `json:"created"`
	Currency         string                  `json:"currency"`
	EffectiveAt      int64                   `json:"effective_at"`
	FinancialAccount string                  `json:"financial_account"`
	Flow             string                  `json:"flow,omitempty"`
	FlowType         string                  `json:"flow_type"`
	Livemode         bool                    `json:"livemode"`
	Transaction      Expandable[Transaction] `json:"transaction"`
	Type             string                  `json:"type"`
}

func (e TransactionEntry) ObjectID() string { return e.ID }

type ListTransactionEntriesParams struct {
	ListParams
	FinancialAccount string                  `form:"financial_account"`
	Created          *RangeQuery             `form:"created"`
	EffectiveAt      *RangeQuery             `form:"effective_at"`
	OrderBy          TransactionEntryOrderBy `form:"order_by,omitempty"`
	Transaction      string                  `form:"transaction,omitempty"`
}

// ListTransactionEntries lists the entries of a financial account.
func ListTransactionEntries(params *ListTransactionEntriesParams) (request.Request, error) {
	if params == nil || params.FinancialAccount == "" {
		return request.Request{}, fmt.Errorf("financial_account is required")
	}
	return request.Get("/v1/treasury/transaction_entries").WithForm(params)
}

func RetrieveTransactionEntry(id string, expand ...string) (request.Request, error) {
	if id == "" {
		return request.Request{}, fmt.Errorf("transaction entry id is required")
	}
	return request.Get(request.Pathf("/v1/treasury/transaction_entries/%s", id)).WithQuery(expandQuery(expand)), nil
}
