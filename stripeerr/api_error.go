package stripeerr

import (
	"encoding/json"
	"unicode/utf8"
)

// ErrorType 错误对象的 type 字段，未识别的值解码为 ErrorTypeUnknown
type ErrorType string

const (
	ErrorTypeAPIError            ErrorType = "api_error"
	ErrorTypeCardError           ErrorType = "card_error"
	ErrorTypeIdempotencyError    ErrorType = "idempotency_error"
	ErrorTypeInvalidRequestError ErrorType = "invalid_request_error"
	ErrorTypeUnknown             ErrorType = "unknown"
)

var knownErrorTypes = map[ErrorType]struct{}{
	ErrorTypeAPIError:            {},
	ErrorTypeCardError:           {},
	ErrorTypeIdempotencyError:    {},
	ErrorTypeInvalidRequestError: {},
}

func (t *ErrorType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if _, ok := knownErrorTypes[ErrorType(s)]; ok {
		*t = ErrorType(s)
	} else {
		*t = ErrorTypeUnknown
	}
	return nil
}

// ErrorCode 机器可读的错误码。Stripe 会不断新增错误码，
// 未识别的值解码为 ErrorCodeUnknown，原始字符串保存在 APIError.RawCode
type ErrorCode string

const (
	ErrorCodeAccountClosed                ErrorCode = "account_closed"
	ErrorCodeAmountTooLarge               ErrorCode = "amount_too_large"
	ErrorCodeAmountTooSmall               ErrorCode = "amount_too_small"
	ErrorCodeAPIKeyExpired                ErrorCode = "api_key_expired"
	ErrorCodeAuthenticationRequired       ErrorCode = "authentication_required"
	ErrorCodeBalanceInsufficient          ErrorCode = "balance_insufficient"
	ErrorCodeCardDeclined                 ErrorCode = "card_declined"
	ErrorCodeChargeAlreadyCaptured        ErrorCode = "charge_already_captured"
	ErrorCodeChargeAlreadyRefunded        ErrorCode = "charge_already_refunded"
	ErrorCodeChargeDisputed               ErrorCode = "charge_disputed"
	ErrorCodeChargeExpiredForCapture      ErrorCode = "charge_expired_for_capture"
	ErrorCodeCountryUnsupported           ErrorCode = "country_unsupported"
	ErrorCodeEmailInvalid                 ErrorCode = "email_invalid"
	ErrorCodeExpiredCard                  ErrorCode = "expired_card"
	ErrorCodeIdempotencyKeyInUse          ErrorCode = "idempotency_key_in_use"
	ErrorCodeIncorrectCVC                 ErrorCode = "incorrect_cvc"
	ErrorCodeIncorrectNumber              ErrorCode = "incorrect_number"
	ErrorCodeInsufficientFunds            ErrorCode = "insufficient_funds"
	ErrorCodeInsufficientPermissions      ErrorCode = "insufficient_permissions"
	ErrorCodeInvalidChargeAmount          ErrorCode = "invalid_charge_amount"
	ErrorCodeInvalidCVC                   ErrorCode = "invalid_cvc"
	ErrorCodeInvalidExpiryMonth           ErrorCode = "invalid_expiry_month"
	ErrorCodeInvalidExpiryYear            ErrorCode = "invalid_expiry_year"
	ErrorCodeInvalidNumber                ErrorCode = "invalid_number"
	ErrorCodeLockTimeout                  ErrorCode = "lock_timeout"
	ErrorCodeParameterInvalidEmpty        ErrorCode = "parameter_invalid_empty"
	ErrorCodeParameterInvalidInteger      ErrorCode = "parameter_invalid_integer"
	ErrorCodeParameterMissing             ErrorCode = "parameter_missing"
	ErrorCodeParameterUnknown             ErrorCode = "parameter_unknown"
	ErrorCodePaymentIntentUnexpectedState ErrorCode = "payment_intent_unexpected_state"
	ErrorCodeProcessingError              ErrorCode = "processing_error"
	ErrorCodeRateLimit                    ErrorCode = "rate_limit"
	ErrorCodeRefundDisputedPayment        ErrorCode = "refund_disputed_payment"
	ErrorCodeResourceAlreadyExists        ErrorCode = "resource_already_exists"
	ErrorCodeResourceMissing              ErrorCode = "resource_missing"
	ErrorCodeSecretKeyRequired            ErrorCode = "secret_key_required"
	ErrorCodeTestmodeChargesOnly          ErrorCode = "testmode_charges_only"
	ErrorCodeTLSVersionUnsupported        ErrorCode = "tls_version_unsupported"
	ErrorCodeTokenAlreadyUsed             ErrorCode = "token_already_used"
	ErrorCodeURLInvalid                   ErrorCode = "url_invalid"
	ErrorCodeUnknown                      ErrorCode = "unknown"
)

var knownErrorCodes = map[ErrorCode]struct{}{
	ErrorCodeAccountClosed:                {},
	ErrorCodeAmountTooLarge:               {},
	ErrorCodeAmountTooSmall:               {},
	ErrorCodeAPIKeyExpired:                {},
	ErrorCodeAuthenticationRequired:       {},
	ErrorCodeBalanceInsufficient:          {},
	ErrorCodeCardDeclined:                 {},
	ErrorCodeChargeAlreadyCaptured:        {},
	ErrorCodeChargeAlreadyRefunded:        {},
	ErrorCodeChargeDisputed:               {},
	ErrorCodeChargeExpiredForCapture:      {},
	ErrorCodeCountryUnsupported:           {},
	ErrorCodeEmailInvalid:                 {},
	ErrorCodeExpiredCard:                  {},
	ErrorCodeIdempotencyKeyInUse:          {},
	ErrorCodeIncorrectCVC:                 {},
	ErrorCodeIncorrectNumber:              {},
	ErrorCodeInsufficientFunds:            {},
	ErrorCodeInsufficientPermissions:      {},
	ErrorCodeInvalidChargeAmount:          {},
	ErrorCodeInvalidCVC:                   {},
	ErrorCodeInvalidExpiryMonth:           {},
	ErrorCodeInvalidExpiryYear:            {},
	ErrorCodeInvalidNumber:                {},
	ErrorCodeLockTimeout:                  {},
	ErrorCodeParameterInvalidEmpty:        {},
	ErrorCodeParameterInvalidInteger:      {},
	ErrorCodeParameterMissing:             {},
	ErrorCodeParameterUnknown:             {},
	ErrorCodePaymentIntentUnexpectedState: {},
	ErrorCodeProcessingError:              {},
	ErrorCodeRateLimit:                    {},
	ErrorCodeRefundDisputedPayment:        {},
	ErrorCodeResourceAlreadyExists:        {},
	ErrorCodeResourceMissing:              {},
	ErrorCodeSecretKeyRequired:            {},
	ErrorCodeTestmodeChargesOnly:          {},
	ErrorCodeTLSVersionUnsupported:        {},
	ErrorCodeTokenAlreadyUsed:             {},
	ErrorCodeURLInvalid:                   {},
}

// KnownCode reports whether code is one of the recognized error codes.
func KnownCode(code string) bool {
	_, ok := knownErrorCodes[ErrorCode(code)]
	return ok
}

// APIError mirrors the error object Stripe returns for non-2xx responses.
type APIError struct {
	Type            ErrorType `json:"type"`
	Code            ErrorCode `json:"code,omitempty"`
	RawCode         string    `json:"-"`
	Message         string    `json:"message,omitempty"`
	Param           string    `json:"param,omitempty"`
	DeclineCode     string    `json:"decline_code,omitempty"`
	DocURL          string    `json:"doc_url,omitempty"`
	RequestLogURL   string    `json:"request_log_url,omitempty"`
	Charge          string    `json:"charge,omitempty"`
	PaymentIntentID string    `json:"-"`
	SetupIntentID   string    `json:"-"`
}

func (e *APIError) UnmarshalJSON(data []byte) error {
	type plain APIError
	var raw struct {
		plain
		Code          *string         `json:"code"`
		PaymentIntent json.RawMessage `json:"payment_intent"`
		SetupIntent   json.RawMessage `json:"setup_intent"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*e = APIError(raw.plain)
	if raw.Code != nil {
		e.RawCode = *raw.Code
		if KnownCode(*raw.Code) {
			e.Code = ErrorCode(*raw.Code)
		} else {
			e.Code = ErrorCodeUnknown
		}
	}
	// payment_intent / setup_intent 可能是ID字符串，也可能是展开后的对象
	e.PaymentIntentID = objectID(raw.PaymentIntent)
	e.SetupIntentID = objectID(raw.SetupIntent)
	return nil
}

func (e *APIError) describe() string {
	if e.Code == "" {
		return string(e.Type)
	}
	if e.Code == ErrorCodeUnknown && e.RawCode != "" {
		return string(e.Type) + "/" + e.RawCode
	}
	return string(e.Type) + "/" + string(e.Code)
}

func objectID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

type errorEnvelope struct {
	Error *APIError `json:"error"`
}

// ParseAPIError classifies a non-success response body. A well-formed Stripe error
// object yields a KindAPI error carrying status; anything else yields KindDeserialize.
func ParseAPIError(status int, body []byte) *Error {
	if !utf8.Valid(body) {
		return Deserialize(status, "could not deserialize Stripe error: response was not valid UTF-8", nil)
	}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Deserialize(status, "could not deserialize Stripe error", err)
	}
	if env.Error == nil {
		return Deserialize(status, "could not deserialize Stripe error: missing error object", nil)
	}

	return &Error{
		Kind:       KindAPI,
		Message:    env.Error.Message,
		HTTPStatus: status,
		API:        env.Error,
	}
}
