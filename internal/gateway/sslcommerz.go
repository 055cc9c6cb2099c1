package gateway

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"paygate/internal/config"
	"paygate/internal/domain"
)

const sslczNotConfiguredMsg = "SSLCommerz gateway is not configured. Please set SSLCZ_STORE_ID and SSLCZ_STORE_PASSWORD environment variables."

const (
	sslczInitiatePath = "/gwprocess/v4/api.php"
	sslczValidatePath = "/validator/api/validationserverAPI.php"
	sslczRefundPath   = "/validator/api/merchantTransIDvalidationAPI.php"
)

// SSLCommerz speaks the provider's form-encoded session API. There is no
// capture call: the "intent id" is the merchant-supplied tran_id, and
// confirmation is a server-side validation of that transaction. No official
// Go SDK exists, so requests are built by hand.
type SSLCommerz struct {
	cfg        config.SSLCommerzConfig
	httpClient *http.Client
	configured bool
}

func NewSSLCommerz(cfg config.SSLCommerzConfig, timeout time.Duration) *SSLCommerz {
	return &SSLCommerz{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		configured: cfg.StoreID != "" && cfg.StorePassword != "",
	}
}

func (g *SSLCommerz) Name() string { return domain.GatewaySSLCommerz }

func (g *SSLCommerz) CreatePaymentIntent(ctx context.Context, req IntentRequest) IntentResult {
	if !g.configured {
		return IntentResult{Error: sslczNotConfiguredMsg, Code: CodeNotConfigured}
	}

	form := url.Values{}
	form.Set("store_id", g.cfg.StoreID)
	form.Set("store_passwd", g.cfg.StorePassword)
	form.Set("total_amount", req.Amount.StringFixed(2))
	form.Set("currency", orDefault(strings.ToUpper(req.Currency), "BDT"))
	form.Set("tran_id", req.TransactionID)
	form.Set("success_url", orDefault(req.SuccessURL, g.cfg.SuccessURL))
	form.Set("fail_url", g.cfg.FailURL)
	form.Set("cancel_url", orDefault(req.CancelURL, g.cfg.CancelURL))
	form.Set("ipn_url", g.cfg.IPNURL)
	form.Set("cus_name", orDefault(req.CustomerName, "Customer"))
	form.Set("cus_email", orDefault(req.CustomerEmail, "customer@example.com"))
	form.Set("cus_add1", "N/A")
	form.Set("cus_city", "N/A")
	form.Set("cus_postcode", "0000")
	form.Set("cus_country", "Bangladesh")
	form.Set("cus_phone", orDefault(req.CustomerPhone, "01700000000"))
	form.Set("shipping_method", "NO")
	form.Set("product_name", orDefault(req.Description, "Payment"))
	form.Set("product_category", "General")
	form.Set("product_profile", "general")

	var res struct {
		Status         string `json:"status"`
		SessionKey     string `json:"sessionkey"`
		GatewayPageURL string `json:"GatewayPageURL"`
		FailedReason   string `json:"failedreason"`
	}
	if err := g.postForm(ctx, sslczInitiatePath, form, &res); err != nil {
		return IntentResult{Error: err.Error(), Code: CodeNetworkError}
	}

	if res.Status != "SUCCESS" {
		return IntentResult{Error: orDefault(res.FailedReason, "Failed to initiate payment")}
	}

	return IntentResult{
		Success:     true,
		IntentID:    req.TransactionID,
		Status:      "created",
		SessionKey:  res.SessionKey,
		RedirectURL: res.GatewayPageURL,
	}
}

// ConfirmPayment validates the transaction against the provider. Each call
// makes a fresh validation round trip; it is not a client-side capture.
func (g *SSLCommerz) ConfirmPayment(ctx context.Context, providerID string) ConfirmResult {
	return g.validateTransaction(ctx, providerID)
}

func (g *SSLCommerz) validateTransaction(ctx context.Context, tranID string) ConfirmResult {
	if !g.configured {
		return ConfirmResult{Error: sslczNotConfiguredMsg, Code: CodeNotConfigured}
	}

	form := url.Values{}
	form.Set("store_id", g.cfg.StoreID)
	form.Set("store_passwd", g.cfg.StorePassword)
	form.Set("tran_id", tranID)

	var res struct {
		Status     string      `json:"status"`
		TranID     string      `json:"tran_id"`
		ValID      string      `json:"val_id"`
		Amount     json.Number `json:"amount"`
		Currency   string      `json:"currency"`
		CardType   string      `json:"card_type"`
		BankTranID string      `json:"bank_tran_id"`
	}
	if err := g.postForm(ctx, sslczValidatePath, form, &res); err != nil {
		return ConfirmResult{Error: err.Error(), Code: CodeNetworkError}
	}

	if res.Status != "VALID" && res.Status != "VALIDATED" {
		return ConfirmResult{
			Status: orDefault(res.Status, "INVALID"),
			Error:  "Transaction validation failed",
		}
	}

	amount, _ := decimal.NewFromString(res.Amount.String())
	return ConfirmResult{
		Success:   true,
		IntentID:  res.TranID,
		CaptureID: res.BankTranID,
		Status:    StatusCompleted,
		Amount:    amount,
		Currency:  res.Currency,
	}
}

func (g *SSLCommerz) RefundPayment(ctx context.Context, providerID string, amount *decimal.Decimal) RefundResult {
	if !g.configured {
		return RefundResult{Error: sslczNotConfiguredMsg, Code: CodeNotConfigured}
	}

	form := url.Values{}
	form.Set("store_id", g.cfg.StoreID)
	form.Set("store_passwd", g.cfg.StorePassword)
	form.Set("bank_tran_id", providerID)
	form.Set("refund_remarks", "Customer refund request")
	if amount != nil {
		form.Set("refund_amount", amount.StringFixed(2))
	}

	var res struct {
		Status      string `json:"status"`
		RefundRefID string `json:"refund_ref_id"`
		ErrorReason string `json:"errorReason"`
	}
	if err := g.postForm(ctx, sslczRefundPath, form, &res); err != nil {
		return RefundResult{Error: err.Error(), Code: CodeNetworkError}
	}

	if res.Status != "success" {
		return RefundResult{Error: orDefault(res.ErrorReason, "Refund failed")}
	}

	out := RefundResult{Success: true, RefundID: res.RefundRefID, Status: StatusRefunded}
	if amount != nil {
		out.Amount = *amount
	}
	return out
}

func (g *SSLCommerz) GetPaymentDetails(ctx context.Context, providerID string) DetailsResult {
	res := g.validateTransaction(ctx, providerID)
	return DetailsResult{
		Success:  res.Success,
		IntentID: res.IntentID,
		Status:   res.Status,
		Amount:   res.Amount,
		Currency: res.Currency,
		Error:    res.Error,
		Code:     res.Code,
	}
}

// CreateCustomer is a no-op success: SSLCommerz has no customer registry.
func (g *SSLCommerz) CreateCustomer(ctx context.Context, data CustomerData) CustomerResult {
	return CustomerResult{Success: true, Message: "SSLCommerz does not require customer creation"}
}

func (g *SSLCommerz) HandleWebhook(payload []byte) WebhookEvent {
	fields := parseWebhookFields(payload)
	status := fields["status"]
	tranID := fields["tran_id"]
	amount, _ := decimal.NewFromString(fields["amount"])

	switch status {
	case "VALID":
		return WebhookEvent{
			Event:                 "payment_completed",
			Status:                StatusCompleted,
			ProviderTransactionID: tranID,
			CaptureID:             fields["bank_tran_id"],
			Amount:                amount,
			Handled:               true,
		}
	case "FAILED":
		return WebhookEvent{
			Event:                 "payment_failed",
			Status:                StatusFailed,
			ProviderTransactionID: tranID,
			Handled:               true,
		}
	case "CANCELLED":
		return WebhookEvent{
			Event:                 "payment_cancelled",
			Status:                StatusCancelled,
			ProviderTransactionID: tranID,
			Handled:               true,
		}
	default:
		return WebhookEvent{Event: status}
	}
}

// ValidateWebhookSignature checks the IPN verify_sign hash: an md5 over the
// fields named in verify_key (in their listed order) plus the md5 of the
// store password, per the provider's hash-validation scheme.
func (g *SSLCommerz) ValidateWebhookSignature(payload []byte, signature string) bool {
	if !g.configured {
		return false
	}

	fields := parseWebhookFields(payload)
	verifySign := fields["verify_sign"]
	if signature != "" {
		verifySign = signature
	}
	verifyKey := fields["verify_key"]
	if verifySign == "" || verifyKey == "" {
		return false
	}

	parts := make([]string, 0, 16)
	for _, key := range strings.Split(verifyKey, ",") {
		key = strings.TrimSpace(key)
		parts = append(parts, key+"="+fields[key])
	}
	parts = append(parts, "store_passwd="+md5Hex(g.cfg.StorePassword))

	expected := md5Hex(strings.Join(parts, "&"))
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(verifySign)), []byte(expected)) == 1
}

func (g *SSLCommerz) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sslcommerz responded with status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// parseWebhookFields accepts either the provider's form-encoded IPN body or a
// JSON object, returning a flat string map.
func parseWebhookFields(payload []byte) map[string]string {
	fields := make(map[string]string)
	trimmed := strings.TrimSpace(string(payload))

	if strings.HasPrefix(trimmed, "{") {
		var raw map[string]any
		if err := json.Unmarshal(payload, &raw); err != nil {
			return fields
		}
		for k, v := range raw {
			switch val := v.(type) {
			case string:
				fields[k] = val
			case float64:
				fields[k] = decimal.NewFromFloat(val).String()
			case bool:
				fields[k] = fmt.Sprintf("%t", val)
			}
		}
		return fields
	}

	values, err := url.ParseQuery(trimmed)
	if err != nil {
		return fields
	}
	for k := range values {
		fields[k] = values.Get(k)
	}
	return fields
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
