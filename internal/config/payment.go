package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultGateway     = "stripe"
	defaultCurrency    = "USD"
	defaultHTTPTimeout = "30s"

	paypalSandboxAPI    = "https://api-m.sandbox.paypal.com"
	paypalLiveAPI       = "https://api-m.paypal.com"
	sslczSandboxAPI     = "https://sandbox.sslcommerz.com"
	sslczLiveAPI        = "https://securepay.sslcommerz.com"
	sslczSuccessPath    = "/api/v1/payments/sslcommerz/success"
	sslczFailPath       = "/api/v1/payments/sslcommerz/fail"
	sslczCancelPath     = "/api/v1/payments/sslcommerz/cancel"
	sslczIPNPath        = "/api/v1/payments/webhook/sslcommerz"
)

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
}

type PayPalConfig struct {
	ClientID      string
	ClientSecret  string
	APIBase       string
	Currency      string
	WebhookSecret string
}

type SSLCommerzConfig struct {
	StoreID       string
	StorePassword string
	BaseURL       string
	SuccessURL    string
	FailURL       string
	CancelURL     string
	IPNURL        string
}

type PaymentConfig struct {
	DefaultGateway  string
	DefaultCurrency string
	HTTPTimeout     time.Duration

	Stripe     StripeConfig
	PayPal     PayPalConfig
	SSLCommerz SSLCommerzConfig
}

func LoadPaymentConfig() (*PaymentConfig, error) {
	cfg := &PaymentConfig{
		DefaultGateway:  getEnv("PAYMENT_DEFAULT_GATEWAY", defaultGateway),
		DefaultCurrency: strings.ToUpper(getEnv("PAYMENT_DEFAULT_CURRENCY", defaultCurrency)),
	}

	var err error
	cfg.HTTPTimeout, err = parseDurationEnv("PAYMENT_HTTP_TIMEOUT", defaultHTTPTimeout)
	if err != nil {
		return nil, err
	}

	cfg.Stripe = StripeConfig{
		SecretKey:     strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY")),
		WebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		Currency:      getEnv("STRIPE_CURRENCY", "usd"),
	}

	paypalAPI := paypalSandboxAPI
	if strings.EqualFold(getEnv("PAYPAL_MODE", "sandbox"), "live") {
		paypalAPI = paypalLiveAPI
	}
	cfg.PayPal = PayPalConfig{
		ClientID:      strings.TrimSpace(os.Getenv("PAYPAL_CLIENT_ID")),
		ClientSecret:  strings.TrimSpace(os.Getenv("PAYPAL_CLIENT_SECRET")),
		APIBase:       getEnv("PAYPAL_API_URL", paypalAPI),
		Currency:      getEnv("PAYPAL_CURRENCY", "USD"),
		WebhookSecret: strings.TrimSpace(os.Getenv("PAYPAL_WEBHOOK_SECRET")),
	}

	sslczAPI := sslczSandboxAPI
	if !parseBoolEnv("SSLCZ_SANDBOX_MODE", true) {
		sslczAPI = sslczLiveAPI
	}
	appURL := strings.TrimRight(getEnv("APP_URL", "http://localhost:8080"), "/")
	cfg.SSLCommerz = SSLCommerzConfig{
		StoreID:       strings.TrimSpace(os.Getenv("SSLCZ_STORE_ID")),
		StorePassword: strings.TrimSpace(os.Getenv("SSLCZ_STORE_PASSWORD")),
		BaseURL:       getEnv("SSLCZ_API_URL", sslczAPI),
		SuccessURL:    getEnv("SSLCZ_SUCCESS_URL", appURL+sslczSuccessPath),
		FailURL:       getEnv("SSLCZ_FAIL_URL", appURL+sslczFailPath),
		CancelURL:     getEnv("SSLCZ_CANCEL_URL", appURL+sslczCancelPath),
		IPNURL:        getEnv("SSLCZ_IPN_URL", appURL+sslczIPNPath),
	}

	return cfg, nil
}

func getEnv(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func parseDurationEnv(name, def string) (time.Duration, error) {
	raw := getEnv(name, def)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration in %s: %w", name, err)
	}
	return d, nil
}

func parseBoolEnv(name string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}
