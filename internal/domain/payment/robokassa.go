package payment

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"math/big"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const defaultRobokassaURL = "https://auth.robokassa.ru/Merchant/Index.aspx"

type RobokassaConfig struct {
	MerchantLogin string
	Password1     string
	Password2     string
	BaseURL       string
	ResultURL     string
	SuccessURL    string
	IsTest        bool
	Currency      string
}

// RobokassaGateway builds signed payment links and checks ResultURL
// signatures.
type RobokassaGateway struct {
	cfg RobokassaConfig
	now func() time.Time
}

func NewRobokassaGateway(cfg RobokassaConfig) *RobokassaGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultRobokassaURL
	}
	if cfg.Currency == "" {
		cfg.Currency = "RUB"
	}
	return &RobokassaGateway{cfg: cfg, now: time.Now}
}

func (g *RobokassaGateway) configured() bool {
	return g.cfg.MerchantLogin != "" && g.cfg.Password1 != "" && g.cfg.Password2 != ""
}

func (g *RobokassaGateway) CreateIntent(_ context.Context, in IntentRequest) (*GatewayIntent, error) {
	if !g.configured() {
		return nil, ErrNotConfigured
	}

	invID := g.now().UnixNano()
	outSum := FormatAmount(in.Amount)
	shp := map[string]string{"request_id": strconv.FormatInt(in.RequestID, 10)}
	signature := g.signInit(outSum, invID, shp)

	u := url.Values{}
	u.Set("MerchantLogin", g.cfg.MerchantLogin)
	u.Set("OutSum", outSum)
	u.Set("InvId", strconv.FormatInt(invID, 10))
	u.Set("Description", in.Description)
	u.Set("SignatureValue", signature)
	if g.cfg.IsTest {
		u.Set("IsTest", "1")
	}
	if g.cfg.ResultURL != "" {
		u.Set("ResultURL", g.cfg.ResultURL)
	}
	if g.cfg.SuccessURL != "" {
		u.Set("SuccessURL", g.cfg.SuccessURL)
	}
	for k, v := range shp {
		u.Set("Shp_"+k, v)
	}

	currency := in.Currency
	if currency == "" {
		currency = g.cfg.Currency
	}
	return &GatewayIntent{
		InvID:      invID,
		OutSum:     outSum,
		Currency:   currency,
		PaymentURL: g.cfg.BaseURL + "?" + u.Encode(),
	}, nil
}

func (g *RobokassaGateway) VerifyResult(outSum string, invID int64, signature string, shp map[string]string) error {
	if !g.configured() {
		return ErrNotConfigured
	}
	if !strings.EqualFold(signature, g.signResult(outSum, invID, shp)) {
		return ErrInvalidSignature
	}
	return nil
}

func (g *RobokassaGateway) signInit(outSum string, invID int64, shp map[string]string) string {
	parts := []string{g.cfg.MerchantLogin, outSum, strconv.FormatInt(invID, 10), g.cfg.Password1}
	parts = append(parts, flattenShp(shp)...)
	return md5Hex(strings.Join(parts, ":"))
}

func (g *RobokassaGateway) signResult(outSum string, invID int64, shp map[string]string) string {
	parts := []string{outSum, strconv.FormatInt(invID, 10), g.cfg.Password2}
	parts = append(parts, flattenShp(shp)...)
	return md5Hex(strings.Join(parts, ":"))
}

// flattenShp renders custom parameters sorted by key, as the signature
// requires.
func flattenShp(shp map[string]string) []string {
	keys := make([]string, 0, len(shp))
	for k := range shp {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, "Shp_"+k+"="+shp[k])
	}
	return out
}

const robokassaPrefix = "robokassa:"

func robokassaPaymentID(invID int64) string {
	return robokassaPrefix + strconv.FormatInt(invID, 10)
}

func parseRobokassaPaymentID(paymentID string) (int64, bool) {
	rest, ok := strings.CutPrefix(paymentID, robokassaPrefix)
	if !ok {
		return 0, false
	}
	invID, err := strconv.ParseInt(rest, 10, 64)
	return invID, err == nil && invID > 0
}

// FormatAmount renders an amount with two decimals.
func FormatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func amountEqual(a, b string) bool {
	ar, ok := new(big.Rat).SetString(strings.TrimSpace(a))
	if !ok {
		return false
	}
	br, ok := new(big.Rat).SetString(strings.TrimSpace(b))
	if !ok {
		return false
	}
	return ar.Cmp(br) == 0
}

func md5Hex(s string) string {
	h := md5.Sum([]byte(s))
	return strings.ToUpper(hex.EncodeToString(h[:]))
}
