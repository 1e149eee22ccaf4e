package app

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/internal/config"
	"marketplace/internal/database"
	"marketplace/internal/domain/availability"
	"marketplace/internal/domain/catalog"
)

const (
	ownerID     int64 = 1
	requesterID int64 = 2
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type client struct {
	t       *testing.T
	handler http.Handler
	token   string
}

func (c client) do(method, path, body string) (int, envelope) {
	c.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	w := httptest.NewRecorder()
	c.handler.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(c.t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:  "test",
		HTTP:    config.HTTP{Port: "0", ShutdownTimeout: time.Second},
		Auth:    config.Auth{JWTSecret: "test-secret", JWTTTL: time.Hour},
		Unread:  config.Unread{TTL: time.Second, Debounce: 20 * time.Millisecond, MaxWait: 100 * time.Millisecond},
		Notify:  config.Notify{RetentionDays: 30, CleanupInterval: time.Hour},
		Payment: config.Payment{Currency: "RUB", RobokassaLogin: "shop", RobokassaPassword1: "p1", RobokassaPassword2: "p2"},
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	db, err := database.Memory("app_" + t.Name())
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	subcategory := int64(10)
	require.NoError(t, db.Create(&catalog.User{ID: ownerID, Username: "olga"}).Error)
	require.NoError(t, db.Create(&catalog.User{ID: requesterID, Username: "ravi"}).Error)
	require.NoError(t, db.Create(&catalog.Category{ID: 1, Name: "Wellness"}).Error)
	require.NoError(t, db.Create(&catalog.Subcategory{ID: subcategory, CategoryID: 1, Name: "Yoga"}).Error)
	require.NoError(t, db.Create(&catalog.PersonalService{ID: 1, OwnerID: ownerID, SubcategoryID: &subcategory, Title: "Private yoga", PricePerHour: 20, DepositPercentage: 30}).Error)
	require.NoError(t, db.Create(&availability.Slot{ID: 1, RefColumns: catalog.ColumnsOf(catalog.Personal(1)), Date: "2025-06-01", StartTime: "09:00", EndTime: "12:00"}).Error)

	log, _ := test.NewNullLogger()
	a, err := New(context.Background(), testConfig(), db, log)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func (a *App) client(t *testing.T, userID int64) client {
	t.Helper()
	token := ""
	if userID != 0 {
		var err error
		token, err = a.JWT.GenerateToken(userID, "client")
		require.NoError(t, err)
	}
	return client{t: t, handler: a.Handler(), token: token}
}

func TestHealth(t *testing.T) {
	a := newTestApp(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	a := newTestApp(t)
	code, env := a.client(t, 0).do(http.MethodGet, "/api/v1/unread", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "AUTH_HEADER_MISSING", env.Error.Code)
}

// Requester books three hours at 20/h with a 30% deposit, the owner
// accepts, and the advance is paid through the gateway callback.
func TestBookingScenario(t *testing.T) {
	a := newTestApp(t)
	requester := a.client(t, requesterID)
	owner := a.client(t, ownerID)

	code, env := requester.do(http.MethodPost, "/api/v1/requests", `{"personal_id":1,"availability_id":1}`)
	require.Equal(t, http.StatusCreated, code)
	var created struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "pending", created.Status)

	code, env = owner.do(http.MethodGet, "/api/v1/unread", "")
	require.Equal(t, http.StatusOK, code)
	var counts struct {
		ReceivedUnseen int64 `json:"received_unseen"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &counts))
	assert.Equal(t, int64(1), counts.ReceivedUnseen)

	code, _ = owner.do(http.MethodPost, fmt.Sprintf("/api/v1/requests/%d/accept", created.ID), "")
	require.Equal(t, http.StatusOK, code)

	code, _ = owner.do(http.MethodPost, fmt.Sprintf("/api/v1/requests/%d/refuse", created.ID), "")
	assert.Equal(t, http.StatusConflict, code)

	code, env = requester.do(http.MethodGet, fmt.Sprintf("/api/v1/requests/%d/quote", created.ID), "")
	require.Equal(t, http.StatusOK, code)
	var quote struct {
		Total   float64 `json:"total"`
		Advance float64 `json:"advance"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &quote))
	assert.Equal(t, 60.0, quote.Total)
	assert.Equal(t, 18.0, quote.Advance)

	forged := fmt.Sprintf(`{"request_id":%d,"success":true,"payment_id":"tx_1","amount":18}`, created.ID)
	code, _ = requester.do(http.MethodPost, "/api/v1/payments/confirm", forged)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = requester.do(http.MethodPost, "/api/v1/payments/intents", fmt.Sprintf(`{"request_id":%d}`, created.ID))
	require.Equal(t, http.StatusCreated, code)
	var intent struct {
		InvID  int64  `json:"inv_id"`
		OutSum string `json:"out_sum"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &intent))
	assert.Equal(t, "18.00", intent.OutSum)

	inv := strconv.FormatInt(intent.InvID, 10)
	reqID := strconv.FormatInt(created.ID, 10)
	sum := md5.Sum([]byte(intent.OutSum + ":" + inv + ":p2:Shp_request_id=" + reqID))
	form := url.Values{
		"OutSum":         {intent.OutSum},
		"InvId":          {inv},
		"SignatureValue": {strings.ToUpper(hex.EncodeToString(sum[:]))},
		"Shp_request_id": {reqID},
	}
	cb := httptest.NewRequest(http.MethodPost, "/api/v1/payments/robokassa/result", strings.NewReader(form.Encode()))
	cb.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, cb)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK"+inv, w.Body.String())

	body := fmt.Sprintf(`{"request_id":%d,"success":true,"payment_id":"robokassa:%s","amount":18}`, created.ID, inv)
	code, env = requester.do(http.MethodPost, "/api/v1/payments/confirm", body)
	require.Equal(t, http.StatusOK, code)
	var order struct {
		TotalPrice      float64 `json:"totalprice"`
		PayedAmount     float64 `json:"payedamount"`
		RemainingAmount float64 `json:"remainingamount"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &order))
	assert.Equal(t, 60.0, order.TotalPrice)
	assert.Equal(t, 18.0, order.PayedAmount)
	assert.Equal(t, 42.0, order.RemainingAmount)

	code, _ = requester.do(http.MethodPost, "/api/v1/payments/confirm", body)
	require.Equal(t, http.StatusOK, code)
	code, env = owner.do(http.MethodGet, fmt.Sprintf("/api/v1/requests/%d/orders", created.ID), "")
	require.Equal(t, http.StatusOK, code)
	var orders []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &orders))
	assert.Len(t, orders, 1)

	code, env = owner.do(http.MethodGet, "/api/v1/notifications", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), "Payment received")
}

func TestDeclinedPaymentSaysNothingCharged(t *testing.T) {
	a := newTestApp(t)
	requester := a.client(t, requesterID)
	owner := a.client(t, ownerID)

	code, env := requester.do(http.MethodPost, "/api/v1/requests", `{"personal_id":1,"availability_id":1}`)
	require.Equal(t, http.StatusCreated, code)
	var created struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	code, _ = owner.do(http.MethodPost, fmt.Sprintf("/api/v1/requests/%d/accept", created.ID), "")
	require.Equal(t, http.StatusOK, code)

	body := fmt.Sprintf(`{"request_id":%d,"success":false,"reason":"card declined"}`, created.ID)
	code, env = requester.do(http.MethodPost, "/api/v1/payments/confirm", body)
	assert.Equal(t, http.StatusPaymentRequired, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "PAYMENT_NOT_CHARGED", env.Error.Code)
	assert.Contains(t, env.Error.Message, "nothing was charged")
}
