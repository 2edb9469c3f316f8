package echoapi

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/athenalms/portal/core/credits"
)

func creditsResponse(t *testing.T, body []byte) CreditsResponse {
	t.Helper()
	var resp CreditsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decoding CreditsResponse failed: %v", err)
	}
	return resp
}

func TestCreditsAPI_topUp(t *testing.T) {
	env := setup(t)
	env.signIn(t, "u1", "user")

	req, rec := newRequest(http.MethodPost, "/v1/credits/topup", marchallObj(t, TopUpRequest{Amount: 50}))
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := creditsResponse(t, rec.Body.Bytes())
	assert.Equal(t, "u1", resp.UserID)
	assert.Equal(t, 50.0, resp.Balance)
	if assert.Len(t, resp.Transactions, 1) {
		assert.Equal(t, credits.TxPurchase, resp.Transactions[0].Type)
		assert.Equal(t, 50.0, resp.Transactions[0].Amount)
	}
	assert.Equal(t, 50.0, resp.Analytics.TotalsByType[credits.TxPurchase])
	assert.Equal(t, 50.0, resp.Analytics.AveragePurchase)
}

func TestCreditsAPI_topUpValidation(t *testing.T) {
	env := setup(t)

	req, rec := newRequest(http.MethodPost, "/v1/credits/topup", []byte(`{}`))
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"amount": "this field is required"}`, rec.Body.String())
}

func TestCreditsAPI_spendFloorsAtZero(t *testing.T) {
	env := setup(t)
	env.signIn(t, "u1", "user")

	data := marchallObj(t, SpendRequest{Amount: 30, Metadata: map[string]interface{}{"kind": "preview"}})
	req, rec := newRequest(http.MethodPost, "/v1/credits/spend", data)
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := creditsResponse(t, rec.Body.Bytes())
	assert.Equal(t, 0.0, resp.Balance)
	if assert.Len(t, resp.Transactions, 1) {
		assert.Equal(t, credits.TxSpend, resp.Transactions[0].Type)
		assert.Equal(t, "preview", resp.Transactions[0].Metadata["kind"])
	}
}

func TestCreditsAPI_unlockRefetchesAuthoritativeBalance(t *testing.T) {
	env := setup(t)
	env.athena.mu.Lock()
	env.athena.balances["u1"] = 100
	env.athena.mu.Unlock()
	env.signIn(t, "u1", "user")

	data := marchallObj(t, UnlockContentRequest{UnlockType: "lesson", UnlockID: "l1", CreditsSpent: 10})
	req, rec := newRequest(http.MethodPost, "/v1/credits/unlock", data)
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := creditsResponse(t, rec.Body.Bytes())
	assert.Equal(t, 90.0, resp.Balance, "backend balance wins over local arithmetic")
	if assert.Len(t, resp.Transactions, 1) {
		assert.Equal(t, credits.TxSpend, resp.Transactions[0].Type)
		assert.Equal(t, "lesson", resp.Transactions[0].Metadata["unlock_type"])
		assert.Equal(t, "l1", resp.Transactions[0].Metadata["unlock_id"])
	}
}

func TestCreditsAPI_unlockWhenAnonymous(t *testing.T) {
	env := setup(t)

	data := marchallObj(t, UnlockContentRequest{UnlockType: "lesson", UnlockID: "l1", CreditsSpent: 10})
	req, rec := newRequest(http.MethodPost, "/v1/credits/unlock", data)
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error": "user not authenticated"}`, rec.Body.String())
}

func TestCreditsAPI_unlockValidation(t *testing.T) {
	tests := []struct {
		name     string
		data     UnlockContentRequest
		wantBody string
	}{
		{
			"missing unlock id",
			UnlockContentRequest{UnlockType: "course"},
			`{"unlock_id": "this field is required"}`,
		},
		{
			"unknown unlock type",
			UnlockContentRequest{UnlockType: "movie", UnlockID: "m1"},
			`{"unlock_type": "unknown unlock type"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setup(t)
			env.signIn(t, "u1", "user")

			req, rec := newRequest(http.MethodPost, "/v1/credits/unlock", marchallObj(t, tt.data))
			env.server.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestCreditsAPI_membershipLifecycle(t *testing.T) {
	env := setup(t)
	env.signIn(t, "u1", "user")

	// purchase activates a monthly membership and tops up in one flow
	req, rec := newRequest(http.MethodPost, "/v1/membership/purchase", marchallObj(t, TopUpRequest{Amount: 100}))
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := creditsResponse(t, rec.Body.Bytes())
	assert.True(t, resp.Membership.IsActive)
	assert.Equal(t, credits.MembershipMonthly, resp.Membership.Type)
	assert.NotNil(t, resp.Membership.NextBillingDate)
	assert.Equal(t, 100.0, resp.Balance)
	assert.Len(t, resp.Transactions, 2)

	// cancel drops back to the free default, log keeps growing
	req, rec = newRequest(http.MethodPost, "/v1/membership/cancel")
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp = creditsResponse(t, rec.Body.Bytes())
	assert.False(t, resp.Membership.IsActive)
	assert.Equal(t, credits.MembershipFree, resp.Membership.Type)
	assert.Len(t, resp.Transactions, 3)

	// renew re-activates with fresh billing dates
	req, rec = newRequest(http.MethodPost, "/v1/membership/renew")
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp = creditsResponse(t, rec.Body.Bytes())
	assert.True(t, resp.Membership.IsActive)
	assert.Equal(t, resp.Membership.ExpiresAt, resp.Membership.NextBillingDate)
}

func TestCreditsAPI_retrieveAfterLogin(t *testing.T) {
	env := setup(t)
	env.athena.mu.Lock()
	env.athena.balances["u1"] = 42
	env.athena.membership["u1"] = `{"status": "ACTIVE"}`
	env.athena.mu.Unlock()
	env.signIn(t, "u1", "user")

	req, rec := newRequest(http.MethodGet, "/v1/credits")
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := creditsResponse(t, rec.Body.Bytes())
	assert.Equal(t, "u1", resp.UserID)
	assert.Equal(t, 42.0, resp.Balance)
	assert.True(t, resp.Membership.IsActive)
	assert.Empty(t, resp.Transactions)
}
