package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fleetdesk/fleetdesk-backend/internal/domain/incident"
	"github.com/fleetdesk/fleetdesk-backend/internal/infrastructure/cache"
	"github.com/fleetdesk/fleetdesk-backend/internal/infrastructure/config"
	bondsvc "github.com/fleetdesk/fleetdesk-backend/internal/service/bond"
	incidentsvc "github.com/fleetdesk/fleetdesk-backend/internal/service/incident"
	"github.com/fleetdesk/fleetdesk-backend/internal/testutil/mocks"
)

const testSecret = "test-secret"

type apiFixture struct {
	server *httptest.Server
	actor  uuid.UUID
	driver uuid.UUID
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	incidents := mocks.NewIncidentRepo()
	bonds := mocks.NewBondRepo()

	policy, err := bondsvc.NewPolicy(config.BondConfig{
		Currency:        "USD",
		DefaultRequired: 1000,
		DeductionAmounts: map[string]float64{
			"accident": 200,
		},
		DeductSeverities:  []string{"high", "critical"},
		LockdownGrace:     72 * time.Hour,
		BurnAlertWindow:   7 * 24 * time.Hour,
		BurnAlertFraction: 0.25,
	})
	require.NoError(t, err)

	bondService := bondsvc.NewService(bonds, policy, logger)
	incidentService := incidentsvc.NewService(incidents,
		&mocks.UnitOfWork{Incidents: incidents, Bonds: bonds},
		bondService, ContextCapabilities{}, &mocks.Publisher{}, logger)

	handler := NewHandler(Services{Incidents: incidentService, Bonds: bondService}, logger)
	router := NewRouter(handler, NewHealthHandler(nil, nil, nil, "test", logger), nil,
		NewAuthenticator(testSecret), cache.NewLocalRateLimiter(), 1000, logger)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &apiFixture{
		server: server,
		actor:  uuid.New(),
		driver: uuid.New(),
	}
}

func (f *apiFixture) token(t *testing.T, capabilities ...string) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   f.actor.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Capabilities: capabilities,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func allCapabilities() []string {
	return []string{
		incidentsvc.CapReport, incidentsvc.CapAssign, incidentsvc.CapInvestigate,
		incidentsvc.CapAction, incidentsvc.CapResolve, incidentsvc.CapClose,
		incidentsvc.CapReopen, incidentsvc.CapAppeal,
	}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func (f *apiFixture) reportBody() map[string]interface{} {
	return map[string]interface{}{
		"type":     "accident",
		"severity": "critical",
		"priority": "urgent",
		"reporter": map[string]interface{}{
			"kind": "dispatcher",
			"id":   uuid.NewString(),
			"name": "Dispatch",
		},
		"description": map[string]interface{}{
			"summary": "collision at intersection",
		},
		"involved": map[string]interface{}{
			"driver_ids": []string{f.driver.String()},
		},
	}
}

func TestAuthRequired(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/api/v1/incidents", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/incidents", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIncidentLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, allCapabilities()...)

	resp := f.do(t, http.MethodPost, "/api/v1/incidents", token, f.reportBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created incident.Incident
	decodeBody(t, resp, &created)
	assert.Equal(t, incident.StatusNew, created.Status)

	base := "/api/v1/incidents/" + created.ID.String()

	resp = f.do(t, http.MethodPost, base+"/assign", token, map[string]interface{}{
		"investigator_id": uuid.NewString(),
		"name":            "J. Smith",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPost, base+"/investigation", token, map[string]interface{}{
		"findings":        "driver at fault",
		"recommendations": "suspend",
		"advance":         true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPost, base+"/action", token, map[string]interface{}{
		"type":           "suspension",
		"duration_days":  7,
		"effective_date": time.Now().Add(48 * time.Hour).Format(time.RFC3339),
		"reason":         "critical accident",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result incidentsvc.ActionResult
	decodeBody(t, resp, &result)
	require.NotNil(t, result.Deduction)
	assert.Equal(t, created.ID.String(), result.Deduction.ReferenceID)

	resp = f.do(t, http.MethodPost, base+"/resolve", token, map[string]interface{}{
		"reason": "suspension served",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var resolved incident.Incident
	decodeBody(t, resp, &resolved)
	assert.Equal(t, incident.StatusResolved, resolved.Status)

	// The deduction shows up in the driver's ledger.
	resp = f.do(t, http.MethodGet, "/api/v1/drivers/"+f.driver.String()+"/bond/transactions", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page struct {
		Items []struct {
			Type        string `json:"type"`
			ReferenceID string `json:"reference_id"`
		} `json:"items"`
	}
	decodeBody(t, resp, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "DEDUCTION", page.Items[0].Type)
	assert.Equal(t, created.ID.String(), page.Items[0].ReferenceID)
}

func TestMissingCapabilityIsForbidden(t *testing.T) {
	f := newAPIFixture(t)
	reporter := f.token(t, incidentsvc.CapReport)

	resp := f.do(t, http.MethodPost, "/api/v1/incidents", reporter, f.reportBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created incident.Incident
	decodeBody(t, resp, &created)

	resp = f.do(t, http.MethodPost, "/api/v1/incidents/"+created.ID.String()+"/close", reporter,
		map[string]interface{}{"reason": "nope"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestInvalidTransitionIs422(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, allCapabilities()...)

	resp := f.do(t, http.MethodPost, "/api/v1/incidents", token, f.reportBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created incident.Incident
	decodeBody(t, resp, &created)

	// Resolving a brand-new incident skips the whole pipeline.
	resp = f.do(t, http.MethodPost, "/api/v1/incidents/"+created.ID.String()+"/resolve", token,
		map[string]interface{}{"reason": "skip ahead"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "INVALID_TRANSITION", body.Error.Code)
}

func TestValidationFailureIs400(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, allCapabilities()...)

	resp := f.do(t, http.MethodPost, "/api/v1/incidents", token, map[string]interface{}{
		"type": "accident",
		// severity, reporter and summary missing
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownIncidentIs404(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, allCapabilities()...)

	resp := f.do(t, http.MethodGet, "/api/v1/incidents/"+uuid.NewString(), token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBondEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, allCapabilities()...)
	base := "/api/v1/drivers/" + f.driver.String() + "/bond"

	resp := f.do(t, http.MethodPost, base+"/deposit", token, map[string]interface{}{
		"amount":   1200.0,
		"currency": "USD",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Deduction without a reason violates the ledger's entry rules.
	resp = f.do(t, http.MethodPost, base+"/deduction", token, map[string]interface{}{
		"amount":   100.0,
		"currency": "USD",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, base, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view struct {
		CanStartShift bool `json:"can_start_shift"`
	}
	decodeBody(t, resp, &view)
	assert.True(t, view.CanStartShift)

	resp = f.do(t, http.MethodGet, base+"/sufficiency", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, base+"/lockdown", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, base+"/verify", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var verify struct {
		Consistent bool `json:"consistent"`
	}
	decodeBody(t, resp, &verify)
	assert.True(t, verify.Consistent)
}

func TestHealthEndpointIsPublic(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
