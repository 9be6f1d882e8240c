// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package plantings

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalepool/pooler/work"
)

const (
	testToken   = "secret-token"
	testEntropy = "00000000000000000000000000000000000000000000000000000000000000ab"
)

type fakeCoordinator struct {
	last *work.Notification
	err  error
}

func (f *fakeCoordinator) HandlePlanting(n *work.Notification) error {
	f.last = n
	return f.err
}

func initAPIServer(t *testing.T, coordinator Coordinator) *httptest.Server {
	router := mux.NewRouter()
	New(coordinator, testToken).Mount(router, "/backend")

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts
}

func httpPost(t *testing.T, url string, body []byte, headers map[string]string) (*http.Response, []byte) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, respBody
}

func TestPlantingStatus_CamelCase(t *testing.T) {
	coordinator := &fakeCoordinator{}
	ts := initAPIServer(t, coordinator)

	body := []byte(`{
		"blockIndex": 201,
		"poolerId": "pool-1",
		"successfulPlants": 2,
		"failedPlants": 0,
		"blockData": {"entropy": "` + testEntropy + `", "timestamp": 1764000000},
		"plantedFarmers": [
			{"farmerId": "F1", "custodialWallet": "GAAA", "custodialSecretKey": "SAAA", "stakeAmount": "1000000"},
			{"farmerId": "F2", "custodialWallet": "GBBB", "custodialSecretKey": "SBBB", "stakeAmount": 2000000}
		]
	}`)

	resp, respBody := httpPost(t, ts.URL+"/backend/planting-status", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ack Ack
	require.NoError(t, json.Unmarshal(respBody, &ack))
	assert.Equal(t, "scheduled", ack.Status)
	assert.Equal(t, uint32(201), ack.BlockIndex)
	assert.Equal(t, 2, ack.Farmers)

	require.NotNil(t, coordinator.last)
	assert.Equal(t, uint32(201), coordinator.last.BlockIndex)
	assert.Equal(t, testEntropy, coordinator.last.EntropyHex)
	assert.Equal(t, uint64(1764000000), coordinator.last.BlockTimestamp)
	require.Len(t, coordinator.last.Farmers, 2)
	assert.Equal(t, work.Farmer{
		ID:              "F1",
		CustodialWallet: "GAAA",
		CustodialSecret: "SAAA",
		StakeAmount:     "1000000",
	}, coordinator.last.Farmers[0])
	assert.Equal(t, "2000000", coordinator.last.Farmers[1].StakeAmount)
}

func TestPlantingStatus_SnakeCaseEquivalence(t *testing.T) {
	coordinator := &fakeCoordinator{}
	ts := initAPIServer(t, coordinator)

	body := []byte(`{
		"block_index": "201",
		"pooler_id": "pool-1",
		"successful_plants": "2",
		"failed_plants": 0,
		"block_data": {"entropy": "` + testEntropy + `", "block_timestamp": "1764000000"},
		"planted_farmers": [
			{"farmer_id": "F1", "custodial_wallet": "GAAA", "custodial_secret_key": "SAAA", "stake_amount": "1000000"}
		],
		"planting_time": "2026-08-24T12:00:00Z"
	}`)

	resp, respBody := httpPost(t, ts.URL+"/backend/planting-status", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ack Ack
	require.NoError(t, json.Unmarshal(respBody, &ack))
	assert.Equal(t, "scheduled", ack.Status)

	require.NotNil(t, coordinator.last)
	assert.Equal(t, uint32(201), coordinator.last.BlockIndex)
	assert.Equal(t, testEntropy, coordinator.last.EntropyHex)
	assert.Equal(t, uint64(1764000000), coordinator.last.BlockTimestamp)
	require.Len(t, coordinator.last.Farmers, 1)
	assert.Equal(t, "F1", coordinator.last.Farmers[0].ID)
}

func TestPlantingStatus_NoFarmers(t *testing.T) {
	coordinator := &fakeCoordinator{}
	ts := initAPIServer(t, coordinator)

	body := []byte(`{"blockIndex": 300, "poolerId": "pool-1", "successfulPlants": 0, "failedPlants": 3}`)

	resp, respBody := httpPost(t, ts.URL+"/backend/planting-status", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ack Ack
	require.NoError(t, json.Unmarshal(respBody, &ack))
	assert.Equal(t, "received", ack.Status)
	assert.Equal(t, uint32(300), ack.BlockIndex)
	assert.Equal(t, 0, ack.Farmers)
	assert.Nil(t, coordinator.last)
}

func TestPlantingStatus_ValidationRefusedIsAcknowledged(t *testing.T) {
	coordinator := &fakeCoordinator{err: work.ValidationError{Reason: "entropy must be 64 hex chars"}}
	ts := initAPIServer(t, coordinator)

	body := []byte(`{
		"blockIndex": 201,
		"blockData": {"entropy": "zz"},
		"plantedFarmers": [{"farmerId": "F1", "custodialWallet": "GAAA", "custodialSecretKey": "SAAA"}]
	}`)

	resp, respBody := httpPost(t, ts.URL+"/backend/planting-status", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ack Ack
	require.NoError(t, json.Unmarshal(respBody, &ack))
	assert.Equal(t, "ignored", ack.Status)
}

func TestPlantingStatus_CoordinatorStopped(t *testing.T) {
	coordinator := &fakeCoordinator{err: errors.New("coordinator stopped")}
	ts := initAPIServer(t, coordinator)

	body := []byte(`{
		"blockIndex": 201,
		"plantedFarmers": [{"farmerId": "F1", "custodialWallet": "GAAA", "custodialSecretKey": "SAAA"}]
	}`)

	resp, _ := httpPost(t, ts.URL+"/backend/planting-status", body, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestPlantingStatus_BadBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"blockIndex": `},
		{"missing block index", `{"poolerId": "pool-1"}`},
		{"negative block index", `{"blockIndex": -1}`},
		{"non-numeric block index", `{"blockIndex": "abc"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coordinator := &fakeCoordinator{}
			ts := initAPIServer(t, coordinator)

			resp, _ := httpPost(t, ts.URL+"/backend/planting-status", []byte(tt.body), nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Nil(t, coordinator.last)
		})
	}
}

func TestPlantedFarmers_Auth(t *testing.T) {
	body := []byte(`{
		"blockIndex": 201,
		"plantedFarmers": [{"farmerId": "F1", "custodialWallet": "GAAA", "custodialSecretKey": "SAAA"}]
	}`)

	tests := []struct {
		name           string
		headers        map[string]string
		expectedStatus int
	}{
		{"missing header", nil, http.StatusUnauthorized},
		{"malformed header", map[string]string{"Authorization": "Basic abc"}, http.StatusUnauthorized},
		{"wrong token", map[string]string{"Authorization": "Bearer nope"}, http.StatusForbidden},
		{"valid token", map[string]string{"Authorization": "Bearer " + testToken}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coordinator := &fakeCoordinator{}
			ts := initAPIServer(t, coordinator)

			resp, respBody := httpPost(t, ts.URL+"/backend/planted-farmers", body, tt.headers)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusOK {
				var ack Ack
				require.NoError(t, json.Unmarshal(respBody, &ack))
				assert.Equal(t, "scheduled", ack.Status)
				require.NotNil(t, coordinator.last)
			} else {
				assert.Nil(t, coordinator.last)
			}
		})
	}
}
