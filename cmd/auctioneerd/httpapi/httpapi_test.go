package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/store"
	"github.com/textileio/auctioneer-bot/deadletter"
	"github.com/textileio/auctioneer-bot/pool"
	golog "github.com/textileio/go-log/v2"
)

func init() {
	golog.SetAllLoggers(golog.LevelDebug)
}

func TestAPI_Health(t *testing.T) {
	mux := createMux(&mockService{})
	for _, tc := range []struct {
		method string
		code   int
	}{
		{http.MethodGet, http.StatusOK},
		{http.MethodPost, http.StatusBadRequest},
	} {
		res := httptest.NewRecorder()
		req, _ := http.NewRequest(tc.method, "/health", nil)
		mux.ServeHTTP(res, req)
		require.Equal(t, tc.code, res.Code)
	}
}

func TestAPI_Auctions(t *testing.T) {
	a1 := store.AuctionEntry{UserID: "u1", AuctionType: pool.Liquidation, FillerID: "f1", StartBlock: 10}
	a2 := store.AuctionEntry{UserID: "u1", AuctionType: pool.Interest, FillerID: "f1", StartBlock: 12}
	a3 := store.AuctionEntry{UserID: "u2", AuctionType: pool.Liquidation, FillerID: "f2", StartBlock: 15, FillBlock: 300}
	all := []store.AuctionEntry{a1, a2, a3}

	for _, tc := range []struct {
		name               string
		url                string
		expectedStatusCode int
		expectedResult     []store.AuctionEntry
	}{
		{"all", "/auctions", http.StatusOK, all},
		{"all with trailing slash", "/auctions/", http.StatusOK, all},
		{"by user", "/auctions/u1", http.StatusOK, []store.AuctionEntry{a1, a2}},
		{"by type", "/auctions?type=liquidation", http.StatusOK, []store.AuctionEntry{a1, a3}},
		{"by user and type", "/auctions/u2?type=interest", http.StatusOK, []store.AuctionEntry{}},
		{"invalid type", "/auctions?type=abc", http.StatusBadRequest, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ms := &mockService{}
			ms.On("ListAuctions", mock.Anything).Return(all, nil)
			res := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, tc.url, nil)
			createMux(ms).ServeHTTP(res, req)
			require.Equal(t, tc.expectedStatusCode, res.Code)
			if tc.expectedStatusCode == http.StatusOK {
				var auctions []store.AuctionEntry
				require.NoError(t, json.Unmarshal(res.Body.Bytes(), &auctions))
				require.Equal(t, tc.expectedResult, auctions)
			}
		})
	}

	ms := &mockService{}
	ms.On("ListAuctions", mock.Anything).Return(nil, errors.New("boom"))
	res := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/auctions", nil)
	createMux(ms).ServeHTTP(res, req)
	require.Equal(t, http.StatusInternalServerError, res.Code)
}

func TestAPI_Users(t *testing.T) {
	u1 := store.UserEntry{UserID: "u1", HealthFactor: 1.05, UpdatedAt: 10}
	u2 := store.UserEntry{UserID: "u2", HealthFactor: math.MaxFloat64, UpdatedAt: 11}

	ms := &mockService{}
	ms.On("ListUsers", mock.Anything).Return([]store.UserEntry{u1, u2}, nil)
	ms.On("ListUsersUnderHealthFactor", mock.Anything, 1.1).Return([]store.UserEntry{u1}, nil)
	mux := createMux(ms)

	for _, tc := range []struct {
		name               string
		url                string
		expectedStatusCode int
		expectedResult     []store.UserEntry
	}{
		{"all", "/users", http.StatusOK, []store.UserEntry{u1, u2}},
		{"by user", "/users/u2", http.StatusOK, []store.UserEntry{u2}},
		{"unknown user", "/users/u3", http.StatusOK, []store.UserEntry{}},
		{"under health factor", "/users?max_hf=1.1", http.StatusOK, []store.UserEntry{u1}},
		{"invalid health factor", "/users?max_hf=abc", http.StatusBadRequest, nil},
		{"negative health factor", "/users?max_hf=-1", http.StatusBadRequest, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			res := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, tc.url, nil)
			mux.ServeHTTP(res, req)
			require.Equal(t, tc.expectedStatusCode, res.Code)
			if tc.expectedStatusCode == http.StatusOK {
				var users []store.UserEntry
				require.NoError(t, json.Unmarshal(res.Body.Bytes(), &users))
				require.Equal(t, tc.expectedResult, users)
			}
		})
	}
}

func TestAPI_Filled(t *testing.T) {
	f := store.FilledAuctionEntry{ID: "01a", TxHash: "tx-1", Filler: "f1", UserID: "u1", LotTotal: 50, BidTotal: 40}

	for _, tc := range []struct {
		name               string
		url                string
		limit              int
		expectedStatusCode int
	}{
		{"default limit", "/filled", defaultFilledLimit, http.StatusOK},
		{"limit", "/filled?limit=5", 5, http.StatusOK},
		{"capped limit", "/filled?limit=100000", maxFilledLimit, http.StatusOK},
		{"invalid limit", "/filled?limit=abc", 0, http.StatusBadRequest},
		{"zero limit", "/filled?limit=0", 0, http.StatusBadRequest},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ms := &mockService{}
			ms.On("ListFilledAuctions", mock.Anything, tc.limit).Return([]store.FilledAuctionEntry{f}, nil)
			res := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, tc.url, nil)
			createMux(ms).ServeHTTP(res, req)
			require.Equal(t, tc.expectedStatusCode, res.Code)
			if tc.expectedStatusCode == http.StatusOK {
				ms.AssertExpectations(t)
				var filled []store.FilledAuctionEntry
				require.NoError(t, json.Unmarshal(res.Body.Bytes(), &filled))
				require.Len(t, filled, 1)
				require.Equal(t, "tx-1", filled[0].TxHash)
			}
		})
	}
}

func TestAPI_DeadLetters(t *testing.T) {
	ms := &mockService{}
	ms.On("DeadLetters").Return(nil, nil)
	res := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/deadletters", nil)
	createMux(ms).ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.JSONEq(t, "[]", res.Body.String())

	rec := deadletter.Record{ID: "1", Source: "reactor", Kind: "fill-auction", Ledger: 10, Error: "boom"}
	ms = &mockService{}
	ms.On("DeadLetters").Return([]deadletter.Record{rec}, nil)
	res = httptest.NewRecorder()
	createMux(ms).ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	var recs []deadletter.Record
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	require.Equal(t, "boom", recs[0].Error)
}

type mockService struct {
	mock.Mock
}

func (m *mockService) ListAuctions(ctx context.Context) ([]store.AuctionEntry, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).([]store.AuctionEntry)
	return res, args.Error(1)
}

func (m *mockService) ListUsers(ctx context.Context) ([]store.UserEntry, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).([]store.UserEntry)
	return res, args.Error(1)
}

func (m *mockService) ListUsersUnderHealthFactor(ctx context.Context, hf float64) ([]store.UserEntry, error) {
	args := m.Called(ctx, hf)
	res, _ := args.Get(0).([]store.UserEntry)
	return res, args.Error(1)
}

func (m *mockService) ListFilledAuctions(ctx context.Context, limit int) ([]store.FilledAuctionEntry, error) {
	args := m.Called(ctx, limit)
	res, _ := args.Get(0).([]store.FilledAuctionEntry)
	return res, args.Error(1)
}

func (m *mockService) DeadLetters() ([]deadletter.Record, error) {
	args := m.Called()
	res, _ := args.Get(0).([]deadletter.Record)
	return res, args.Error(1)
}
