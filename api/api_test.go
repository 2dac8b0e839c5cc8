package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/disburser/common"
	"github.com/nspcc-dev/disburser/disburser"
	"github.com/nspcc-dev/disburser/fee"
	"github.com/nspcc-dev/neo-go/pkg/core/storage"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type ledger struct {
	mtx  sync.Mutex
	fail map[string]bool
	sent map[string]uint64
}

func (l *ledger) record(to string, amount *uint256.Int) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if l.fail[to] {
		return errors.New("rejected")
	}
	if l.sent == nil {
		l.sent = make(map[string]uint64)
	}
	l.sent[to] += amount.Uint64()
	return nil
}

func (l *ledger) Transfer(_ context.Context, to string, amount *uint256.Int, _ string) error {
	return l.record(to, amount)
}

type tokens struct{ *ledger }

func (t tokens) Transfer(_ context.Context, _, to string, amount *uint256.Int, _ string) error {
	return t.record(to, amount)
}

func (t tokens) Register(_ context.Context, _, account string, fee *uint256.Int) error {
	return t.record(account, fee)
}

type oracle struct{}

func (oracle) GetEntry(context.Context, string, string, string) (fee.Quote, error) {
	return fee.Quote{Price: uint256.NewInt(100), Decimals: 8}, nil
}

type testServer struct {
	*httptest.Server
	native *ledger
	tokens *ledger
}

func newServer(t *testing.T) *testServer {
	native := &ledger{fail: map[string]bool{"bob": true}}
	tok := tokens{&ledger{fail: map[string]bool{"bob": true}}}

	s, err := disburser.New(disburser.Prm{
		Self:      "service",
		Store:     storage.NewMemoryStore(),
		Oracle:    oracle{},
		Native:    native,
		Tokens:    tok,
		Registrar: tok,
		Logger:    zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(NewHandler(s, zaptest.NewLogger(t)))
	t.Cleanup(srv.Close)
	t.Cleanup(s.Wait)

	return &testServer{Server: srv, native: native, tokens: tok.ledger}
}

func (s *testServer) do(t *testing.T, method, path, signer, deposit, body string, resp any) int {
	return s.doFrom(t, method, path, signer, "", deposit, body, resp)
}

func (s *testServer) doFrom(t *testing.T, method, path, signer, sender, deposit, body string, resp any) int {
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if signer != "" {
		req.Header.Set(SignerHeader, signer)
	}
	if sender != "" {
		req.Header.Set(SenderHeader, sender)
	}
	if deposit != "" {
		req.Header.Set(DepositHeader, deposit)
	}

	res, err := s.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, "application/json", res.Header.Get("Content-Type"))
	if resp != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(resp))
	}

	return res.StatusCode
}

func TestAPI(t *testing.T) {
	s := newServer(t)

	var e errorResp
	require.Equal(t, http.StatusPreconditionFailed, s.do(t, http.MethodGet, "/v1/owner", "", "", "", &e))
	require.Contains(t, e.Error, common.ErrNotInitialized.Error())

	var o ownerResp
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/v1/initialize", "owner", "",
		`{"service_id":"oracle","provider_id":"provider"}`, &o))
	require.Equal(t, "owner", o.Owner)

	require.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/v1/initialize", "owner", "",
		`{"service_id":"oracle","provider_id":"provider"}`, nil))

	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/v1/owner", "", "", "", &o))
	require.Equal(t, "owner", o.Owner)

	t.Run("oracle", func(t *testing.T) {
		require.Equal(t, http.StatusForbidden, s.do(t, http.MethodPut, "/v1/oracle", "mallory", "",
			`{"service_id":"x","provider_id":"y"}`, nil))

		var cfg oracleResp
		require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/v1/oracle", "owner", "",
			`{"service_id":"oracle2","provider_id":"provider2"}`, &cfg))
		require.Equal(t, oracleResp{ServiceID: "oracle2", ProviderID: "provider2"}, cfg)

		cfg = oracleResp{}
		require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/v1/oracle", "", "", "", &cfg))
		require.Equal(t, "oracle2", cfg.ServiceID)
	})

	var q feeQuoteResp
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/v1/fee/quote", "", "", "", &q))
	require.Equal(t, "5000000000000", q.Fee)

	var fs feeSettlementResp
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/v1/fee?wait=true", "alice", "15000000000000",
		`{"estimated_fee":"5000000000000"}`, &fs))
	require.True(t, fs.Accepted)
	require.Equal(t, "3", fs.Slots)
	require.Equal(t, "3", fs.Quota)

	var qr quotaResp
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/v1/quota/alice", "", "", "", &qr))
	require.Equal(t, quotaResp{Account: "alice", Quota: "3"}, qr)

	t.Run("rejected distribution", func(t *testing.T) {
		require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/v1/distribute", "alice", "4",
			`{"recipients":["carol"],"amounts":["3"]}`, nil))
		require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/v1/distribute", "alice", "-4",
			`{"recipients":["carol"],"amounts":["4"]}`, nil))
		require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/v1/distribute", "alice", "4",
			`{"recipients":["carol"],"amounts":["4"],"extra":1}`, nil))
		require.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/v1/distribute", "alice", "4",
			`{"recipients":["a","b","c","d"],"amounts":["1","1","1","1"]}`, nil))
	})

	var st settlementResp
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/v1/distribute?wait=true", "alice", "3",
		`{"recipients":["carol","bob","dave"],"amounts":["1","1","1"]}`, &st))
	require.Equal(t, "native", st.Kind)
	require.Equal(t, 1, st.Failed)
	require.Equal(t, "1", st.Refund)
	require.Equal(t, 1, st.QuotaRestored)
	require.NotEmpty(t, st.Legs[1].Error)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/v1/quota/alice", "", "", "", &qr))
	require.Equal(t, "1", qr.Quota)

	s.native.mtx.Lock()
	require.Equal(t, uint64(1), s.native.sent["alice"])
	s.native.mtx.Unlock()

	t.Run("async", func(t *testing.T) {
		var acc acceptedResp
		require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/v1/register", "alice", "10",
			`{"token":"token","accounts":["x","y"],"fee":"5"}`, &acc))
		require.NotZero(t, acc.ID)
	})

	t.Run("token notification", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, s.URL+"/v1/token/notify?wait=true",
			strings.NewReader(`{"sender":"alice","amount":"7","msg":"carol:7"}`))
		require.NoError(t, err)
		req.Header.Set(SignerHeader, "alice")
		req.Header.Set(SenderHeader, "token")

		res, err := s.Client().Do(req)
		require.NoError(t, err)
		defer res.Body.Close()

		var st settlementResp
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.NoError(t, json.NewDecoder(res.Body).Decode(&st))
		require.Equal(t, "token", st.Kind)
		require.Zero(t, st.Failed)
	})

	var sr stateResp
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/v1/state", "", "", "", &sr))
	require.Equal(t, "owner", sr.Owner)
	require.Equal(t, "oracle2", sr.Oracle.ServiceID)
	require.Equal(t, "5000000000000", sr.LastFee)
	require.Equal(t, "0", sr.Quotas["alice"])
	require.Empty(t, sr.PendingRefunds)

	var v versionResp
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/v1/version", "", "", "", &v))
	require.Equal(t, common.VersionString(common.Version), v.Version)
}

func TestTokenNotifyRefund(t *testing.T) {
	s := newServer(t)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/v1/initialize", "owner", "",
		`{"service_id":"oracle","provider_id":"provider"}`, nil))
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/v1/fee?wait=true", "alice", "15000000000000",
		`{"estimated_fee":"5000000000000"}`, nil))

	// No '?wait=true': the ledger still needs the refund in the answer.
	var st settlementResp
	require.Equal(t, http.StatusOK, s.doFrom(t, http.MethodPost, "/v1/token/notify", "alice", "token", "",
		`{"sender":"alice","amount":"27","msg":"carol:7#bob:20"}`, &st))
	require.Equal(t, "token", st.Kind)
	require.Equal(t, 1, st.Failed)
	require.Equal(t, "20", st.Refund)
	require.Equal(t, 1, st.QuotaRestored)
	require.NotEmpty(t, st.Legs[1].Error)

	s.tokens.mtx.Lock()
	require.Equal(t, uint64(7), s.tokens.sent["carol"])
	s.tokens.mtx.Unlock()

	var qr quotaResp
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/v1/quota/alice", "", "", "", &qr))
	require.Equal(t, "2", qr.Quota)

	var e errorResp
	require.Equal(t, http.StatusBadRequest, s.doFrom(t, http.MethodPost, "/v1/token/notify", "alice", "token", "",
		`{"sender":"alice","amount":"27","msg":"carol:7#"}`, &e))
	require.Contains(t, e.Error, common.ErrValidation.Error())
}

func TestStatusOf(t *testing.T) {
	for err, code := range map[error]int{
		common.ErrValidation:          http.StatusBadRequest,
		common.ErrArithmetic:          http.StatusBadRequest,
		common.ErrUnauthorized:        http.StatusForbidden,
		common.ErrQuotaExceeded:       http.StatusConflict,
		common.ErrNotInitialized:      http.StatusPreconditionFailed,
		context.DeadlineExceeded:      http.StatusGatewayTimeout,
		errors.New("connection lost"): http.StatusInternalServerError,
	} {
		require.Equal(t, code, statusOf(err), err.Error())
	}
}
