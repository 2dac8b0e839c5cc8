package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nspcc-dev/disburser/common"
	"github.com/nspcc-dev/disburser/disburser"
)

type oracleReq struct {
	ServiceID  string `json:"service_id"`
	ProviderID string `json:"provider_id"`
}

type oracleResp oracleReq

type ownerResp struct {
	Owner string `json:"owner"`
}

type quotaResp struct {
	Account string `json:"account"`
	Quota   string `json:"quota"`
}

type versionResp struct {
	Version string `json:"version"`
}

type stateResp struct {
	Owner          string              `json:"owner"`
	Oracle         oracleResp          `json:"oracle"`
	Version        string              `json:"version"`
	LastFee        string              `json:"last_fee"`
	Quotas         map[string]string   `json:"quotas"`
	PendingRefunds []pendingRefundResp `json:"pending_refunds"`
}

type pendingRefundResp struct {
	ID     uuid.UUID `json:"id"`
	To     string    `json:"to"`
	Amount string    `json:"amount"`
}

type feeQuoteResp struct {
	Fee string `json:"fee"`
}

type payFeeReq struct {
	EstimatedFee string `json:"estimated_fee"`
}

type distributeReq struct {
	Recipients []string `json:"recipients"`
	Amounts    []string `json:"amounts"`
}

type registerReq struct {
	Token    string   `json:"token"`
	Accounts []string `json:"accounts"`
	Fee      string   `json:"fee"`
}

type tokenNotifyReq struct {
	Sender string `json:"sender"`
	Amount string `json:"amount"`
	Msg    string `json:"msg"`
}

type acceptedResp struct {
	ID uuid.UUID `json:"id"`
}

type legResp struct {
	Leg   int    `json:"leg"`
	Error string `json:"error,omitempty"`
}

type settlementResp struct {
	ID            uuid.UUID `json:"id"`
	Kind          string    `json:"kind"`
	Requester     string    `json:"requester"`
	Legs          []legResp `json:"legs"`
	Failed        int       `json:"failed"`
	Refund        string    `json:"refund"`
	QuotaRestored int       `json:"quota_restored"`
	RefundError   string    `json:"refund_error,omitempty"`
}

type feeSettlementResp struct {
	ID          uuid.UUID `json:"id"`
	Payer       string    `json:"payer"`
	OracleFee   string    `json:"oracle_fee,omitempty"`
	Accepted    bool      `json:"accepted"`
	Slots       string    `json:"slots"`
	Refund      string    `json:"refund"`
	Quota       string    `json:"quota"`
	Reason      string    `json:"reason,omitempty"`
	RefundError string    `json:"refund_error,omitempty"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func toSettlementResp(s disburser.Settlement) settlementResp {
	res := settlementResp{
		ID:            s.ID,
		Kind:          string(s.Kind),
		Requester:     s.Requester,
		Legs:          make([]legResp, len(s.Legs)),
		Failed:        s.Failed,
		Refund:        common.FormatAmount(s.Refund),
		QuotaRestored: s.QuotaRestored,
		RefundError:   errString(s.RefundErr),
	}
	for i, o := range s.Legs {
		res.Legs[i] = legResp{Leg: o.Leg, Error: errString(o.Err)}
	}
	return res
}

func toFeeSettlementResp(s disburser.FeeSettlement) feeSettlementResp {
	res := feeSettlementResp{
		ID:          s.ID,
		Payer:       s.Payer,
		Accepted:    s.Accepted,
		Slots:       common.FormatAmount(s.Slots),
		Refund:      common.FormatAmount(s.Refund),
		Quota:       common.FormatAmount(s.Quota),
		Reason:      errString(s.Reason),
		RefundError: errString(s.RefundErr),
	}
	if s.OracleFee != nil {
		res.OracleFee = common.FormatAmount(s.OracleFee)
	}
	return res
}

func (s *server) initialize(w http.ResponseWriter, r *http.Request) {
	call, err := callOf(r)
	if err != nil {
		s.fail(w, err)
		return
	}

	var req oracleReq
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}

	if err := s.s.Initialize(call, req.ServiceID, req.ProviderID); err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ownerResp{Owner: call.Signer})
}

func (s *server) owner(w http.ResponseWriter, _ *http.Request) {
	o, err := s.s.Owner()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ownerResp{Owner: o})
}

func (s *server) oracle(w http.ResponseWriter, _ *http.Request) {
	cfg, err := s.s.OracleConfig()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, oracleResp{ServiceID: cfg.ServiceID, ProviderID: cfg.ProviderID})
}

func (s *server) setOracle(w http.ResponseWriter, r *http.Request) {
	call, err := callOf(r)
	if err != nil {
		s.fail(w, err)
		return
	}

	var req oracleReq
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}

	cfg, err := s.s.SetOracleConfig(call, req.ServiceID, req.ProviderID)
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, oracleResp{ServiceID: cfg.ServiceID, ProviderID: cfg.ProviderID})
}

func (s *server) quota(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	v, err := s.s.Quota(account)
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quotaResp{Account: account, Quota: common.FormatAmount(v)})
}

func (s *server) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, versionResp{Version: common.VersionString(s.s.Version())})
}

func (s *server) state(w http.ResponseWriter, _ *http.Request) {
	st, err := s.s.State()
	if err != nil {
		s.fail(w, err)
		return
	}

	res := stateResp{
		Owner:   st.Owner,
		Oracle:  oracleResp{ServiceID: st.Oracle.ServiceID, ProviderID: st.Oracle.ProviderID},
		Version: common.VersionString(st.Version),
		LastFee: common.FormatAmount(st.LastFee),
		Quotas:  make(map[string]string, len(st.Quotas)),
	}
	for a, q := range st.Quotas {
		res.Quotas[a] = common.FormatAmount(q)
	}
	res.PendingRefunds = make([]pendingRefundResp, len(st.PendingRefunds))
	for i, p := range st.PendingRefunds {
		res.PendingRefunds[i] = pendingRefundResp{ID: p.ID, To: p.To, Amount: common.FormatAmount(p.Amount)}
	}

	writeJSON(w, http.StatusOK, res)
}

func (s *server) quoteFee(w http.ResponseWriter, r *http.Request) {
	v, err := s.s.QuoteFee(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feeQuoteResp{Fee: common.FormatAmount(v)})
}

func (s *server) payFee(w http.ResponseWriter, r *http.Request) {
	call, err := callOf(r)
	if err != nil {
		s.fail(w, err)
		return
	}

	var req payFeeReq
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}

	estimated, err := common.ParseAmount(req.EstimatedFee)
	if err != nil {
		s.fail(w, err)
		return
	}

	rcpt, err := s.s.PayServiceFee(r.Context(), call, estimated)
	if err != nil {
		s.fail(w, err)
		return
	}

	if !wantsWait(r) {
		writeJSON(w, http.StatusAccepted, acceptedResp{ID: rcpt.ID()})
		return
	}

	res, err := rcpt.Wait(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toFeeSettlementResp(res))
}

func (s *server) distribute(w http.ResponseWriter, r *http.Request) {
	call, err := callOf(r)
	if err != nil {
		s.fail(w, err)
		return
	}

	var req distributeReq
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}

	amounts, err := parseAmounts(req.Amounts)
	if err != nil {
		s.fail(w, err)
		return
	}

	rcpt, err := s.s.DistributeNative(r.Context(), call, req.Recipients, amounts)
	s.respondBatch(w, r, rcpt, err)
}

func (s *server) register(w http.ResponseWriter, r *http.Request) {
	call, err := callOf(r)
	if err != nil {
		s.fail(w, err)
		return
	}

	var req registerReq
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}

	fee, err := common.ParseAmount(req.Fee)
	if err != nil {
		s.fail(w, err)
		return
	}

	rcpt, err := s.s.BatchRegister(r.Context(), call, req.Token, req.Accounts, fee)
	s.respondBatch(w, r, rcpt, err)
}

func (s *server) tokenNotify(w http.ResponseWriter, r *http.Request) {
	call, err := callOf(r)
	if err != nil {
		s.fail(w, err)
		return
	}

	var req tokenNotifyReq
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}

	amount, err := common.ParseAmount(req.Amount)
	if err != nil {
		s.fail(w, err)
		return
	}

	rcpt, err := s.s.OnTokenReceived(r.Context(), call, req.Sender, amount, req.Msg)
	if err != nil {
		s.fail(w, err)
		return
	}

	// The token ledger takes the refund from the response, so it is always
	// awaited.
	s.respondSettlement(w, r, rcpt)
}

func (s *server) respondBatch(w http.ResponseWriter, r *http.Request, rcpt *disburser.Receipt[disburser.Settlement], err error) {
	if err != nil {
		s.fail(w, err)
		return
	}

	if !wantsWait(r) {
		writeJSON(w, http.StatusAccepted, acceptedResp{ID: rcpt.ID()})
		return
	}

	s.respondSettlement(w, r, rcpt)
}

func (s *server) respondSettlement(w http.ResponseWriter, r *http.Request, rcpt *disburser.Receipt[disburser.Settlement]) {
	res, err := rcpt.Wait(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSettlementResp(res))
}
