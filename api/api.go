/*
Package api exposes the disbursement service over HTTP.

The server is expected to run behind a trusted gateway that authenticates
callers and fills the following headers:

	X-Signer  - account the request originates from
	X-Sender  - immediate caller, defaults to X-Signer; for token
	            notifications it is the token ledger
	X-Deposit - attached native currency amount, decimal integer

Batch and fee requests are settled asynchronously. They are answered with
202 and the orchestration ID unless '?wait=true' is given, in which case the
settlement is returned when ready. Token notifications are always answered
with the settlement, its refund is the amount the token ledger returns to
the sender.
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/nspcc-dev/disburser/common"
	"github.com/nspcc-dev/disburser/disburser"
	"go.uber.org/zap"
)

// Caller identity headers.
const (
	SignerHeader  = "X-Signer"
	SenderHeader  = "X-Sender"
	DepositHeader = "X-Deposit"
)

// Service is the disbursement service served by the API.
type Service interface {
	Initialize(call disburser.Call, serviceID, providerID string) error
	Owner() (string, error)
	OracleConfig() (disburser.OracleConfig, error)
	SetOracleConfig(call disburser.Call, serviceID, providerID string) (disburser.OracleConfig, error)
	Quota(account string) (*uint256.Int, error)
	State() (disburser.State, error)
	Version() int

	QuoteFee(ctx context.Context) (*uint256.Int, error)
	PayServiceFee(ctx context.Context, call disburser.Call, estimated *uint256.Int) (*disburser.Receipt[disburser.FeeSettlement], error)
	DistributeNative(ctx context.Context, call disburser.Call, recipients []string, amounts []*uint256.Int) (*disburser.Receipt[disburser.Settlement], error)
	OnTokenReceived(ctx context.Context, call disburser.Call, sender string, amount *uint256.Int, msg string) (*disburser.Receipt[disburser.Settlement], error)
	BatchRegister(ctx context.Context, call disburser.Call, token string, accounts []string, fee *uint256.Int) (*disburser.Receipt[disburser.Settlement], error)
}

type server struct {
	s   Service
	log *zap.Logger
}

// NewHandler returns HTTP handler of the service API mounted at /v1.
func NewHandler(s Service, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}

	srv := &server{s: s, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(srv.logRequests)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/initialize", srv.initialize)
		r.Get("/owner", srv.owner)
		r.Get("/oracle", srv.oracle)
		r.Put("/oracle", srv.setOracle)
		r.Get("/quota/{account}", srv.quota)
		r.Get("/version", srv.version)
		r.Get("/state", srv.state)

		r.Get("/fee/quote", srv.quoteFee)
		r.Post("/fee", srv.payFee)
		r.Post("/distribute", srv.distribute)
		r.Post("/register", srv.register)
		r.Post("/token/notify", srv.tokenNotify)
	})

	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.log.Debug("request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)))
	})
}

func callOf(r *http.Request) (disburser.Call, error) {
	c := disburser.Call{
		Signer: r.Header.Get(SignerHeader),
		Sender: r.Header.Get(SenderHeader),
	}
	if c.Sender == "" {
		c.Sender = c.Signer
	}

	if d := r.Header.Get(DepositHeader); d != "" {
		v, err := common.ParseAmount(d)
		if err != nil {
			return c, err
		}
		c.Deposit = v
	}

	return c, nil
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrArithmetic):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, common.ErrQuotaExceeded), errors.Is(err, common.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, common.ErrNotInitialized):
		return http.StatusPreconditionFailed
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type errorResp struct {
	Error string `json:"error"`
}

func (s *server) fail(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, code, errorResp{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(common.ErrValidation, err)
	}
	return nil
}

func parseAmounts(ss []string) ([]*uint256.Int, error) {
	res := make([]*uint256.Int, len(ss))
	for i := range ss {
		v, err := common.ParseAmount(ss[i])
		if err != nil {
			return nil, err
		}
		res[i] = v
	}
	return res, nil
}

func wantsWait(r *http.Request) bool {
	return r.URL.Query().Get("wait") == "true"
}
