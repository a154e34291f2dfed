package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"greeterd/internal/chain"
	"greeterd/internal/config"
	"greeterd/internal/contract"
	"greeterd/internal/greeter"
	"greeterd/internal/wallet"
)

// Greeter is satisfied by *greeter.Core.
type Greeter interface {
	View() greeter.View
	GetGreeter(ctx context.Context) (contract.ReadResult[string], error)
	SetGreeter(ctx context.Context, value string) (common.Hash, error)
	SubscribeViews(ch chan<- greeter.View) event.Subscription
}

// Wallet is satisfied by *wallet.Session.
type Wallet interface {
	Account() (common.Address, bool)
	Connect(addr common.Address) error
	Disconnect()
}

type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	greeter  Greeter
	wallet   Wallet
	gatherer prometheus.Gatherer
}

func NewServer(cfg *config.Config, logger *slog.Logger, g Greeter, w Wallet, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{cfg: cfg, logger: logger, greeter: g, wallet: w, gatherer: gatherer}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.withAuth(s.handleHealth))
	mux.HandleFunc("/greeting", s.withAuth(s.handleGreeting))
	mux.HandleFunc("/session", s.withAuth(s.handleSession))
	mux.HandleFunc("/ws", s.withAuth(s.handleWS))
	mux.Handle("/metrics", s.withAuth(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP))
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.API.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctxTimeout)
	}()
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.API.AuthToken != "" {
			token := r.Header.Get("X-API-Key")
			if token == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
					token = strings.TrimSpace(auth[7:])
				}
			}
			if token != s.cfg.API.AuthToken {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setGreetingRequest struct {
	Value string `json:"value"`
}

type setGreetingResponse struct {
	TxHash string       `json:"tx_hash"`
	View   greeter.View `json:"view"`
}

func (s *Server) handleGreeting(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Get("refresh") == "true" {
			if _, err := s.greeter.GetGreeter(r.Context()); err != nil {
				writeError(w, statusFor(err), err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, s.greeter.View())
	case http.MethodPost:
		var req setGreetingRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		hash, err := s.greeter.SetGreeter(r.Context(), req.Value)
		if err != nil {
			s.logger.Warn("set greeting rejected", "error", err)
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, setGreetingResponse{TxHash: hash.Hex(), View: s.greeter.View()})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type sessionRequest struct {
	Address string `json:"address"`
}

type sessionResponse struct {
	Account   string `json:"account,omitempty"`
	Connected bool   `json:"connected"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req sessionRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		addr, err := parseAddress(req.Address)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.wallet.Connect(addr); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
	case http.MethodDelete:
		s.wallet.Disconnect()
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	addr, ok := s.wallet.Account()
	resp := sessionResponse{Connected: ok}
	if ok {
		resp.Account = addr.Hex()
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusFor maps core and chain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, greeter.ErrEmptyValue):
		return http.StatusBadRequest
	case errors.Is(err, greeter.ErrNoAccount), errors.Is(err, greeter.ErrWriteAlreadyInFlight):
		return http.StatusConflict
	case errors.Is(err, wallet.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, chain.ErrRejectedByUser):
		return http.StatusForbidden
	case errors.Is(err, chain.ErrInsufficientFunds), chain.IsRevert(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, greeter.ErrClosed):
		return http.StatusServiceUnavailable
	case chain.IsNetworkError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func readJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		return errors.New("empty body")
	}
	return json.Unmarshal(b, v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func parseAddress(value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return common.Address{}, errors.New("address is required")
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, errors.New("invalid address")
	}
	return common.HexToAddress(value), nil
}
