package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/store"
	"github.com/textileio/auctioneer-bot/deadletter"
	"github.com/textileio/auctioneer-bot/pool"
	golog "github.com/textileio/go-log/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	log = golog.Logger("auctioneer/api")
)

const (
	defaultFilledLimit = 50
	maxFilledLimit     = 1000
)

// Service provides scoped access to the auctioneer state.
type Service interface {
	ListAuctions(ctx context.Context) ([]store.AuctionEntry, error)
	ListUsers(ctx context.Context) ([]store.UserEntry, error)
	ListUsersUnderHealthFactor(ctx context.Context, hf float64) ([]store.UserEntry, error)
	ListFilledAuctions(ctx context.Context, limit int) ([]store.FilledAuctionEntry, error)
	DeadLetters() ([]deadletter.Record, error)
}

// NewServer returns a new http server serving the auctioneer state.
func NewServer(listenAddr string, service Service) (*http.Server, error) {
	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: otelhttp.NewHandler(createMux(service), "auctioneer-api"),
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("stopping http server: %s", err)
		}
	}()

	log.Infof("http server started at %s", listenAddr)
	return httpServer, nil
}

func createMux(service Service) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", getOnly(healthHandler))
	// allow both with and without trailing slash
	auctions := getOnly(auctionsHandler(service))
	mux.HandleFunc("/auctions", auctions)
	mux.HandleFunc("/auctions/", auctions)
	users := getOnly(usersHandler(service))
	mux.HandleFunc("/users", users)
	mux.HandleFunc("/users/", users)
	mux.HandleFunc("/filled", getOnly(filledHandler(service)))
	mux.HandleFunc("/deadletters", getOnly(deadLettersHandler(service)))
	return mux
}

func getOnly(f http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			httpError(w, "only GET method is allowed", http.StatusBadRequest)
			return
		}
		f(w, r)
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// auctionsHandler lists tracked auctions, optionally of a single user
// (/auctions/<user>) and of a single type (?type=liquidation).
func auctionsHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var user string
		urlParts := strings.SplitN(r.URL.Path, "/", 3)
		if len(urlParts) == 3 {
			user = urlParts[2]
		}
		var (
			filterType  bool
			auctionType pool.AuctionType
		)
		if s := strings.TrimSpace(r.URL.Query().Get("type")); s != "" {
			t, err := pool.ParseAuctionType(s)
			if err != nil {
				httpError(w, fmt.Sprintf("%s: %s", s, err), http.StatusBadRequest)
				return
			}
			filterType, auctionType = true, t
		}

		fullList, err := service.ListAuctions(r.Context())
		if err != nil {
			httpError(w, fmt.Sprintf("listing auctions: %s", err), http.StatusInternalServerError)
			return
		}
		auctions := make([]store.AuctionEntry, 0, len(fullList))
		for _, a := range fullList {
			if user != "" && a.UserID != user {
				continue
			}
			if filterType && a.AuctionType != auctionType {
				continue
			}
			auctions = append(auctions, a)
		}
		writeJSON(w, auctions)
	}
}

// usersHandler lists tracked users, optionally only those under a health
// factor (?max_hf=1.1).
func usersHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			users []store.UserEntry
			err   error
		)
		if s := strings.TrimSpace(r.URL.Query().Get("max_hf")); s != "" {
			hf, perr := strconv.ParseFloat(s, 64)
			if perr != nil || hf <= 0 {
				httpError(w, fmt.Sprintf("invalid max_hf %q", s), http.StatusBadRequest)
				return
			}
			users, err = service.ListUsersUnderHealthFactor(r.Context(), hf)
		} else {
			users, err = service.ListUsers(r.Context())
		}
		if err != nil {
			httpError(w, fmt.Sprintf("listing users: %s", err), http.StatusInternalServerError)
			return
		}
		urlParts := strings.SplitN(r.URL.Path, "/", 3)
		if len(urlParts) == 3 && urlParts[2] != "" {
			filtered := []store.UserEntry{}
			for _, u := range users {
				if u.UserID == urlParts[2] {
					filtered = append(filtered, u)
				}
			}
			users = filtered
		}
		if users == nil {
			users = []store.UserEntry{}
		}
		writeJSON(w, users)
	}
}

func filledHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultFilledLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			l, err := strconv.Atoi(s)
			if err != nil || l <= 0 {
				httpError(w, fmt.Sprintf("invalid limit %q", s), http.StatusBadRequest)
				return
			}
			limit = l
		}
		if limit > maxFilledLimit {
			limit = maxFilledLimit
		}
		filled, err := service.ListFilledAuctions(r.Context(), limit)
		if err != nil {
			httpError(w, fmt.Sprintf("listing filled auctions: %s", err), http.StatusInternalServerError)
			return
		}
		if filled == nil {
			filled = []store.FilledAuctionEntry{}
		}
		writeJSON(w, filled)
	}
}

func deadLettersHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := service.DeadLetters()
		if err != nil {
			httpError(w, fmt.Sprintf("reading dead letters: %s", err), http.StatusInternalServerError)
			return
		}
		if recs == nil {
			recs = []deadletter.Record{}
		}
		writeJSON(w, recs)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		httpError(w, fmt.Sprintf("json encoding: %s", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		log.Errorf("write failed: %v", err)
	}
}

func httpError(w http.ResponseWriter, err string, status int) {
	log.Debugf("request error: %s", err)
	http.Error(w, err, status)
}
