package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lighter-tools/lighter-history/pkg/client"
	"github.com/lighter-tools/lighter-history/pkg/enrich"
	"github.com/lighter-tools/lighter-history/pkg/export"
	"github.com/lighter-tools/lighter-history/pkg/fetch"
	"github.com/lighter-tools/lighter-history/pkg/logging"
	"github.com/lighter-tools/lighter-history/pkg/markets"
	"github.com/lighter-tools/lighter-history/pkg/ratelimit"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnv("LOG_PRETTY", "") == "true",
		Output: os.Stderr,
	})
	logger := logging.NewLogger("history-server")

	port := getEnv("PORT", "8080")
	baseURL := getEnv("LIGHTER_BASE_URL", client.DefaultBaseURL)
	pageLimit, err := strconv.Atoi(getEnv("PAGE_LIMIT", strconv.Itoa(client.MaxPageLimit)))
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid PAGE_LIMIT")
	}

	cfg := client.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.PageLimit = pageLimit
	apiClient, err := client.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Lighter client")
	}

	ctx := context.Background()

	// Redis is optional and only backs the market table cache.
	var resolverOpts []markets.ResolverOption
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: redisURL})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("redis_url", redisURL).Msg("Failed to connect to Redis")
		}
		logger.Info().Str("redis_url", redisURL).Msg("Market table cache enabled")
		cache := markets.NewTableCache(redisClient, markets.DefaultRefreshInterval)
		resolverOpts = append(resolverOpts, markets.WithTableCache(cache))
	}

	resolver := markets.NewResolver(apiClient, resolverOpts...)
	go resolver.Run(ctx)

	pacer := ratelimit.NewPacer(fetch.DefaultPaceIntervals())
	paginator := fetch.NewPaginator(apiClient, pacer)
	enricher := enrich.NewEnricher(resolver)

	srv := &server{
		client:    apiClient,
		resolver:  resolver,
		paginator: paginator,
		enricher:  enricher,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", srv.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/lookup-accounts", srv.handleLookupAccounts)
	mux.HandleFunc("/api/fetch", srv.handleFetch)
	mux.HandleFunc("/api/fetch/csv", srv.handleFetchCSV)
	mux.HandleFunc("/api/markets", srv.handleMarkets)

	addr := ":" + port
	logger.Info().Str("addr", addr).Str("base_url", baseURL).Msg("Starting history server")

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

type server struct {
	client    *client.Client
	resolver  *markets.Resolver
	paginator *fetch.Paginator
	enricher  *enrich.Enricher
	logger    zerolog.Logger
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

type lookupRequest struct {
	L1Address string `json:"l1_address"`
}

type lookupResponse struct {
	L1Address      string  `json:"l1_address"`
	AccountIndexes []int64 `json:"account_indexes"`
}

func (s *server) handleLookupAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req lookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.L1Address == "" {
		http.Error(w, "l1_address is required", http.StatusBadRequest)
		return
	}

	indexes, err := s.client.AccountsByL1Address(r.Context(), req.L1Address)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	writeJSON(w, lookupResponse{L1Address: req.L1Address, AccountIndexes: indexes})
}

// fetchRequestBody is the wire shape of a fetch request. Auth is an opaque
// bearer token forwarded verbatim to the upstream; it is never logged.
type fetchRequestBody struct {
	L1Address      string   `json:"l1_address"`
	AccountIndexes []int64  `json:"account_indexes"`
	DataTypes      []string `json:"data_types"`
	Auth           string   `json:"auth"`
	StartTimestamp *int64   `json:"start_timestamp"` // epoch millis
	EndTimestamp   *int64   `json:"end_timestamp"`   // epoch millis
	MarketFilter   string   `json:"market_filter"`
	Direction      string   `json:"direction"`
}

// buildRequest turns the wire body into a validated coordinator request,
// looking up sub-accounts when the caller did not pin them.
func (s *server) buildRequest(ctx context.Context, body fetchRequestBody) (fetch.FetchRequest, fetch.TokenSource, error) {
	if body.L1Address == "" {
		return fetch.FetchRequest{}, nil, fmt.Errorf("%w: l1_address is required", fetch.ErrValidation)
	}

	indexes := body.AccountIndexes
	if len(indexes) == 0 {
		var err error
		indexes, err = s.client.AccountsByL1Address(ctx, body.L1Address)
		if err != nil {
			return fetch.FetchRequest{}, nil, fmt.Errorf("lookup accounts: %w", err)
		}
	}

	accounts := make([]enrich.Account, 0, len(indexes))
	tokens := fetch.StaticTokens{}
	for _, idx := range indexes {
		account := enrich.Account{L1Address: body.L1Address, Index: idx}
		accounts = append(accounts, account)
		tokens[account] = body.Auth
	}

	types := make([]fetch.DataType, 0, len(body.DataTypes))
	for _, name := range body.DataTypes {
		dt, err := fetch.ParseDataType(name)
		if err != nil {
			return fetch.FetchRequest{}, nil, fmt.Errorf("%w: %v", fetch.ErrValidation, err)
		}
		types = append(types, dt)
	}

	req := fetch.NewFetchRequest(accounts, types)
	if body.StartTimestamp != nil {
		start := time.UnixMilli(*body.StartTimestamp).UTC()
		req.Start = &start
	}
	if body.EndTimestamp != nil {
		end := time.UnixMilli(*body.EndTimestamp).UTC()
		req.End = &end
	}
	req.MarketFilter = body.MarketFilter
	req.Direction = body.Direction

	return req, tokens, nil
}

func (s *server) handleFetch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body fetchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	req, tokens, err := s.buildRequest(r.Context(), body)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	coordinator := fetch.NewCoordinator(s.paginator, s.enricher, tokens)
	report, err := coordinator.Run(r.Context(), req)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := export.WriteReportJSON(w, report); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write report")
	}
}

// handleFetchCSV runs a single (account, data type) fetch and streams the
// result as a CSV download.
func (s *server) handleFetchCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	body := fetchRequestBody{
		L1Address:    q.Get("l1_address"),
		DataTypes:    []string{q.Get("data_type")},
		Auth:         q.Get("auth"),
		MarketFilter: q.Get("market_filter"),
		Direction:    q.Get("direction"),
	}
	if v := q.Get("account_index"); v != "" {
		idx, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid account_index", http.StatusBadRequest)
			return
		}
		body.AccountIndexes = []int64{idx}
	}
	for param, dst := range map[string]**int64{
		"start_timestamp": &body.StartTimestamp,
		"end_timestamp":   &body.EndTimestamp,
	} {
		if v := q.Get(param); v != "" {
			ms, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				http.Error(w, "invalid "+param, http.StatusBadRequest)
				return
			}
			*dst = &ms
		}
	}

	req, tokens, err := s.buildRequest(r.Context(), body)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	coordinator := fetch.NewCoordinator(s.paginator, s.enricher, tokens)
	report, err := coordinator.Run(r.Context(), req)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	filename := fmt.Sprintf("lighter_%s_%s.csv", q.Get("data_type"), time.Now().UTC().Format("20060102T150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	for _, result := range report.Results {
		if err := export.WriteResultCSV(w, result); err != nil {
			s.logger.Error().Err(err).Msg("Failed to write csv")
			return
		}
	}
}

func (s *server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	table := s.resolver.Table(r.Context())
	if len(table) == 0 {
		http.Error(w, "market table unavailable", http.StatusBadGateway)
		return
	}
	symbols := make(map[string]string, len(table))
	for id, symbol := range table {
		symbols[strconv.FormatInt(id, 10)] = symbol
	}
	writeJSON(w, symbols)
}

// writeUpstreamError maps the fetch error taxonomy onto HTTP status codes.
func (s *server) writeUpstreamError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, fetch.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, fetch.ErrRateLimitExceeded):
		status = http.StatusTooManyRequests
	case errors.Is(err, fetch.ErrCancelled):
		status = http.StatusRequestTimeout
	}

	if apiClass := client.Classify(err); apiClass == client.ErrorClassValidation {
		status = http.StatusBadRequest
	}

	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
