package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ertembiyik/rlm-go/internal/client"
	"github.com/ertembiyik/rlm-go/internal/driver"
	"github.com/ertembiyik/rlm-go/internal/observability"
	"github.com/ertembiyik/rlm-go/internal/sandbox"
	"github.com/ertembiyik/rlm-go/internal/types"
)

type completionRequest struct {
	Prompt        string          `json:"prompt"`
	Context       json.RawMessage `json:"context,omitempty"`
	MaxIterations int             `json:"max_iterations,omitempty"`
}

func main() {
	_ = godotenv.Load()
	logger := observability.SetupLogger()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	ctx := context.Background()
	rootClient, err := client.NewGeminiClient(ctx, os.Getenv("GEMINI_API_KEY"), os.Getenv("GEMINI_MODEL_NAME"))
	if err != nil {
		logger.Error("failed to create gemini client", "error", err)
		os.Exit(1)
	}

	opts := []driver.Option{}
	if subModel := os.Getenv("GEMINI_SUB_MODEL_NAME"); subModel != "" {
		subClient, err := client.NewGeminiClient(ctx, os.Getenv("GEMINI_API_KEY"), subModel)
		if err != nil {
			logger.Error("failed to create sub-model gemini client", "error", err)
			os.Exit(1)
		}
		opts = append(opts, driver.WithSubAdapter(subClient))
	}
	if backend := os.Getenv("SANDBOX_BACKEND"); backend != "" {
		opts = append(opts, driver.WithSandboxBackend(sandbox.BackendName(backend), nil))
	}
	if n := envInt("MAX_ITERATIONS", 0); n > 0 {
		opts = append(opts, driver.WithMaxIterations(n))
	}
	if n := envInt("MAX_DEPTH", 0); n > 0 {
		opts = append(opts, driver.WithMaxDepth(n))
	}
	opts = append(opts, driver.WithLogObserver(observability.NewJSONLObserver(os.Stdout)))

	baseCfg := driver.NewConfig(rootClient, opts...)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/completion", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			duration := time.Since(start).Seconds()
			observability.HttpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, http.StatusText(rw.status)).Inc()
			observability.HttpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			logger.Info("request handled", "method", r.Method, "path", r.URL.Path, "status", rw.status, "duration", duration)
		}()

		if r.Method != http.MethodPost {
			respondError(rw, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(rw, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if req.Prompt == "" {
			respondError(rw, http.StatusBadRequest, "Prompt is required")
			return
		}

		payload, err := contextPayload(req.Context, req.Prompt)
		if err != nil {
			respondError(rw, http.StatusBadRequest, "Invalid context: "+err.Error())
			return
		}

		cfg := baseCfg
		if req.MaxIterations > 0 {
			cfg.MaxIterations = req.MaxIterations
		}
		eng, err := driver.New(cfg)
		if err != nil {
			respondError(rw, http.StatusInternalServerError, err.Error())
			return
		}

		resp, err := eng.Completion(r.Context(), payload, req.Prompt)
		if err != nil {
			observability.RlmErrors.Inc()
			logger.Error("completion failed", "error", err)
			respondError(rw, http.StatusInternalServerError, err.Error())
			return
		}
		observability.RlmDuration.Observe(resp.ExecutionTime)

		rw.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(rw).Encode(resp); err != nil {
			logger.Error("failed to encode response", "error", err)
		}
	})

	server := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting server", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-stop
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server exited properly")
}

// contextPayload maps the request's loosely-typed JSON context into the
// engine's ContextPayload shapes (§2): an object becomes Keyed, an array
// becomes Sequence, a string becomes Text, and anything else (including an
// absent context) falls back to the prompt text itself.
func contextPayload(raw json.RawMessage, prompt string) (types.ContextPayload, error) {
	if len(raw) == 0 {
		return types.Text(prompt), nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	switch val := v.(type) {
	case string:
		return types.Text(val), nil
	case []any:
		return types.Sequence(val), nil
	case map[string]any:
		return types.Keyed(val), nil
	default:
		return types.Text(prompt), nil
	}
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func respondError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
