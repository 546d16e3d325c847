// Command ralphd is ralphmem's daemon entrypoint: it opens the knowledge
// store, starts the embedded event bus, and exposes the MCP bridge
// contract from spec §6 (create_subsystem, create_task, set_task_status,
// add_subsystem_comment, append_learning, add_context_file, and friends)
// as HTTP handlers, following cmd/cliairmonitor/main.go's flag-parsing,
// config-loading, and graceful-shutdown template.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ralphmem/ralphmem/internal/config"
	"github.com/ralphmem/ralphmem/internal/embedprovider"
	"github.com/ralphmem/ralphmem/internal/embedstore"
	"github.com/ralphmem/ralphmem/internal/eventbus"
	"github.com/ralphmem/ralphmem/internal/harness"
	"github.com/ralphmem/ralphmem/internal/iteration"
	"github.com/ralphmem/ralphmem/internal/learning"
	"github.com/ralphmem/ralphmem/internal/rerr"
	"github.com/ralphmem/ralphmem/internal/store"
)

func main() {
	configPath := flag.String("config", "ralphmem.yaml", "Path to configuration file")
	port := flag.Int("port", 0, "Override HTTP server port (0 = use config)")
	flag.Parse()

	log.Println("===============================================")
	log.Println("  ralphmem")
	log.Println("===============================================")

	var cfg *config.Config
	if _, err := os.Stat(*configPath); err == nil {
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			log.Printf("[MAIN] Warning: failed to load config from %s: %v", *configPath, err)
			log.Println("[MAIN] Using default configuration")
			cfg = config.DefaultConfig()
		} else {
			log.Printf("[MAIN] Loaded configuration from %s", *configPath)
		}
	} else {
		log.Println("[MAIN] Config file not found, using defaults")
		cfg = config.DefaultConfig()
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	log.Printf("[MAIN] Server port: %d", cfg.Server.Port)
	log.Printf("[MAIN] Event bus port: %d", cfg.Server.NATSPort)
	log.Printf("[MAIN] Embedding endpoint: %s (%s)", cfg.Embedding.URL, cfg.Embedding.Model)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("[MAIN] Failed to create data directory: %v", err)
	}

	db, err := store.Open(filepath.Join(cfg.DataDir, "ralphmem.db"))
	if err != nil {
		log.Fatalf("[MAIN] Failed to open knowledge store: %v", err)
	}
	defer db.Close()

	if err := db.SeedDisciplines(cfg.Stack); err != nil {
		log.Fatalf("[MAIN] Failed to seed disciplines: %v", err)
	}

	embeds := embedstore.New(db.Conn())
	provider := embedprovider.New(cfg.Embedding.URL, cfg.Embedding.Model, cfg.Embedding.Dimension)

	bus, err := eventbus.Start(cfg.Server.NATSPort)
	if err != nil {
		log.Fatalf("[MAIN] Failed to start embedded event bus: %v", err)
	}
	defer bus.Close()
	log.Printf("[MAIN] Embedded event bus started on port %d", cfg.Server.NATSPort)

	harnessConfig, err := harness.LoadConfig(filepath.Join(cfg.DataDir, "harness.yaml"))
	if err != nil {
		log.Fatalf("[MAIN] Failed to load harness config: %v", err)
	}
	spawner := harness.NewSpawner(bus, harnessConfig)
	engine := harness.NewEngine(db, embeds, provider, spawner, bus)

	srv := &server{db: db, embeds: embeds, provider: provider, bus: bus, engine: engine, cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/api/subsystems", srv.handleSubsystems)
	mux.HandleFunc("/api/subsystems/context-file", srv.handleAddContextFile)
	mux.HandleFunc("/api/subsystems/comments", srv.handleAddSubsystemComment)
	mux.HandleFunc("/api/subsystems/learnings", srv.handleAppendLearning)
	mux.HandleFunc("/api/subsystems/recall", srv.handleRecall)
	mux.HandleFunc("/api/disciplines", srv.handleDisciplines)
	mux.HandleFunc("/api/tasks", srv.handleTasks)
	mux.HandleFunc("/api/tasks/status", srv.handleSetTaskStatus)
	mux.HandleFunc("/api/tasks/signals", srv.handleAddSignal)
	mux.HandleFunc("/api/harness/run", srv.handleRunIteration)

	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: mux}
	go func() {
		log.Printf("[MAIN] HTTP server starting on port %d", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[MAIN] HTTP server error: %v", err)
		}
	}()

	log.Println("===============================================")
	log.Printf("  ralphmem ready on http://localhost:%d", cfg.Server.Port)
	log.Println("===============================================")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[MAIN] Shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	spawner.StopAll()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("[MAIN] HTTP server shutdown error: %v", err)
	}
	log.Println("[MAIN] ralphmem shutdown complete")
}

// maxSubsystemContextFiles bounds how many context file paths a subsystem
// can accumulate before add_context_file must be rejected.
const maxSubsystemContextFiles = 20

type server struct {
	db       *store.DB
	embeds   *embedstore.Store
	provider *embedprovider.Provider
	bus      *eventbus.Server
	engine   *harness.Engine
	cfg      *config.Config
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubsystems implements create_subsystem (POST) and get_subsystems
// (GET), spec §6.
func (s *server) handleSubsystems(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		subsystems, err := s.db.GetSubsystems()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, subsystems)

	case http.MethodPost:
		var in store.SubsystemInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		subsystem, err := s.db.CreateSubsystem(in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, subsystem)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleDisciplines implements create_discipline (POST) and
// get_disciplines (GET), spec §6.
func (s *server) handleDisciplines(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		disciplines, err := s.db.GetDisciplines()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, disciplines)

	case http.MethodPost:
		var in store.DisciplineInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		discipline, err := s.db.CreateDiscipline(in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, discipline)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTasks implements create_task (POST) and get_tasks (GET), spec §6.
func (s *server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if idStr := r.URL.Query().Get("id"); idStr != "" {
			id, err := strconv.ParseInt(idStr, 10, 64)
			if err != nil {
				http.Error(w, "invalid id", http.StatusBadRequest)
				return
			}
			task, err := s.db.GetTask(id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, task)
			return
		}
		tasks, err := s.db.GetTasks()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tasks)

	case http.MethodPost:
		var in store.TaskInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		id, err := s.db.CreateTask(in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]int64{"id": id})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSetTaskStatus implements set_task_status, spec §6.
func (s *server) handleSetTaskStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		TaskID    int64  `json:"task_id"`
		Status    string `json:"status"`
		BlockedBy string `json:"blocked_by,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	status, ok := store.ParseTaskStatus(body.Status)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown task status %q", body.Status), http.StatusBadRequest)
		return
	}
	if err := s.db.SetTaskStatus(body.TaskID, status, body.BlockedBy); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAddContextFile implements add_context_file, spec §6.
func (s *server) handleAddContextFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Subsystem string `json:"subsystem"`
		Path      string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	applied, err := s.db.AddSubsystemContextFile(body.Subsystem, body.Path, maxSubsystemContextFiles)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

// handleAddSubsystemComment implements add_subsystem_comment, spec §6,
// embedding the comment's text and upserting it into the embedding store
// in the same request (spec §4.4).
func (s *server) handleAddSubsystemComment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var c store.SubsystemComment
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	commentID, err := s.db.AddSubsystemComment(c)
	if err != nil {
		writeError(w, err)
		return
	}

	c.ID = commentID
	embedded, err := s.provider.Embed(c.EmbeddingText())
	if err != nil {
		log.Printf("[MAIN] comment %d saved but embedding failed: %v", commentID, err)
		writeJSON(w, http.StatusCreated, map[string]any{"id": commentID, "embedded": false})
		return
	}
	if err := s.embeds.UpsertCommentEmbedding(commentID, embedded.Vector, embedded.Model, embedded.Hash); err != nil {
		log.Printf("[MAIN] comment %d saved but embedding upsert failed: %v", commentID, err)
		writeJSON(w, http.StatusCreated, map[string]any{"id": commentID, "embedded": false})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": commentID, "embedded": true})
}

// handleAppendLearning implements append_learning, spec §6/§4.3.
func (s *server) handleAppendLearning(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Subsystem string            `json:"subsystem"`
		Learning  learning.Learning `json:"learning"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	outcome, err := s.db.AppendLearning(body.Subsystem, body.Learning, s.cfg.Learning.MaxLearnings)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": int(outcome)})
}

// handleAddSignal implements the eight signal verbs from spec §4.2,
// publishing a signal-added event on success.
func (s *server) handleAddSignal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	verb := strings.TrimSpace(r.URL.Query().Get("verb"))
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	taskID, err := dispatchSignal(s.db, verb, raw)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.bus != nil && taskID != 0 {
		_ = s.bus.PublishSignalAdded(taskID, verb)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func dispatchSignal(db *store.DB, verb string, raw json.RawMessage) (int64, error) {
	switch verb {
	case "done":
		var in struct {
			TaskID    int64  `json:"task_id"`
			SessionID string `json:"session_id"`
			Summary   string `json:"summary"`
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			return 0, rerr.New(rerr.SignalOps, "invalid done signal body")
		}
		return in.TaskID, db.InsertDoneSignal(in.TaskID, in.SessionID, in.Summary)

	case "partial":
		var in struct {
			TaskID    int64  `json:"task_id"`
			SessionID string `json:"session_id"`
			Summary   string `json:"summary"`
			Remaining string `json:"remaining"`
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			return 0, rerr.New(rerr.SignalOps, "invalid partial signal body")
		}
		return in.TaskID, db.InsertPartialSignal(in.TaskID, in.SessionID, in.Summary, in.Remaining)

	case "stuck":
		var in struct {
			TaskID    int64  `json:"task_id"`
			SessionID string `json:"session_id"`
			Reason    string `json:"reason"`
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			return 0, rerr.New(rerr.SignalOps, "invalid stuck signal body")
		}
		return in.TaskID, db.InsertStuckSignal(in.TaskID, in.SessionID, in.Reason)

	case "ask":
		var in store.AskSignalInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return 0, rerr.New(rerr.SignalOps, "invalid ask signal body")
		}
		return in.TaskID, db.InsertAskSignal(in)

	case "flag":
		var in store.FlagSignalInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return 0, rerr.New(rerr.SignalOps, "invalid flag signal body")
		}
		return in.TaskID, db.InsertFlagSignal(in)

	case "learned":
		var in store.LearnedSignalInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return 0, rerr.New(rerr.SignalOps, "invalid learned signal body")
		}
		return in.TaskID, db.InsertLearnedSignal(in)

	case "suggest":
		var in store.SuggestSignalInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return 0, rerr.New(rerr.SignalOps, "invalid suggest signal body")
		}
		return in.TaskID, db.InsertSuggestSignal(in)

	case "blocked":
		var in store.BlockedSignalInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return 0, rerr.New(rerr.SignalOps, "invalid blocked signal body")
		}
		return in.TaskID, db.InsertBlockedSignal(in)

	default:
		return 0, rerr.New(rerr.SignalOps, "unknown signal verb %q", verb)
	}
}

// handleRecall answers a scoped similarity query over a subsystem's
// comments, embedding the query text on the fly (spec §4.6).
func (s *server) handleRecall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	subsystem := r.URL.Query().Get("subsystem")
	query := r.URL.Query().Get("q")
	if subsystem == "" || query == "" {
		http.Error(w, "subsystem and q are required", http.StatusBadRequest)
		return
	}

	limit := s.cfg.Recall.MaxResults
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	embedded, err := s.provider.Embed(query)
	if err != nil {
		writeError(w, err)
		return
	}
	results, err := s.embeds.SearchSubsystemComments(subsystem, embedded.Vector, limit, float32(s.cfg.Recall.MinScore))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// handleRunIteration spawns the configured harness agent for a task and
// returns the resulting iteration record once it finishes.
func (s *server) handleRunIteration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		TaskID          int64  `json:"task_id"`
		IterationNumber int    `json:"iteration_number"`
		Prompt          string `json:"prompt"`
		ProjectPath     string `json:"project_path"`
		ModelTier       string `json:"model_tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	tier := harnessModelTier(body.ModelTier)
	record, err := s.engine.RunIteration(body.TaskID, body.IterationNumber, body.Prompt, body.ProjectPath, tier)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func harnessModelTier(s string) iteration.ModelTier {
	if s == string(iteration.ModelTierReview) {
		return iteration.ModelTierReview
	}
	return iteration.ModelTierPrimary
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := rerr.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case rerr.TaskOps, rerr.CommentOps, rerr.DisciplineOps, rerr.FeatureOps, rerr.SignalOps:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"code": string(code), "error": err.Error()})
}
