package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/bowerhall/contextbank/internal/agents"
	"github.com/bowerhall/contextbank/internal/bank"
	"github.com/bowerhall/contextbank/internal/config"
	"github.com/bowerhall/contextbank/internal/connector"
	"github.com/bowerhall/contextbank/internal/embedder"
	"github.com/bowerhall/contextbank/internal/ingest"
	"github.com/bowerhall/contextbank/internal/llm"
	"github.com/bowerhall/contextbank/internal/logger"
	"github.com/bowerhall/contextbank/internal/orchestrator"
	"github.com/bowerhall/contextbank/internal/scheduler"
	"github.com/bowerhall/contextbank/internal/storage"
)

func init() {
	godotenv.Load()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}

	model, err := llm.New(llm.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		BaseURL:  cfg.LLM.BaseURL,
	})
	if err != nil {
		logger.Fatal("failed to create llm", "error", err)
	}

	emb, err := embedder.New(embedder.Config{
		Provider:   cfg.Embedder.Provider,
		APIKey:     cfg.Embedder.APIKey,
		BaseURL:    cfg.Embedder.BaseURL,
		Model:      cfg.Embedder.Model,
		Dimensions: cfg.Embedder.Dimensions,
	})
	if err != nil {
		logger.Fatal("failed to create embedder", "error", err)
	}

	store, err := bank.Open(cfg.StorePath, emb.Dimensions(), cfg.Ranking)
	if err != nil {
		logger.Fatal("failed to open store", "error", err)
	}
	defer store.Close()

	logger.Info("context bank open", "path", cfg.StorePath,
		"dimensions", emb.Dimensions(), "mode", cfg.Ranking.Mode)

	connectors := buildConnectors(cfg)
	pipeline := ingest.NewPipeline(store, emb, connectors, cfg.Retention.EventTTLDays)
	retention := ingest.NewRetention(store)

	records, err := agents.NewRecords(store.DB())
	if err != nil {
		logger.Fatal("failed to create records", "error", err)
	}

	queryAgent := agents.NewQueryAgent(store, emb, model, pipeline)
	summarizeAgent := agents.NewSummarizeAgent(store, emb, model, records, queryAgent)
	taskAgent := agents.NewTaskAgent(store, emb, model, records)
	router := agents.NewRouter(model, queryAgent, summarizeAgent, taskAgent)

	userID := os.Getenv("CONTEXTBANK_USER")
	if userID == "" {
		userID = "default"
	}

	var archive *storage.Archive
	if cfg.Archive.Enabled {
		archive, err = storage.NewArchive(storage.Config{
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			UseSSL:    cfg.Archive.UseSSL,
			Bucket:    cfg.Archive.Bucket,
		})
		if err != nil {
			logger.Fatal("failed to create archive", "error", err)
		}
		if err := archive.Init(context.Background()); err != nil {
			logger.Fatal("failed to init archive", "error", err)
		}
		logger.Info("archive enabled", "endpoint", cfg.Archive.Endpoint)
	}

	sched := scheduler.New(queryAgent, retention, archive, cfg.StorePath, []string{userID})
	if err := sched.Start(cfg.Schedule); err != nil {
		logger.Fatal("failed to start scheduler", "error", err)
	}
	defer sched.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	runPromptLoop(ctx, store, router, userID)
}

func buildConnectors(cfg *config.Config) []connector.Connector {
	var connectors []connector.Connector

	if cfg.Telegram.Enabled {
		tg, err := connector.NewTelegram(cfg.Telegram.Token)
		if err != nil {
			logger.Error("telegram connector unavailable", "error", err)
		} else {
			connectors = append(connectors, tg)
		}
	}

	if cfg.Discord.Enabled {
		dc, err := connector.NewDiscord(cfg.Discord.Token, cfg.Discord.Channels)
		if err != nil {
			logger.Error("discord connector unavailable", "error", err)
		} else {
			connectors = append(connectors, dc)
		}
	}

	if cfg.Slack.Enabled {
		connectors = append(connectors, connector.NewSlack(cfg.Slack.Token, cfg.Slack.Channels))
	}

	if len(connectors) == 0 {
		logger.Warn("no connectors enabled; the bank only warms from existing data")
	}

	return connectors
}

// runPromptLoop reads prompts from stdin, one orchestrator session per line.
func runPromptLoop(ctx context.Context, store *bank.Store, router *agents.Router, userID string) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("contextbank ready. Type a prompt, or \"exit\".")

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		orch, err := orchestrator.New(store.DB(), userID)
		if err != nil {
			logger.Error("failed to create orchestrator", "error", err)
			continue
		}

		resp, err := router.Handle(ctx, orch, userID, line)
		if err != nil {
			logger.Error("prompt failed", "error", err)
			continue
		}

		printResponse(resp)
	}
}

func printResponse(resp *agents.Response) {
	if resp.Clarification != nil {
		fmt.Printf("[clarification] %s\n", resp.Clarification.Message)
		return
	}

	out, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		fmt.Printf("[%s] %v\n", resp.Intent, resp.Result)
		return
	}
	fmt.Printf("[%s]\n%s\n", resp.Intent, out)
}
