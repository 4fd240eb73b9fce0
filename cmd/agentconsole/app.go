package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	pgstore "github.com/KamdynS/agentconsole/adapters/postgres"
	redisstore "github.com/KamdynS/agentconsole/adapters/redis"
	sqsqueue "github.com/KamdynS/agentconsole/adapters/sqs"
	"github.com/KamdynS/agentconsole/agent"
	"github.com/KamdynS/agentconsole/config"
	"github.com/KamdynS/agentconsole/llm"
	"github.com/KamdynS/agentconsole/llm/anthropic"
	"github.com/KamdynS/agentconsole/llm/openai"
	"github.com/KamdynS/agentconsole/observability"
	"github.com/KamdynS/agentconsole/queue"
	"github.com/KamdynS/agentconsole/state"
	"github.com/KamdynS/agentconsole/tools"
)

// app holds the components built from a config.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	hooks   *observability.Hooks
	store   state.Store
	queue   queue.Queue
	runner  *agent.Runner
	closers []func() error
}

// loadConfig reads the -f file if one was given. Environment overrides apply
// either way.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		log.Printf("[CLI] No config given, using in-memory defaults")
	}
	return config.Load(configPath)
}

// newApp connects the store and queue. Commands that run agents call
// startRunner afterwards.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: observability.ParseLevel(cfg.Log.Level)}))
	a := &app{cfg: cfg, logger: logger, hooks: observability.NewSlogHooks(logger)}

	var err error
	if a.store, err = a.buildStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if a.queue, err = a.buildQueue(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// startRunner builds the agent catalog and LLM providers.
func (a *app) startRunner() error {
	catalog, err := agent.NewCatalog(a.cfg.Agents...)
	if err != nil {
		return err
	}
	defaultClient, providers, err := a.buildProviders()
	if err != nil {
		return err
	}
	a.runner, err = agent.New(agent.Config{
		Store:     a.store,
		Catalog:   catalog,
		LLM:       defaultClient,
		Providers: providers,
		Tools:     tools.NewRegistry(tools.NewTimeTool(time.Now)),
		Hooks:     a.hooks,
	})
	return err
}

func (a *app) buildStore(ctx context.Context) (state.Store, error) {
	switch a.cfg.Store.Kind {
	case config.KindRedis:
		s, err := redisstore.New(a.cfg.Store.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case config.KindPostgres:
		s, err := pgstore.Connect(ctx, a.cfg.Store.Postgres.URL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		if a.cfg.Store.Postgres.Migrate {
			if err := s.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		return s, nil
	default:
		return state.NewInMemoryStore(), nil
	}
}

func (a *app) buildQueue(ctx context.Context) (queue.Queue, error) {
	qc := a.cfg.Queue
	var q queue.Queue
	switch qc.Kind {
	case config.KindRedis:
		rq, err := queue.NewRedisQueue(queue.RedisConfig{
			Addr:       qc.Redis.Addr,
			Username:   qc.Redis.Username,
			Password:   qc.Redis.Password,
			DB:         qc.Redis.DB,
			Namespace:  qc.Redis.Namespace,
			PopTimeout: qc.Redis.PopTimeout,
			EnableDLQ:  qc.EnableDLQ,
		})
		if err != nil {
			return nil, err
		}
		q = rq
	case config.KindSQS:
		sq, err := sqsqueue.New(ctx, qc.SQS)
		if err != nil {
			return nil, err
		}
		q = sq
	default:
		logger := a.logger
		q = queue.NewInMemoryQueueWithOptions(queue.Options{
			VisibilityTimeout: qc.VisibilityTimeout,
			EnableDLQ:         qc.EnableDLQ,
			Hooks: queue.Hooks{
				OnRedeliver: func(queueName string, task *queue.Task) {
					logger.Warn("task redelivered", "queue", queueName, "task_id", task.ID, "run_id", task.RunID)
				},
			},
		})
	}
	a.closers = append(a.closers, q.Close)
	return q, nil
}

// buildProviders returns the default client and the per-provider clients.
// The default is a router so agents naming a model get the provider that
// serves it.
func (a *app) buildProviders() (llm.Client, map[string]llm.Client, error) {
	pc := a.cfg.Providers
	providers := make(map[string]llm.Client)
	byPrefix := make(map[string]llm.Client)

	if p := pc.Anthropic; p != nil {
		c, err := anthropic.NewClient(anthropic.Config{
			APIKey:      p.APIKey,
			Model:       p.Model,
			BaseURL:     p.BaseURL,
			Temperature: p.Temperature,
			MaxTokens:   p.MaxTokens,
			Timeout:     p.Timeout,
			Retry:       p.Retry,
			Hooks:       a.hooks,

			DisableStreaming: p.DisableStreaming,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("anthropic: %w", err)
		}
		providers[config.ProviderAnthropic] = c
		byPrefix["claude-"] = c
	}
	if p := pc.OpenAI; p != nil {
		c, err := openai.NewClient(openai.Config{
			APIKey:       p.APIKey,
			Model:        p.Model,
			BaseURL:      p.BaseURL,
			Temperature:  p.Temperature,
			MaxTokens:    p.MaxTokens,
			Timeout:      p.Timeout,
			Retry:        p.Retry,
			Organization: p.Organization,
			Hooks:        a.hooks,

			DisableStreaming: p.DisableStreaming,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("openai: %w", err)
		}
		providers[config.ProviderOpenAI] = c
		byPrefix["gpt-"] = c
		byPrefix["o1"] = c
		byPrefix["o3"] = c
	}
	if len(providers) == 0 {
		return nil, nil, fmt.Errorf("no llm provider configured (set ANTHROPIC_API_KEY or OPENAI_API_KEY)")
	}

	router := llm.NewRouterClient(llm.StaticPolicy{
		Default:  providers[pc.Default],
		ByPrefix: byPrefix,
	})
	return router, providers, nil
}

// Close releases backend connections in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("[CLI] Close error: %v", err)
		}
	}
	a.closers = nil
}
