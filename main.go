package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	orchestratorx "github.com/tanpawarit/voice-agent-orchestrator/agent/agents/orchestrator"
	auditx "github.com/tanpawarit/voice-agent-orchestrator/agent/audit"
	bridgex "github.com/tanpawarit/voice-agent-orchestrator/agent/bridge"
	chatx "github.com/tanpawarit/voice-agent-orchestrator/agent/chat"
	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
	directoryx "github.com/tanpawarit/voice-agent-orchestrator/agent/directory"
	llmx "github.com/tanpawarit/voice-agent-orchestrator/agent/llm"
	promptx "github.com/tanpawarit/voice-agent-orchestrator/agent/prompt"
	serverx "github.com/tanpawarit/voice-agent-orchestrator/agent/server"
	statex "github.com/tanpawarit/voice-agent-orchestrator/agent/state"
	toolx "github.com/tanpawarit/voice-agent-orchestrator/agent/tool"
	configx "github.com/tanpawarit/voice-agent-orchestrator/pkg/config"
	_ "github.com/tanpawarit/voice-agent-orchestrator/pkg/logger/autoload"
	openrouterx "github.com/tanpawarit/voice-agent-orchestrator/pkg/openrouter"
	postgresx "github.com/tanpawarit/voice-agent-orchestrator/pkg/postgres"
	qstashx "github.com/tanpawarit/voice-agent-orchestrator/pkg/qstash"
	realtimex "github.com/tanpawarit/voice-agent-orchestrator/pkg/realtime"
)

// AppConfig is read with the ORCHESTRATOR prefix.
type AppConfig struct {
	// DefaultCaller seeds the environment of scheduled refreshes.
	DefaultCaller string `envconfig:"DEFAULT_CALLER" split_words:"true"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("voice agent orchestrator stopped")
	}
}

func run(ctx context.Context) error {
	appCfg := configx.MustNew[AppConfig]("ORCHESTRATOR")
	serverCfg := configx.MustNew[serverx.Config]("SERVER")
	realtimeCfg := configx.MustNew[realtimex.Config]("REALTIME")
	llmCfg := configx.MustNew[llmx.Config]("OPENROUTER")
	agentsCfg := configx.MustNew[toolx.Config]("AGENTS")
	redisCfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
	postgresCfg := configx.MustNew[postgresx.Config]("POSTGRES")
	kafkaCfg := configx.MustNew[auditx.KafkaConfig]("KAFKA")
	qstashCfg := configx.MustNew[qstashx.Config]("QSTASH")
	webhookCfg := configx.MustNew[auditx.WebhookConfig]("QSTASH")

	env := contractx.Environment{}
	if appCfg.DefaultCaller != "" {
		env[contractx.EnvCaller] = appCfg.DefaultCaller
	}
	orch, err := orchestratorx.NewDefault(orchestratorx.Config{Environment: env})
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	var closers []func()
	defer func() { shutdown(orch.Close, closers) }()

	deps := toolx.Deps{Now: time.Now}
	var (
		events serverx.EventLog
		users  serverx.Users
	)

	if postgresCfg.Enabled() {
		db, err := postgresx.Open(ctx, *postgresCfg)
		if err != nil {
			return err
		}
		closers = append(closers, func() { _ = db.Close() })

		directory := directoryx.New(db)
		if err := directory.Migrate(ctx); err != nil {
			return err
		}
		deps.Directory = directory
		users = directory

		sink := auditx.NewPostgresSink(db, nil)
		if err := sink.Migrate(ctx); err != nil {
			return err
		}
		orch.AddSink(sink)
		events = sink
		log.Info().Msg("postgres directory and audit sink enabled")
	}

	if kafkaCfg.Enabled() {
		sink, err := auditx.NewKafkaSink(*kafkaCfg)
		if err != nil {
			return err
		}
		closers = append(closers, func() { _ = sink.Close() })
		orch.AddSink(sink)
		log.Info().Str("topic", kafkaCfg.Topic).Msg("kafka audit sink enabled")
	}

	if qstashCfg.Enabled() && webhookCfg.Enabled() {
		client, err := qstashx.NewClient(*qstashCfg)
		if err != nil {
			return err
		}
		orch.AddSink(auditx.NewWebhookSink(client, webhookCfg.Destination, auditx.ParseFilter(webhookCfg.Types)))
		log.Info().Msg("qstash webhook sink enabled")
	}

	if llmCfg.Enabled() {
		searchModel := llmCfg.Search()
		orCfg := llmCfg.OpenRouter(searchModel)
		chatModel, err := orCfg.New(ctx)
		if err != nil {
			return fmt.Errorf("build search model: %w", err)
		}
		deps.LLM = chatModel
		deps.SearchModel = searchModel
		checkModel(ctx, orCfg)
	}

	for _, agent := range toolx.BuildDefault(*agentsCfg, deps) {
		if err := orch.Register(agent); err != nil {
			return fmt.Errorf("register %s: %w", agent.Name(), err)
		}
		if c, ok := agent.(interface{ Close() }); ok {
			closers = append(closers, c.Close)
		}
	}
	orch.Start()

	var store statex.Store
	if redisCfg.Enabled() {
		redis, err := statex.NewUpstashRedisStore(*redisCfg)
		if err != nil {
			return err
		}
		store = redis
	}

	rt, err := realtimex.NewClient(*realtimeCfg)
	if err != nil {
		return err
	}

	instructions := promptx.SystemOr(serverCfg.Instructions)
	var bridgeOpts []bridgex.Option
	if store != nil {
		bridgeOpts = append(bridgeOpts, bridgex.WithStore(store))
	}
	br, err := bridgex.New(rt, orch, orch, bridgex.ConfigFrom(*realtimeCfg, instructions), bridgeOpts...)
	if err != nil {
		return err
	}
	defer br.Wait()

	chat, err := chatx.New(rt, orch, orch, chatx.Config{
		Instructions: instructions,
		Temperature:  realtimeCfg.Temperature,
	})
	if err != nil {
		return err
	}

	srv, err := serverx.New(*serverCfg, serverx.Deps{
		Agents: orch,
		Calls:  br,
		Chat:   chat,
		Store:  store,
		Events: events,
		Users:  users,
	})
	if err != nil {
		return err
	}

	log.Info().Int("agents", len(orch.List())).Msg("voice agent orchestrator started")
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// shutdown stops the orchestrator first so its bus drains into sinks that are
// still open, then runs closers in reverse order of acquisition.
func shutdown(stopOrchestrator func(), closers []func()) {
	stopOrchestrator()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

// checkModel warns when OpenRouter does not list the configured model. It
// never fails startup.
func checkModel(ctx context.Context, cfg openrouterx.Config) {
	client := openrouterx.NewClient(cfg)
	if client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ok, err := openrouterx.HasModel(ctx, client, cfg.Model)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("could not verify openrouter model")
	case !ok:
		log.Warn().Str("model", cfg.Model).Msg("openrouter does not list the search model")
	}
}
