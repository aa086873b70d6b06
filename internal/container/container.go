// Package container wires the relay's services using go.uber.org/dig.
package container

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/EthanVT97/viber-uat-middleware/internal/activity"
	"github.com/EthanVT97/viber-uat-middleware/internal/bus"
	"github.com/EthanVT97/viber-uat-middleware/internal/config"
	"github.com/EthanVT97/viber-uat-middleware/internal/dedupe"
	"github.com/EthanVT97/viber-uat-middleware/internal/handler"
	"github.com/EthanVT97/viber-uat-middleware/internal/llm"
	"github.com/EthanVT97/viber-uat-middleware/internal/middleware"
	natsclient "github.com/EthanVT97/viber-uat-middleware/internal/nats"
	"github.com/EthanVT97/viber-uat-middleware/internal/service"
	"github.com/EthanVT97/viber-uat-middleware/internal/stats"
	"github.com/EthanVT97/viber-uat-middleware/internal/store"
	"github.com/EthanVT97/viber-uat-middleware/internal/viber"
	"github.com/EthanVT97/viber-uat-middleware/pkg/logger"
)

// dedupeCapacity bounds the number of remembered webhook tokens.
const dedupeCapacity = 10000

// Container holds the resolved service singletons.
type Container struct {
	relay    *service.Relay
	bus      *bus.Bus
	router   http.Handler
	reporter *stats.Reporter
	nats     *natsclient.Client
	inbound  *natsclient.Inbound
}

func (c *Container) Relay() *service.Relay        { return c.relay }
func (c *Container) Bus() *bus.Bus                { return c.bus }
func (c *Container) Router() http.Handler         { return c.router }
func (c *Container) Reporter() *stats.Reporter    { return c.reporter }
func (c *Container) NATS() *natsclient.Client     { return c.nats }
func (c *Container) Inbound() *natsclient.Inbound { return c.inbound }

// Close releases connections held by the container.
func (c *Container) Close() {
	c.bus.Close()
	if c.nats != nil {
		c.nats.Close()
	}
}

// natsConn wraps the optional NATS client; client is nil when NATS is off.
type natsConn struct{ client *natsclient.Client }

// New builds and wires all services from cfg.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	d := dig.New()

	providers := []interface{}{
		func() context.Context { return ctx },
		func() *config.Config { return cfg },
		func() *logger.Logger { return log },
		func() *store.Store { return store.New() },
		newBus,
		newActivityLog,
		newViberClient,
		newNATS,
		newRelay,
		newSuggester,
		newHandlers,
		newRouter,
		newReporter,
	}
	for _, p := range providers {
		if err := d.Provide(p); err != nil {
			return nil, err
		}
	}

	var result *Container
	err := d.Invoke(func(
		relay *service.Relay,
		b *bus.Bus,
		router http.Handler,
		reporter *stats.Reporter,
		nc natsConn,
	) {
		result = &Container{
			relay:    relay,
			bus:      b,
			router:   router,
			reporter: reporter,
			nats:     nc.client,
		}
		if nc.client != nil && cfg.NATSInbound {
			result.inbound = natsclient.NewInbound(nc.client, relay, log)
		}
	})
	if err != nil {
		return nil, dig.RootCause(err)
	}
	return result, nil
}

func newBus(cfg *config.Config, log *logger.Logger) *bus.Bus {
	return bus.New(cfg.SubscriberBuffer, log)
}

func newActivityLog(cfg *config.Config) *activity.Log {
	return activity.New(cfg.ActivityLogSize)
}

func newViberClient(cfg *config.Config, log *logger.Logger) *viber.Client {
	client := viber.NewClient(viber.Config{
		Token:   cfg.ViberBotToken,
		BaseURL: cfg.ViberAPIURL,
		Timeout: cfg.ViberTimeout,
	}, log)
	if !client.Configured() {
		log.Warn("VIBER_BOT_TOKEN not set, replies are logged instead of sent")
	}
	return client
}

func newNATS(ctx context.Context, cfg *config.Config, log *logger.Logger) (natsConn, error) {
	if !cfg.NATSEnabled() {
		return natsConn{}, nil
	}
	client, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
		Name:     "viber-relay",
	}, log)
	if err != nil {
		return natsConn{}, err
	}
	return natsConn{client: client}, nil
}

func newRelay(
	ctx context.Context,
	cfg *config.Config,
	st *store.Store,
	b *bus.Bus,
	vc *viber.Client,
	nc natsConn,
	activityLog *activity.Log,
	log *logger.Logger,
) (*service.Relay, error) {
	opts := []service.Option{
		service.WithActivityLog(activityLog),
		service.WithEndMessage(cfg.AgentEndMessage),
	}

	if nc.client != nil && cfg.NATSMirrorEnabled {
		mirror := natsclient.NewMirror(nc.client)
		if err := mirror.EnsureStream(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure relay event stream: %w", err)
		}
		opts = append(opts, service.WithMirror(mirror))
		log.Info("mirroring relay events to JetStream", zap.String("stream", natsclient.StreamName))
	}

	return service.NewRelay(st, b, vc, log, opts...), nil
}

func newSuggester(cfg *config.Config, relay *service.Relay, log *logger.Logger) (*service.Suggester, error) {
	client, err := llm.NewClient(llm.Provider(cfg.DefaultLLM), llm.Keys{
		Anthropic: cfg.AnthropicAPIKey,
		OpenAI:    cfg.OpenAIAPIKey,
	})
	if err != nil {
		return nil, err
	}
	if client == nil {
		log.Info("no LLM API key set, reply suggestions disabled")
		return service.NewSuggester(relay, nil, "", log), nil
	}

	model := cfg.LLMModel
	if model == "" {
		model = client.DefaultModel()
	}
	log.Info("reply suggestions enabled", zap.String("provider", client.Name()), zap.String("model", model))
	return service.NewSuggester(relay, client, model, log), nil
}

func newHandlers(
	cfg *config.Config,
	relay *service.Relay,
	suggester *service.Suggester,
	activityLog *activity.Log,
	nc natsConn,
	log *logger.Logger,
) *handler.Handlers {
	return &handler.Handlers{
		Dashboard: handler.NewDashboardHandler(relay, suggester, log),
		Stream:    handler.NewStreamHandler(relay, cfg.HeartbeatInterval, log),
		Webhook: handler.NewWebhookHandler(relay, dedupe.New(cfg.WebhookDedupeTTL, dedupeCapacity), activityLog, handler.WebhookConfig{
			Token:           cfg.ViberBotToken,
			VerifySignature: cfg.ViberVerifySignature,
			StartKeyword:    cfg.ViberStartKeyword,
			StopKeyword:     cfg.ViberStopKeyword,
			StartMessage:    cfg.AgentStartMessage,
			StopMessage:     cfg.UserEndMessage,
		}, log),
		Monitor: handler.NewMonitorHandler(activityLog),
		Health:  handler.NewHealthHandler(relay, nc.client),
	}
}

func newRouter(cfg *config.Config, h *handler.Handlers, log *logger.Logger) (http.Handler, error) {
	auth, err := middleware.Auth(middleware.AuthConfig{
		Mode:      cfg.AuthMode,
		Username:  cfg.MonitorUsername,
		Password:  cfg.MonitorPassword,
		JWTSecret: cfg.JWTSecret,
	})
	if err != nil {
		return nil, err
	}

	return handler.NewRouter(h, handler.RouterConfig{
		Auth:              auth,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		CORSOrigins:       cfg.CORSOrigins,
	}, log), nil
}

func newReporter(cfg *config.Config, relay *service.Relay, log *logger.Logger) (*stats.Reporter, error) {
	return stats.New(relay, cfg.StatsSchedule, log)
}
