// Command acpctl runs the Agent Control Protocol control-plane HTTP
// server: agent-scoped JSON-RPC dispatch, ACP proxying, and the SSE task
// status stream (original spec §6).
//
// # Storage
//
// Each entity store can run primary-only (Postgres or Mongo), or in a
// dual-backend migration phase (original spec §4.4). Configure with:
//
//	POSTGRES_DSN           - Postgres connection string
//	MONGO_URI              - MongoDB connection string
//	MONGO_DATABASE         - MongoDB database name (default: "acpctl")
//	STORAGE_PRIMARY        - "postgres" or "mongo" (default: "postgres")
//	STORAGE_PHASE          - primary_only|dual_write|dual_read_verify|secondary_only (default: "primary_only")
//
// At least one of POSTGRES_DSN/MONGO_URI is required; both are required
// for any phase other than primary_only.
//
// # Configuration
//
// Environment variables:
//
//	HTTP_ADDR              - HTTP listen address (default: ":8080")
//	REDIS_URL              - Redis address backing advisory locks and the status stream (optional)
//	REQUEST_ID_HEADER      - correlation header name (default: "x-request-id")
//	CORS_ORIGINS           - comma-separated allowed origins (default: "*")
//	ACP_RATE_LIMIT         - outbound calls/sec to agents, 0 disables (default: 0)
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/health"

	"github.com/agentflow/acpctl/acp"
	"github.com/agentflow/acpctl/authz"
	"github.com/agentflow/acpctl/assembly"
	"github.com/agentflow/acpctl/dispatch"
	"github.com/agentflow/acpctl/domain"
	"github.com/agentflow/acpctl/features/stream/pulse/clients/pulse"
	"github.com/agentflow/acpctl/httpapi"
	"github.com/agentflow/acpctl/storage"
	"github.com/agentflow/acpctl/storage/dualstore"
	"github.com/agentflow/acpctl/storage/mongostore"
	"github.com/agentflow/acpctl/storage/sqlstore"
	"github.com/agentflow/acpctl/streaming"
	"github.com/agentflow/acpctl/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx := context.Background()
	logger := telemetry.NewLogger()

	addr := envOr("HTTP_ADDR", ":8080")
	requestIDHeader := envOr("REQUEST_ID_HEADER", "x-request-id")
	corsOrigins := strings.Split(envOr("CORS_ORIGINS", "*"), ",")
	rateLimit, _ := strconv.ParseFloat(envOr("ACP_RATE_LIMIT", "0"), 64)

	stores, err := buildStores(ctx)
	if err != nil {
		return fmt.Errorf("build stores: %w", err)
	}

	var lock dispatch.AdvisoryLock = acp.NoopLock{}
	var topic *streaming.Topic
	pingers := stores.pingers
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisURL})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		lock = acp.NewRedisLock(rdb, 5*time.Minute)
		pulseClient, err := pulse.New(pulse.Options{Redis: rdb})
		if err != nil {
			return fmt.Errorf("create pulse client: %w", err)
		}
		topic = streaming.NewTopic(pulseClient)
		pingers = append(pingers, redisPinger{rdb})
	}

	acpClient := acp.New(acp.Options{
		Keys:            envAPIKeys{},
		RequestIDHeader: requestIDHeader,
		RateLimit:       rateLimit,
		RateBurst:       int(rateLimit),
	})

	d := &dispatch.Dispatcher{
		Agents:   stores.agents,
		Tasks:    stores.tasks,
		Messages: stores.messages,
		Events:   stores.events,
		ACP:      dispatch.NewACP(acpClient),
		Authz:    authz.NewMemoryChecker(authz.WildcardTask),
		Lock:     lock,
		Engine:   assembly.NewEngine(assembly.NewStoreAdapter(stores.messages)),
		Topic:    topic,
		Logger:   logger,
		Metrics:  telemetry.NewMetrics("github.com/agentflow/acpctl/dispatch"),
	}

	server := &httpapi.Server{
		Dispatcher:      d,
		Agents:          stores.agents,
		Tasks:           stores.tasks.(*dualstore.Store[*domain.Task]),
		Events:          stores.events,
		Messages:        stores.messages,
		Topic:           topic,
		Pingers:         pingers,
		WebhookKeys:     envWebhookKeys{},
		APIKeys:         envAPIKeys{},
		RequestIDHeader: requestIDHeader,
		Logger:          logger,
		Metrics:         telemetry.NewMetrics("github.com/agentflow/acpctl/httpapi"),
	}
	handler := server.Router(httpapi.Options{
		RequestIDHeader: requestIDHeader,
		CORSOrigins:     corsOrigins,
	})

	log.Printf("starting acpctl on %s", addr)
	return http.ListenAndServe(addr, handler)
}

// envAPIKeys resolves the outbound agent API key from
// ACP_AGENT_<agentID>_KEY, uppercased with non-alphanumerics replaced by
// underscores. A missing variable means "no key" rather than an error: not
// every agent requires one (original spec §4.5, "Authentication").
type envAPIKeys struct{}

func (envAPIKeys) AgentAPIKey(_ context.Context, agentID string) (string, error) {
	return os.Getenv("ACP_AGENT_" + envSafe(agentID) + "_KEY"), nil
}

// envWebhookKeys resolves a provider-scoped webhook signing secret from
// ACP_WEBHOOK_<agentID>_<scope>_<provider>_KEY (original spec §4.5,
// "Webhook validation").
type envWebhookKeys struct{}

func (envWebhookKeys) WebhookKey(_ context.Context, agentID, scope string, provider acp.WebhookProvider) (string, error) {
	key := fmt.Sprintf("ACP_WEBHOOK_%s_%s_%s_KEY", envSafe(agentID), envSafe(scope), strings.ToUpper(string(provider)))
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	return "", domain.NotFound("no webhook key configured for agent %s scope %s provider %s", agentID, scope, provider)
}

func envSafe(s string) string {
	s = strings.ToUpper(s)
	return strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, s)
}

type entityStores struct {
	agents   storage.Store[*domain.Agent]
	tasks    storage.Store[*domain.Task]
	messages storage.Store[*domain.TaskMessage]
	events   storage.Store[*domain.Event]

	// pingers carries one health.Pinger per configured storage backend
	// (original §6 supplement's health endpoint); Redis, when enabled, is
	// appended separately in run() since it is dialed outside buildStores.
	pingers []health.Pinger
}

// postgresPinger and mongoPinger adapt the already-open database handles to
// health.Pinger, grounded on the teacher's
// features/run/mongo/clients/mongo/client.go Client.Ping method but lifted
// to the connection level since acpctl's repositories are generic over
// entity type and don't each own a distinct connection.
type postgresPinger struct{ db *sqlx.DB }

func (postgresPinger) Name() string { return "postgres" }

func (p postgresPinger) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

type mongoPinger struct{ client *mongodriver.Client }

func (mongoPinger) Name() string { return "mongo" }

func (p mongoPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx, nil) }

type redisPinger struct{ client *redis.Client }

func (redisPinger) Name() string { return "redis" }

func (p redisPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }

// buildStores wires each entity's storage.Store per STORAGE_PRIMARY and
// STORAGE_PHASE (original spec §4.4): a dualstore.Store composing a
// Postgres-backed primary with a Mongo-backed secondary (or the reverse),
// pinned to the configured migration phase.
func buildStores(ctx context.Context) (*entityStores, error) {
	phase := dualstore.Phase(envOr("STORAGE_PHASE", string(dualstore.PrimaryOnly)))
	primaryKind := envOr("STORAGE_PRIMARY", "postgres")

	dsn := os.Getenv("POSTGRES_DSN")
	mongoURI := os.Getenv("MONGO_URI")
	mongoDB := envOr("MONGO_DATABASE", "acpctl")

	if dsn == "" && mongoURI == "" {
		return nil, fmt.Errorf("at least one of POSTGRES_DSN or MONGO_URI is required")
	}
	if (dsn == "" || mongoURI == "") && phase != dualstore.PrimaryOnly {
		return nil, fmt.Errorf("STORAGE_PHASE %q requires both POSTGRES_DSN and MONGO_URI", phase)
	}

	var pg *sqlx.DB
	if dsn != "" {
		db, err := sqlstore.Open(dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		pg = db
	}

	var mc *mongodriver.Client
	if mongoURI != "" {
		client, err := mongodriver.Connect(options.Client().ApplyURI(mongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		mc = client
	}

	agentsPg, agentsMongo, err := openPair[*domain.Agent](pg, mc, mongoDB, "agents", func() *domain.Agent { return &domain.Agent{} }, true, sqlstore.AgentMapper())
	if err != nil {
		return nil, err
	}
	tasksPg, tasksMongo, err := openPair[*domain.Task](pg, mc, mongoDB, "tasks", func() *domain.Task { return &domain.Task{} }, true, sqlstore.TaskMapper())
	if err != nil {
		return nil, err
	}
	messagesPg, messagesMongo, err := openPair[*domain.TaskMessage](pg, mc, mongoDB, "task_messages", func() *domain.TaskMessage { return &domain.TaskMessage{} }, false, sqlstore.TaskMessageMapper())
	if err != nil {
		return nil, err
	}
	eventsPg, eventsMongo, err := openPair[*domain.Event](pg, mc, mongoDB, "events", func() *domain.Event { return &domain.Event{} }, false, sqlstore.EventMapper())
	if err != nil {
		return nil, err
	}

	var pingers []health.Pinger
	if pg != nil {
		pingers = append(pingers, postgresPinger{pg})
	}
	if mc != nil {
		pingers = append(pingers, mongoPinger{mc})
	}

	return &entityStores{
		agents:   pairedStore[*domain.Agent](primaryKind, agentsPg, agentsMongo, phase, "agent"),
		tasks:    dualTaskStore(primaryKind, tasksPg, tasksMongo, phase),
		messages: pairedStore[*domain.TaskMessage](primaryKind, messagesPg, messagesMongo, phase, "task_message"),
		events:   pairedStore[*domain.Event](primaryKind, eventsPg, eventsMongo, phase, "event"),
		pingers:  pingers,
	}, nil
}

// dualTaskStore always wraps Task in a *dualstore.Store, even when only one
// backend is configured (using it as both primary and secondary), because
// httpapi's /states surface needs WithPhase available unconditionally
// (original spec §4.4, "Phase may be overridden per-request").
func dualTaskStore(primaryKind string, pg, mongo storage.Store[*domain.Task], phase dualstore.Phase) storage.Store[*domain.Task] {
	primary, secondary := pg, mongo
	if primaryKind == "mongo" {
		primary, secondary = mongo, pg
	}
	if primary == nil {
		primary, secondary = secondary, nil
	}
	if secondary == nil {
		secondary = primary
		phase = dualstore.PrimaryOnly
	}
	return dualstore.New[*domain.Task](primary, secondary, phase, "task")
}

// openPair builds the Postgres and Mongo storage.Store for one entity, each
// only if its backend was configured; buildStores picks which one is
// primary and whether to wrap both in a dualstore.Store.
func openPair[T storage.Entity](pg *sqlx.DB, mc *mongodriver.Client, mongoDB, collection string, newT func() T, nameUnique bool, mapper sqlstore.Mapper[T]) (storage.Store[T], storage.Store[T], error) {
	var pgStore, mongoStore storage.Store[T]
	if pg != nil {
		pgStore = sqlstore.New[T](pg, mapper)
	}
	if mc != nil {
		repo, err := mongostore.New[T](mc, mongoDB, collection, newT, nameUnique)
		if err != nil {
			return nil, nil, fmt.Errorf("open mongo store for %s: %w", collection, err)
		}
		mongoStore = repo
	}
	return pgStore, mongoStore, nil
}

func pairedStore[T storage.Entity](primaryKind string, pg, mongo storage.Store[T], phase dualstore.Phase, entity string) storage.Store[T] {
	if pg != nil && mongo != nil {
		primary, secondary := pg, mongo
		if primaryKind == "mongo" {
			primary, secondary = mongo, pg
		}
		return dualstore.New[T](primary, secondary, phase, entity)
	}
	if pg != nil {
		return pg
	}
	return mongo
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
