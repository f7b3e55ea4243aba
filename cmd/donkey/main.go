// Donkey is a healthcare message-integration engine: channels accept
// messages from a configured source connector, run filter/transform
// hooks, and fan out to ordered destination chains with per-destination
// retry queues (spec.md §1).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/codeready-toolchain/donkey/pkg/channel"
	"github.com/codeready-toolchain/donkey/pkg/config"
	"github.com/codeready-toolchain/donkey/pkg/database"
	"github.com/codeready-toolchain/donkey/pkg/events"
	"github.com/codeready-toolchain/donkey/pkg/serializer"
	"github.com/codeready-toolchain/donkey/pkg/source"
	"github.com/codeready-toolchain/donkey/pkg/stats"
	"github.com/joho/godotenv"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// deployedChannel bundles a running Channel with the resources main must
// release on shutdown: its inbound listener and any connections its
// destination chains dialed.
type deployedChannel struct {
	id      string
	channel *channel.Channel
	source  *sourceBinding
	closers []func() error
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	ginMode := getEnv("GIN_MODE", "debug")
	gin.SetMode(ginMode)

	log.Printf("Starting Donkey")
	log.Printf("HTTP Port: %s", httpPort)
	log.Printf("Config Directory: %s", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}
	cfgStats := cfg.Stats()

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("Error closing database client: %v", err)
		}
	}()
	log.Println("Connected to PostgreSQL database")

	// Shared across every deployed channel: one Recorder persists statistics
	// and fans events out via Postgres NOTIFY (pkg/events), one
	// ConnectionManager/NotifyListener pair serves them to websocket clients.
	eventPublisher := events.NewEventPublisher(dbClient.DB())
	recorder := stats.NewRecorder(dbClient.Store, stats.NewCounters(), eventPublisher)

	catchupQuerier := events.NewStoreCatchupAdapter(dbClient.Store)
	connManager := events.NewConnectionManager(catchupQuerier, 10*time.Second)
	notifyListener := events.NewNotifyListener(dbConfig.DSN(), connManager)
	if err := notifyListener.Start(ctx); err != nil {
		log.Fatalf("Failed to start NOTIFY listener: %v", err)
	}
	connManager.SetListener(notifyListener)
	defer notifyListener.Stop(context.Background())

	serializerRegistry, dataTypeKinds, err := buildSerializerRegistry(cfg.DataTypeRegistry.GetAll())
	if err != nil {
		log.Fatalf("Failed to build serializer registry: %v", err)
	}

	execs := newScriptExecutors()
	defer execs.closeAll()

	var deployed []*deployedChannel
	for id, chCfg := range cfg.ChannelRegistry.GetAll() {
		if !chCfg.Enabled {
			slog.Info("main: channel disabled, skipping deploy", "channel_id", id)
			continue
		}
		dc, err := deployChannel(ctx, chCfg, dbClient, serializerRegistry, dataTypeKinds, execs, recorder)
		if err != nil {
			log.Fatalf("Failed to deploy channel %s: %v", id, err)
		}
		deployed = append(deployed, dc)
		slog.Info("main: channel started", "channel_id", id)
	}
	defer func() {
		for _, dc := range deployed {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if dc.source != nil {
				if err := dc.source.stop(stopCtx); err != nil {
					slog.Warn("main: source stop failed", "channel_id", dc.id, "error", err)
				}
			}
			if err := dc.channel.Stop(stopCtx); err != nil {
				slog.Warn("main: channel stop failed", "channel_id", dc.id, "error", err)
			}
			for _, closeFn := range dc.closers {
				if closeFn == nil {
					continue
				}
				if err := closeFn(); err != nil {
					slog.Warn("main: destination transport close failed", "channel_id", dc.id, "error", err)
				}
			}
			cancel()
		}
	}()

	router := gin.Default()
	router.GET("/health", func(c *gin.Context) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		dbHealth, err := database.Health(reqCtx, dbClient.DB())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": dbHealth,
				"error":    err.Error(),
			})
			return
		}

		channels := gin.H{}
		for _, dc := range deployed {
			channels[dc.id] = dc.channel.State()
		}

		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"database": dbHealth,
			"configuration": gin.H{
				"channels":   cfgStats.Channels,
				"data_types": cfgStats.DataTypes,
			},
			"channels": channels,
		})
	})

	router.GET("/events", func(c *gin.Context) {
		conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			slog.Warn("main: websocket accept failed", "error", err)
			return
		}
		connManager.HandleConnection(c.Request.Context(), conn)
	})

	srv := &http.Server{Addr: ":" + httpPort, Handler: router}
	go func() {
		log.Printf("HTTP server listening on :%s", httpPort)
		log.Printf("Health check available at: http://localhost:%s/health", httpPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}
}

// deployChannel constructs, deploys, and starts one configured channel,
// binding its source transport last so no inbound traffic arrives before
// the destination chain runner's worker pools are up.
func deployChannel(
	ctx context.Context,
	chCfg *config.ChannelConfig,
	dbClient *database.Client,
	reg *serializer.Registry,
	dataTypeKinds map[string]serializer.DataType,
	execs *scriptExecutors,
	recorder *stats.Recorder,
) (*deployedChannel, error) {
	srcKind, ok := dataTypeKinds[chCfg.Source.DataType]
	if !ok {
		return nil, fmt.Errorf("source: unknown data type %q", chCfg.Source.DataType)
	}

	chains, closers, err := buildChains(chCfg.DestinationChains, srcKind, dataTypeKinds, reg, execs)
	if err != nil {
		return nil, err
	}

	filter, transform, err := sourceHooks(chCfg.Source.Script, execs)
	if err != nil {
		return nil, err
	}

	postprocessor := resolvePostprocessor(chCfg.Postprocessor)

	srcCfg := source.Config{
		ConnectorName:       chCfg.Source.ConnectorName,
		Filter:              filter,
		Transformer:         transform,
		Attribution:         source.ResponseAttribution(chCfg.Source.Attribution),
		AttributionMetaDataID: chCfg.Source.AttributionMetaDataID,
		WaitForDestinations: chCfg.Source.WaitForDestinations,
		DestinationTimeout:  chCfg.Source.DestinationTimeout,
	}
	if srcCfg.Attribution == "" {
		srcCfg.Attribution = source.AttributeSource
	}
	if srcCfg.Attribution == source.AttributePostprocessor {
		srcCfg.Postprocessor = asSourcePostprocessor(postprocessor)
	}

	ch := channel.New(channel.Config{
		ID:            chCfg.ID,
		SourceConfig:  srcCfg,
		Chains:        chains,
		Postprocessor: asAggregatorPostprocessor(postprocessor),
		Recorder:      recorder,
	}, dbClient)

	if err := ch.Deploy(ctx); err != nil {
		return nil, fmt.Errorf("deploy: %w", err)
	}
	if err := ch.Start(ctx); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	binding, err := bindSourceTransport(ch, chCfg.Source.Transport)
	if err != nil {
		return nil, fmt.Errorf("bind source transport: %w", err)
	}
	if err := binding.start(ctx); err != nil {
		return nil, fmt.Errorf("start source transport: %w", err)
	}

	return &deployedChannel{id: chCfg.ID, channel: ch, source: binding, closers: closers}, nil
}
