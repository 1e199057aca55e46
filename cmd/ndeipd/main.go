package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/machamire/ndeip-core/internal/call"
	"github.com/machamire/ndeip-core/internal/config"
	"github.com/machamire/ndeip-core/internal/db"
	"github.com/machamire/ndeip-core/internal/delivery"
	httpserver "github.com/machamire/ndeip-core/internal/http-server"
	"github.com/machamire/ndeip-core/internal/session"
	"github.com/machamire/ndeip-core/internal/signal"
	"github.com/machamire/ndeip-core/pkg/jwt"
	"github.com/machamire/ndeip-core/pkg/s3storage"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	// Setting up logger
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    true,
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05",
		Level:           log.DebugLevel,
	})

	// Initializing global context instance
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initializing config manager
	cm, err := config.NewConfigManager(*configPath)
	if err != nil {
		logger.Error("Error getting config file", "error", err)
		os.Exit(1)
	}

	c := cm.GetConfig()

	// Validating configuration
	if err := c.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Info(
		"Configuration loaded",
		"env", c.GeneralParams.Env,
		"http_addr", c.GeneralParams.HTTPaddress,
		"mqtt_broker", c.MQTTParams.Broker,
		"database", c.MainDBParams.Name,
		"auth", c.AuthDBParams.Host,
	)

	// Creating database connection pool
	pool, err := db.CreatePostgresPool(ctx, c.MainDBParams.GetDSN())
	if err != nil {
		logger.Error(
			"Failed to create postgres pool",
			"error", err,
			"db", c.MainDBParams.Name,
		)
		os.Exit(1)
	}
	defer pool.Close()

	logger.Info("Database connection established", "db", c.MainDBParams.Name)

	// Creates database store
	store := db.NewPostgresStore(pool)

	// Initializing JWT service
	jwtService := jwt.NewService(
		c.GeneralParams.SecretKey,
		15*time.Minute,
		7*24*time.Hour,
	)

	logger.Info("JWT service initialized")

	// Initialize Key-value storage: presence sessions + retry queue
	sessionManager, err := session.NewManager(
		c.AuthDBParams.Host,
		c.AuthDBParams.Password,
	)
	if err != nil {
		logger.Error("Failed to create session manager", "error", err)
		os.Exit(1)
	}
	defer sessionManager.Close()

	logger.Info("Key-Value session manager initialized")

	// Initialize S3 client
	s3Client, err := s3storage.NewMinIOClient(
		c.S3Params.Endpoint,
		c.S3Params.AccessKeyID,
		c.S3Params.SecretAccessKey,
		c.S3Params.BucketName,
		c.S3Params.UseSSL,
	)
	if err != nil {
		logger.Error("Failed to create S3 client", "error", err)
		os.Exit(1)
	}

	logger.Info("S3 storage client initialized", "bucket", c.S3Params.BucketName)

	qos := byte(c.MQTTParams.QoS)

	// Delivery pipeline over MQTT. The transport flips the pipeline's
	// online flag as the link comes and goes, which is what drives the
	// offline queue flush. The on-connect handlers below run only after
	// Connect(), by which point both vars are assigned.
	var (
		deliveryTransport *delivery.MQTTTransport
		pipeline          *delivery.Pipeline
	)

	// Connecting to the MQTT broker
	opts := mqtt.NewClientOptions().
		AddBroker(c.MQTTParams.Broker).
		SetClientID(c.GeneralParams.NodeID).
		SetAutoReconnect(true).
		SetOrderMatters(true).
		SetConnectTimeout(10 * time.Second)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("MQTT connected", "broker", c.MQTTParams.Broker)
		if err := deliveryTransport.Start(pipeline); err != nil {
			logger.Error("Failed to start delivery transport", "error", err)
		}
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "error", err)
		pipeline.SetOnline(false)
	}

	mqttClient := mqtt.NewClient(opts)

	deliveryTransport = delivery.NewMQTTTransport(mqttClient, qos, c.GeneralParams.NodeID, logger)

	pipeline = delivery.NewPipeline(
		store,
		store,
		sessionManager,
		deliveryTransport,
		delivery.RetryPolicy{
			BaseDelay:     time.Duration(c.DeliveryParams.BaseDelayMs) * time.Millisecond,
			BackoffFactor: c.DeliveryParams.BackoffFactor,
			MaxDelay:      time.Duration(c.DeliveryParams.MaxDelayMs) * time.Millisecond,
			MaxAttempts:   c.DeliveryParams.MaxAttempts,
			FlushSpacing:  time.Duration(c.DeliveryParams.FlushSpacingMs) * time.Millisecond,
		},
		logger,
	)
	defer pipeline.Close()

	if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
		logger.Error("Failed to connect to MQTT broker", "error", token.Error())
		os.Exit(1)
	}
	defer mqttClient.Disconnect(250)

	// Re-enqueue sends that were in flight when the process last stopped
	if err := pipeline.Recover(ctx); err != nil {
		logger.Error("Retry queue recovery failed", "error", err)
	}

	// Call signaling over the same broker
	signalHub := signal.NewHub(signal.NewMQTTTransport(mqttClient, qos), logger)

	nodeUUID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(c.GeneralParams.NodeID))

	callManager, err := call.NewManager(
		nodeUUID,
		signalHub,
		store,
		call.Config{
			NoAnswerTimeout:  c.CallParams.NoAnswerTimeout(),
			ReconnectTimeout: c.CallParams.ReconnectTimeout(),
		},
		logger,
	)
	if err != nil {
		logger.Error("Failed to create call manager", "error", err)
		os.Exit(1)
	}
	defer callManager.Close()

	callManager.OnIncoming(func(in *call.IncomingCall) {
		logger.Info(
			"Incoming call",
			"call_id", in.CallID,
			"from", in.From,
			"type", in.Type,
		)
	})

	// Creates HTTP server
	HTTPserver := httpserver.New(
		c.GeneralParams.HTTPaddress,
		store,
		pipeline,
		sessionManager,
		jwtService,
		s3Client,
		logger,
	)

	// Channel to listen for errors coming from the server
	serverErrors := make(chan error, 1)

	// Start the HTTP server in a gorutine
	go func() {
		serverErrors <- HTTPserver.Start()
	}()

	logger.Info("All servers started successfully")

	// Channel to listen for interrupt signals
	shutdown := make(chan os.Signal, 1)
	ossignal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we recieve a signal or error
	select {
	case err := <-serverErrors:
		logger.Error("Server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig)

		// Give outstanding requests 10s to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		logger.Info("Shutting down HTTP server...")
		if err := HTTPserver.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", "error", err)
		}

		logger.Info("All servers stopped gracefully")
	}
}
