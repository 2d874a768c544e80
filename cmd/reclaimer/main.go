package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tracker-backend/cmd"
	"tracker-backend/internal/config"
	"tracker-backend/internal/database"
	"tracker-backend/internal/messaging"
	"tracker-backend/internal/reclaim"

	"github.com/caarlos0/env/v11"
)

type ReclaimerConfig struct {
	DatabaseURL       string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL       string `env:"RABBITMQ_URL,notEmpty,required"`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	FileserverURL     string `env:"FILESERVER_URL"`
}

func main() {
	log.Println("Starting Reclaimer Process...")

	cmd.LoadEnvFile()

	var cfg ReclaimerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	serviceCfg := config.LoadFromEnv()

	// Records for a storage type with no configured backend are marked failed
	// rather than retried forever.
	backends := make(map[string]reclaim.Backend)

	if cfg.S3AccessKeyID != "" {
		s3Backend, err := reclaim.NewS3Backend(&reclaim.S3Config{
			S3EndpointURL:     cfg.S3EndpointURL,
			S3AccessKeyID:     cfg.S3AccessKeyID,
			S3SecretAccessKey: cfg.S3SecretAccessKey,
			S3Region:          cfg.S3Region,
		})
		if err != nil {
			log.Fatalf("Failed to create S3 client: %v", err)
		}
		backends[database.StorageS3] = s3Backend
	}

	if cfg.FileserverURL != "" {
		var prefixes []string
		for prefix, storageType := range serviceCfg.StoragePrefixes {
			if storageType == database.StorageFileserver {
				prefixes = append(prefixes, prefix)
			}
		}
		backends[database.StorageFileserver] = reclaim.NewFileserverBackend(cfg.FileserverURL, prefixes)
	}

	reciever, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer reciever.Close()

	reclaimer := reclaim.NewReclaimer(db, backends, reciever)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutdown signal received, stopping reclaimer...")
		cancel()
	}()

	log.Println("Reclaimer started. Waiting for scheduled urls. Press Ctrl+C to exit.")
	reclaimer.Run(ctx)

	log.Println("Reclaimer process stopped.")
}
