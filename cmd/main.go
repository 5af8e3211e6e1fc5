package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"permission_service/internal/config"
	"permission_service/internal/database/mongo"
	"permission_service/internal/events"
	"permission_service/internal/handlers"
	"permission_service/internal/repository"
	"permission_service/internal/service"
	"permission_service/pkg/discovery"

	"github.com/gofiber/fiber/v3"
)

func setupLogging() (*os.File, error) {
	logDir := filepath.Join("/portal", "log", "permission_service")
	err := os.MkdirAll(logDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	currentTime := time.Now()
	logFileName := fmt.Sprintf("log_%s.log", currentTime.Format("2006-01-02"))
	logFile := filepath.Join(logDir, logFileName)

	file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %v", err)
	}

	log.SetOutput(file)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	return file, nil
}

func main() {
	logFile, err := setupLogging()
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logFile.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := repository.Repositories_instance.EnsureIndexes(ctx); err != nil {
		cancel()
		log.Fatalf("Failed to ensure indexes: %v", err)
	}
	cancel()

	rabbitURI := config.ServiceConfig.RabbitMQURI()
	publisher, err := events.NewEventPublisher(rabbitURI)
	if err != nil {
		log.Fatalf("Failed to create event publisher: %v", err)
	}

	consumer, err := events.NewEventConsumer(rabbitURI, repository.Repositories_instance)
	if err != nil {
		log.Fatalf("Failed to create event consumer: %v", err)
	}
	if err := consumer.Start(); err != nil {
		log.Fatalf("Failed to start event consumer: %v", err)
	}

	cacheService := service.NewCacheService()
	grantService := service.NewGrantService(cacheService, publisher)
	templateService := service.NewTemplateService(grantService, publisher)
	resolverService := service.NewResolverService(publisher)
	jwtService := service.NewJWTService()

	if config.ServiceConfig.SeedTemplates {
		seedCtx, seedCancel := context.WithTimeout(context.Background(), 30*time.Second)
		templateService.SeedDefaults(seedCtx)
		seedCancel()
	}

	app := fiber.New(fiber.Config{})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.Status(200).SendString("OK")
	})

	handlers.NewPermissionHandler(grantService, resolverService).RegisterRoutes(app)
	handlers.NewTemplateHandler(templateService, resolverService).RegisterRoutes(app)
	handlers.NewAuditHandler(resolverService).RegisterRoutes(app)
	handlers.NewAuthorizeHandler(resolverService, cacheService, jwtService).RegisterRoutes(app)

	if err := discovery.ServiceDiscovery.Register(); err != nil {
		log.Printf("Failed to register with Consul: %v", err)
	}

	shutdownChan := make(chan os.Signal, 1)
	doneChan := make(chan bool, 1)

	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on port %s", config.ServiceConfig.Port)
		if err := app.Listen(":" + config.ServiceConfig.Port); err != nil {
			log.Fatalf("Error starting server: %v", err)
		}
		doneChan <- true
	}()

	<-shutdownChan
	log.Println("Shutting down server...")

	if err := discovery.ServiceDiscovery.Deregister(); err != nil {
		log.Printf("Error deregistering from Consul: %v", err)
	}

	if err := app.Shutdown(); err != nil {
		log.Printf("Error shutting down server: %v", err)
	}

	if err := consumer.Close(); err != nil {
		log.Printf("Error closing event consumer: %v", err)
	}
	if err := publisher.Close(); err != nil {
		log.Printf("Error closing event publisher: %v", err)
	}
	mongo.DisconnectMongo()

	<-doneChan
	log.Println("Server exited, goodbye!")
}
