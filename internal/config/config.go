package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port             string
	ConsulAddress    string
	ServiceName      string
	ServiceID        string
	ServiceAddress   string
	RabbitMQUser     string
	RabbitMQPassword string
	RabbitMQPort     string
	JWTSecret        string
	JWTExpired       int64
	CacheTTLHours    int64
	SeedTemplates    bool
}

func init() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, using environment variables")
	}
	ServiceConfig = New()
}

var ServiceConfig *Config

func New() *Config {
	jwt_expired_str := getEnv("TOKEN_EXPIRY_TIME", "24")
	jwt_expired, _ := strconv.Atoi(jwt_expired_str)

	cache_ttl_str := getEnv("PERMISSION_CACHE_TTL_HOURS", "24")
	cache_ttl, _ := strconv.Atoi(cache_ttl_str)

	seed_templates, _ := strconv.ParseBool(getEnv("SEED_DEFAULT_TEMPLATES", "true"))

	return &Config{
		Port:             getEnv("PORT", "9200"),
		RabbitMQUser:     getEnv("RABBITMQ_USER", ""),
		RabbitMQPassword: getEnv("RABBITMQ_PASSWORD", ""),
		RabbitMQPort:     getEnv("RABBITMQ_PORT", ""),
		ConsulAddress:    "consul-server:" + getEnv("CONSUL_PORT", "8500"),
		ServiceName:      getEnv("PERMISSION_SERVICE_NAME", "permission-service"),
		ServiceID:        getEnv("PERMISSION_SERVICE_NAME", "permission-service") + "-" + getEnv("PERMISSION_HOSTNAME", "1"),
		ServiceAddress:   getEnv("PERMISSION_SERVICE_ADDRESS", "permission-service"),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTExpired:       int64(jwt_expired),
		CacheTTLHours:    int64(cache_ttl),
		SeedTemplates:    seed_templates,
	}
}

// RabbitMQURI assembles the broker URI. Empty credentials disable
// messaging entirely, which the events package treats as a no-op mode.
func (c *Config) RabbitMQURI() string {
	if c.RabbitMQUser == "" || c.RabbitMQPort == "" {
		return ""
	}
	return "amqp://" + c.RabbitMQUser + ":" + c.RabbitMQPassword + "@" + getEnv("RABBITMQ_HOST", "rabbitmq") + ":" + c.RabbitMQPort + "/"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("ENV %s not set, using fallback", key)
	return fallback
}
