package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	BackendURL  string
	CatalogURL  string
	RedisAddr   string
	SessionPath string
	OpenAIKey   string
	CORSOrigin  string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Error loading .env file")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	backendURL := os.Getenv("BACKEND_URL")
	if backendURL == "" {
		log.Println("Warning: BACKEND_URL not set - recommendations will come from the local catalog only")
	}

	catalogURL := os.Getenv("CATALOG_URL")
	if catalogURL == "" {
		catalogURL = backendURL
	}

	sessionPath := os.Getenv("SESSION_PATH")
	if sessionPath == "" {
		sessionPath = "data/sessions"
	}

	openAIKey := os.Getenv("OPENAI_API_KEY")
	if openAIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set - audio transcription will not work")
	}

	corsOrigin := os.Getenv("CORS_ORIGIN")
	if corsOrigin == "" {
		corsOrigin = "*"
	}

	log.Printf("config: HTTP_ADDRESS=%s", addr)
	return Config{
		HTTPAddress: addr,
		BackendURL:  backendURL,
		CatalogURL:  catalogURL,
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		SessionPath: sessionPath,
		OpenAIKey:   openAIKey,
		CORSOrigin:  corsOrigin,
	}
}
