package config

import "github.com/joho/godotenv"

// Environment variables
const (
	EnvRPCEndpoint = "RPC_ENDPOINT"
	EnvWSEndpoint  = "WS_ENDPOINT"
	EnvPrivateKey  = "PRIVATE_KEY"
)

// LoadEnv loads environment variables from .env file
func LoadEnv() error {
	return godotenv.Load()
}
