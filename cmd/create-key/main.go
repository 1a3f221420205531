package main

import (
	"fmt"
	"os"
	"time"

	"authgate/backend/internal/config"
	"authgate/backend/internal/domain"
	"authgate/backend/internal/logger"
	"authgate/backend/internal/service"
	"authgate/backend/internal/storage/postgres"
	sqlstore "authgate/backend/internal/storage/sql"
)

// main 命令行签发 API 密钥
//
// 适用于没有管理员会话的部署初始化场景（如 CI 流水线）。
func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: create-key <name> [expires-in] [scopes]")
		fmt.Println("  expires-in: Go duration, e.g. 720h (default: never)")
		fmt.Println("  scopes:     comma-separated, e.g. read,write")
		os.Exit(1)
	}

	name := os.Args[1]

	input := service.CreateAPIKeyInput{Name: name}
	if len(os.Args) >= 3 && os.Args[2] != "" {
		d, err := time.ParseDuration(os.Args[2])
		if err != nil || d <= 0 {
			fmt.Printf("Invalid expires-in: %s\n", os.Args[2])
			os.Exit(1)
		}
		t := time.Now().Add(d)
		input.ExpiresAt = &t
	}
	if len(os.Args) >= 4 {
		input.Scopes = os.Args[3]
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	store, err := openStore(cfg)
	if err != nil {
		fmt.Printf("Failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	apiKeys := service.NewAPIKeyService(store, nil, logger.NewDevelopment())
	rawKey, key, err := apiKeys.CreateAPIKey(input)
	if err != nil {
		fmt.Printf("Failed to create API key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("API key created:\n  ID:     %s\n  Name:   %s\n  Prefix: %s\n", key.ID, key.Name, key.KeyPrefix)
	if key.ExpiresAt != nil {
		fmt.Printf("  Expires: %s\n", key.ExpiresAt.UTC().Format(time.RFC3339))
	}
	fmt.Printf("\n  Key: %s\n\nStore this key now. It cannot be retrieved again.\n", rawKey)
}

// openStore 打开持久化存储（此工具不支持内存后端）
func openStore(cfg *config.Config) (domain.Store, error) {
	log := logger.NewDevelopment()

	switch cfg.Database.Type {
	case "mysql", "postgres":
		return sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
	case "pgx":
		return postgres.NewStore(&cfg.Database, log)
	default:
		return nil, fmt.Errorf("create-key requires a database backend (set AUTHGATE_DATABASE_TYPE)")
	}
}
