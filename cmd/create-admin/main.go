package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"authgate/backend/internal/auth"
	"authgate/backend/internal/config"
	"authgate/backend/internal/domain"
	"authgate/backend/internal/logger"
	"authgate/backend/internal/storage/postgres"
	sqlstore "authgate/backend/internal/storage/sql"
)

// main 命令行创建管理员账户
//
// 管理员不开放注册接口，只能通过此工具在部署侧创建。
func main() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: create-admin <username> <email> <password>")
		os.Exit(1)
	}

	username := strings.ToLower(strings.TrimSpace(os.Args[1]))
	email := strings.ToLower(strings.TrimSpace(os.Args[2]))
	password := os.Args[3]

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if len(password) < cfg.Password.MinLength {
		fmt.Printf("Password must be at least %d characters\n", cfg.Password.MinLength)
		os.Exit(1)
	}

	store, err := openStore(cfg)
	if err != nil {
		fmt.Printf("Failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	hash, err := auth.HashPassword(password, auth.Argon2Params{
		Memory:      cfg.Password.Memory,
		Iterations:  cfg.Password.Iterations,
		Parallelism: cfg.Password.Parallelism,
	})
	if err != nil {
		fmt.Printf("Failed to hash password: %v\n", err)
		os.Exit(1)
	}

	user := &domain.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		CreatedAt:    time.Now().UTC(),
	}

	if err := store.CreateUser(user); err != nil {
		fmt.Printf("Failed to create admin: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Admin user created:\n  ID:       %s\n  Username: %s\n  Email:    %s\n", user.ID, user.Username, user.Email)
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
		return nil, fmt.Errorf("create-admin requires a database backend (set AUTHGATE_DATABASE_TYPE)")
	}
}
