package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"authgate/backend/internal/domain"
	"authgate/backend/internal/pool"
)

var (
	// ErrInvalidEmail 无效的邮箱格式
	ErrInvalidEmail = errors.New("invalid email format")
	// ErrInvalidUsername 无效的用户名
	ErrInvalidUsername = errors.New("invalid username")
	// ErrWeakPassword 密码强度不足
	ErrWeakPassword = errors.New("password too weak")
	// ErrEmailExists 邮箱已存在
	ErrEmailExists = errors.New("email already exists")
	// ErrUsernameExists 用户名已存在
	ErrUsernameExists = errors.New("username already exists")
	// ErrUserNotFound 用户不存在
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials 凭证无效（统一错误，不区分用户不存在与密码错误）
	ErrInvalidCredentials = errors.New("invalid credentials")
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-]{3,32}$`)

// Service 认证服务
//
// 聚合凭证存储与会话管理：注册、凭证校验、登录。
// 密码哈希通过协程池限流，防止撞库流量导致 CPU/内存耗尽。
type Service struct {
	users     domain.UserRepository
	sessions  *SessionManager
	hashPool  *pool.WorkerPool
	params    Argon2Params
	minLength int
	dummyHash string // 用户不存在时也按同样代价校验一次，避免通过响应时间枚举用户
	log       *zap.Logger
}

// NewService 创建认证服务
func NewService(users domain.UserRepository, sessions *SessionManager, hashPool *pool.WorkerPool, params Argon2Params, minLength int, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		users:     users,
		sessions:  sessions,
		hashPool:  hashPool,
		params:    params,
		minLength: minLength,
		dummyHash: dummyHash(params),
		log:       log,
	}
}

// RegisterInput 注册输入
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// LoginResult 登录/注册成功后的返回
type LoginResult struct {
	User         *domain.User
	SessionToken string
}

// Register 用户注册
//
// 用户名与邮箱全局唯一；密码长度不得低于配置下限。
// 注册成功即视为登录，直接签发会话。
func (s *Service) Register(input RegisterInput) (*LoginResult, error) {
	username := strings.ToLower(strings.TrimSpace(input.Username))
	email := strings.ToLower(strings.TrimSpace(input.Email))

	if !usernameRegex.MatchString(username) {
		return nil, ErrInvalidUsername
	}
	if !emailRegex.MatchString(email) {
		return nil, ErrInvalidEmail
	}
	if len(input.Password) < s.minLength {
		return nil, ErrWeakPassword
	}

	// 检查用户名是否已存在
	if user, err := s.users.GetUserByUsername(username); err == nil && user != nil {
		return nil, ErrUsernameExists
	}

	// 检查邮箱是否已存在
	if user, err := s.users.GetUserByEmail(email); err == nil && user != nil {
		return nil, ErrEmailExists
	}

	// 哈希密码（经协程池限流）
	var passwordHash string
	var hashErr error
	s.hashPool.Do(func() {
		passwordHash, hashErr = HashPassword(input.Password, s.params)
	})
	if hashErr != nil {
		return nil, fmt.Errorf("failed to hash password: %w", hashErr)
	}

	user := &domain.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         domain.RoleUser,
		CreatedAt:    time.Now(),
	}

	if err := s.users.CreateUser(user); err != nil {
		// 并发注册可能穿过上面的预检查，存储层唯一约束兜底
		switch {
		case errors.Is(err, domain.ErrUsernameExists):
			return nil, ErrUsernameExists
		case errors.Is(err, domain.ErrEmailExists):
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.sessions.CreateSession(user.ID)
	if err != nil {
		return nil, err
	}

	s.log.Info("user registered",
		zap.String("user_id", user.ID),
		zap.String("username", user.Username),
	)
	return &LoginResult{User: user, SessionToken: token}, nil
}

// VerifyCredentials 校验用户名（或邮箱）与密码
//
// 用户不存在与密码错误返回同一个 ErrInvalidCredentials，
// 且两种情况都会执行一次哈希校验，外部无法从时间上区分。
func (s *Service) VerifyCredentials(identifier, password string) (*domain.User, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))

	user, err := s.users.GetUserByUsername(identifier)
	if errors.Is(err, domain.ErrUserNotFound) {
		user, err = s.users.GetUserByEmail(identifier)
	}
	// 存储故障必须上浮为服务端错误，只有"用户不存在"才走统一凭证错误路径
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	storedHash := s.dummyHash
	if err == nil && user != nil {
		storedHash = user.PasswordHash
	}

	var match bool
	s.hashPool.Do(func() {
		match = CheckPassword(password, storedHash)
	})

	if err != nil || user == nil || !match {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Login 用户登录
//
// 校验凭证后更新最后登录时间并签发新会话。
func (s *Service) Login(identifier, password string) (*LoginResult, error) {
	user, err := s.VerifyCredentials(identifier, password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.users.UpdateLastLogin(user.ID, now); err != nil {
		s.log.Warn("failed to update last login", zap.String("user_id", user.ID), zap.Error(err))
	} else {
		user.LastLoginAt = &now
	}

	token, err := s.sessions.CreateSession(user.ID)
	if err != nil {
		return nil, err
	}

	s.log.Info("user logged in", zap.String("user_id", user.ID))
	return &LoginResult{User: user, SessionToken: token}, nil
}

// GetUserByID 根据 ID 获取用户
func (s *Service) GetUserByID(userID string) (*domain.User, error) {
	user, err := s.users.GetUserByID(userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}
