package storage

import "authgate/backend/internal/domain"

// Store 定义完整的存储接口（见 domain 包中的各仓储定义）。
type Store = domain.Store
