package engine

import (
	"sync"
)

// VariableStore 保存一次执行过程中已发布的结果变量。
// 每次执行都使用全新的实例，结束后即丢弃。
// 计划校验保证了每个变量只有一个写入方；加锁是对分层屏障的补充防线。
type VariableStore struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewVariableStore 创建一个空的变量存储。
func NewVariableStore() *VariableStore {
	return &VariableStore{values: make(map[string]any)}
}

// Publish 发布一个结果变量。
func (s *VariableStore) Publish(name string, value any) {
	if name == "" {
		return
	}
	s.mu.Lock()
	s.values[name] = value
	s.mu.Unlock()
}

// Lookup 查询变量，返回值与其是否存在。
func (s *VariableStore) Lookup(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[name]
	return value, ok
}

// Len 返回已发布的变量数量。
func (s *VariableStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
