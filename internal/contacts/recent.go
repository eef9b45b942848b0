package contacts

import (
	"sync"

	"GoLocShare/internal/model"
)

// DefaultCapacity 最近联系人默认容量
const DefaultCapacity = 10

// Recent 有界的最近联系人缓存（MRU），用于发送表单的自动补全。
// 仅存活于进程内，不做持久化。
type Recent struct {
	mu       sync.Mutex
	capacity int
	entries  []model.Identity
}

// NewRecent 创建缓存，capacity小于等于0时使用默认容量
func NewRecent(capacity int) *Recent {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recent{capacity: capacity}
}

// Record 记录一次发送目标。重复记录移动到最前；超出容量淘汰最旧的。
func (r *Recent) Record(contact model.Identity) {
	if contact.Email == "" && contact.Username == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.entries {
		if sameContact(existing, contact) {
			copy(r.entries[1:i+1], r.entries[:i])
			r.entries[0] = contact
			return
		}
	}

	r.entries = append([]model.Identity{contact}, r.entries...)
	if len(r.entries) > r.capacity {
		r.entries = r.entries[:r.capacity]
	}
}

// List 按最近使用顺序返回副本
func (r *Recent) List() []model.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.Identity, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len 当前条目数
func (r *Recent) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func sameContact(a, b model.Identity) bool {
	if a.Username != "" || b.Username != "" {
		return a.Username == b.Username
	}
	return a.Email == b.Email
}
