package domain

import (
	"time"
)

// Mailbox 表示一个带有生存时间的临时邮箱地址。
//
// 邮箱是否可收信由 ExpiresAt 与当前时间实时推导，不存储任何“是否有效”的标记字段。
type Mailbox struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Address   string    `json:"address" gorm:"type:varchar(255);uniqueIndex;not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
	ExpiresAt time.Time `json:"expiresAt" gorm:"index;not null"`

	// 仅用于建立外键约束（删除邮箱时级联删除邮件），业务代码不读取该字段
	Messages []Message `json:"-" gorm:"foreignKey:MailboxID;constraint:OnDelete:CASCADE"`
}

// IsLive 判断邮箱在 now 时刻是否仍可接收邮件（now < expiresAt）。
func (m *Mailbox) IsLive(now time.Time) bool {
	return now.Before(m.ExpiresAt)
}

// Expired 是 IsLive 的反面，供查询层返回 expired 标记。
func (m *Mailbox) Expired(now time.Time) bool {
	return !m.IsLive(now)
}

// TTL 返回创建时确定的生存时长。
func (m *Mailbox) TTL() time.Duration {
	return m.ExpiresAt.Sub(m.CreatedAt)
}

// MailboxMessages 是按地址查询邮件列表的结果。
type MailboxMessages struct {
	Address   string           `json:"address"`
	Messages  []MessageSummary `json:"messages"`
	Expired   bool             `json:"expired"`
	ExpiresAt time.Time        `json:"expiresAt"`
}

// ClampTTL 将请求的 TTL（分钟）限制在 [min, max] 区间内。
//
// requested 为 nil 时使用 def 再做限制。
func ClampTTL(requested *int, def, min, max int) int {
	ttl := def
	if requested != nil {
		ttl = *requested
	}
	if ttl < min {
		ttl = min
	}
	if ttl > max {
		ttl = max
	}
	return ttl
}
