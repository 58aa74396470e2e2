package domain

import "time"

const (
	// UnknownAddress 是发件人/收件人缺失时的占位值。
	UnknownAddress = "unknown"
	// NoSubject 是主题缺失时的占位值。
	NoSubject = "(no subject)"
)

// Message 表示某个临时邮箱收到的一封邮件，写入后不可修改。
type Message struct {
	ID          string              `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MailboxID   string              `json:"mailboxId" gorm:"type:varchar(36);index;not null"`
	From        string              `json:"from" gorm:"column:from_addr;type:varchar(512)"`
	To          string              `json:"to" gorm:"column:to_addr;type:varchar(512)"`
	Subject     string              `json:"subject" gorm:"type:varchar(998)"`
	TextBody    string              `json:"textBody,omitempty" gorm:"type:text"`
	HTMLBody    string              `json:"htmlBody,omitempty" gorm:"type:text"`
	Attachments []AttachmentMeta    `json:"attachmentsMetadata" gorm:"serializer:json;type:text"`
	Headers     map[string][]string `json:"headers,omitempty" gorm:"serializer:json;type:text"`
	ReceivedAt  time.Time           `json:"receivedAt" gorm:"index;not null"`
}

// Summary 返回不含正文与邮件头的摘要。
func (m *Message) Summary() MessageSummary {
	return MessageSummary{
		ID:         m.ID,
		From:       m.From,
		Subject:    m.Subject,
		ReceivedAt: m.ReceivedAt,
	}
}

// MessageSummary 是邮件列表中使用的精简视图。
type MessageSummary struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// ParsedEmail 是 MIME 解码后、尚未归属到具体邮箱的邮件内容。
type ParsedEmail struct {
	From        string
	To          string
	Subject     string
	TextBody    string
	HTMLBody    string
	Attachments []AttachmentMeta
	Headers     map[string][]string
}

// NewMailEvent 是新邮件到达时推送给订阅者的事件。
type NewMailEvent struct {
	Address string         `json:"address"`
	Message MessageSummary `json:"message"`
}
