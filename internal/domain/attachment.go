package domain

// AttachmentMeta 表示邮件附件的元数据。附件内容在解析阶段即被丢弃，从不持久化。
type AttachmentMeta struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimetype"`
	Size     int64  `json:"size"`
}
