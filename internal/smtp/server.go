package smtp

import (
	gosmtp "github.com/emersion/go-smtp"

	"tempmail/mailgate/internal/config"
)

// NewServer 按配置创建 go-smtp 服务器
func NewServer(cfg config.SMTPConfig, backend *Backend) *gosmtp.Server {
	srv := gosmtp.NewServer(backend)
	srv.Addr = cfg.BindAddr
	srv.Domain = cfg.Domain
	srv.ReadTimeout = cfg.ReadTimeout
	srv.WriteTimeout = cfg.WriteTimeout
	srv.MaxMessageBytes = cfg.MaxMessageBytes
	srv.MaxRecipients = cfg.MaxRecipients
	srv.AllowInsecureAuth = false
	return srv
}
