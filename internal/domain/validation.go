package domain

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// 验证常量
const (
	// RFC 5321 限制
	MaxEmailLength     = 254
	MaxLocalPartLength = 64
)

var (
	// 生成的地址只含小写字母与数字，查询接口也只接受这种形式
	addressRegex = regexp.MustCompile(`^[a-z0-9]+@[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)*$`)
)

// NormalizeAddress 去除空白与尖括号并转为小写，得到用于存储和比较的规范地址。
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(addr, "<")
	addr = strings.TrimSuffix(addr, ">")
	return strings.ToLower(strings.TrimSpace(addr))
}

// ValidateAddress 校验规范化后的地址格式。
func ValidateAddress(addr string) error {
	if addr == "" || len(addr) > MaxEmailLength {
		return ErrInvalidAddress
	}
	at := strings.IndexByte(addr, '@')
	if at < 1 || at > MaxLocalPartLength {
		return ErrInvalidAddress
	}
	if !addressRegex.MatchString(addr) {
		return ErrInvalidAddress
	}
	return nil
}

// ValidateMessageID 校验邮件 ID（UUID 格式）。
func ValidateMessageID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidMessageID
	}
	return nil
}

// SplitAddress 拆分本地部分与域名，不做格式校验。
func SplitAddress(addr string) (local, domain string) {
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return addr, ""
	}
	return addr[:at], addr[at+1:]
}
