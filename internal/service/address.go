package service

import (
	"crypto/rand"
	"strings"
)

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// 拒绝采样上限：252 = 36 * 7，保证每个字符等概率
const maxUnbiasedByte = 252

// AddressGenerator 生成候选邮箱地址。只保证低碰撞概率，唯一性由存储层的唯一约束兜底。
type AddressGenerator interface {
	Generate() string
}

// RandomGenerator 使用 crypto/rand 生成固定长度的小写字母数字本地部分。
//
// 长度 10 时约 51.7 bit 熵。
type RandomGenerator struct {
	domain string
	length int
}

// NewRandomGenerator 创建随机地址生成器
func NewRandomGenerator(domain string, length int) *RandomGenerator {
	return &RandomGenerator{
		domain: strings.ToLower(domain),
		length: length,
	}
}

// Generate 返回 "<token>@<domain>"
func (g *RandomGenerator) Generate() string {
	return g.token() + "@" + g.domain
}

func (g *RandomGenerator) token() string {
	out := make([]byte, 0, g.length)
	buf := make([]byte, g.length*2)
	for len(out) < g.length {
		// crypto/rand.Read 从不返回错误
		_, _ = rand.Read(buf)
		for _, b := range buf {
			if b >= maxUnbiasedByte {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == g.length {
				break
			}
		}
	}
	return string(out)
}
