// Package mime 把 SMTP DATA 阶段收到的原始邮件解码为结构化内容。
package mime

import (
	"bytes"
	"fmt"
	"io"
	"net/mail"
	"net/textproto"
	"strings"

	"github.com/jhillyerd/enmime/v2"

	"tempmail/mailgate/internal/domain"
)

const (
	unknownFilename = "unknown"
	defaultMimeType = "application/octet-stream"

	replacementChar = "\uFFFD"
)

// Parse 读取完整的原始邮件并解码。
//
// 解码失败（结构损坏、multipart 未闭合等）时返回包装了 domain.ErrDecode 的错误，调用方不得保存任何内容。
func Parse(r io.Reader) (*domain.ParsedEmail, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read message: %w", domain.ErrDecode, err)
	}
	return ParseBytes(raw)
}

// ParseBytes 解码已经完整读入内存的邮件
func ParseBytes(raw []byte) (*domain.ParsedEmail, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty message", domain.ErrDecode)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDecode, err)
	}
	if err := checkEnvelope(env, raw); err != nil {
		return nil, err
	}

	parsed := &domain.ParsedEmail{
		From:     addressText(env, "From"),
		To:       addressText(env, "To"),
		Subject:  clean(strings.TrimSpace(env.GetHeader("Subject"))),
		TextBody: clean(env.Text),
		HTMLBody: clean(env.HTML),
		Headers:  copyHeaders(env, raw),
	}
	if parsed.Subject == "" {
		parsed.Subject = domain.NoSubject
	}

	// 转发的邮件（message/rfc822）等不属于附件或内嵌资源的部分也按附件记录
	for _, parts := range [][]*enmime.Part{env.Attachments, env.Inlines, env.OtherParts} {
		for _, part := range parts {
			parsed.Attachments = append(parsed.Attachments, attachmentMeta(part))
		}
	}

	return parsed, nil
}

// checkEnvelope 拒绝 enmime 能够容错但内容已不完整的邮件
func checkEnvelope(env *enmime.Envelope, raw []byte) error {
	for _, perr := range env.Errors {
		if perr.Severe || perr.Name == enmime.ErrorMissingBoundary {
			return fmt.Errorf("%w: %s: %s", domain.ErrDecode, perr.Name, perr.Detail)
		}
	}

	// 每个 multipart 的结束分隔符都必须出现，否则邮件在传输中被截断
	var walk func(p *enmime.Part) error
	walk = func(p *enmime.Part) error {
		for ; p != nil; p = p.NextSibling {
			if p.Boundary != "" && !bytes.Contains(raw, []byte("--"+p.Boundary+"--")) {
				return fmt.Errorf("%w: multipart boundary %q is not closed", domain.ErrDecode, p.Boundary)
			}
			if err := walk(p.FirstChild); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(env.Root)
}

// addressText 优先返回 "显示名 <地址>" 形式，其次是裸地址，最后是 "unknown"
func addressText(env *enmime.Envelope, header string) string {
	list, err := env.AddressList(header)
	if err == nil && len(list) > 0 {
		return formatAddresses(list)
	}

	if raw := strings.TrimSpace(env.GetHeader(header)); raw != "" {
		return clean(raw)
	}
	return domain.UnknownAddress
}

func formatAddresses(list []*mail.Address) string {
	out := make([]string, 0, len(list))
	for _, addr := range list {
		switch {
		case addr.Name != "" && addr.Address != "":
			out = append(out, fmt.Sprintf("%s <%s>", addr.Name, addr.Address))
		case addr.Address != "":
			out = append(out, addr.Address)
		case addr.Name != "":
			out = append(out, addr.Name)
		}
	}
	if len(out) == 0 {
		return domain.UnknownAddress
	}
	return clean(strings.Join(out, ", "))
}

func attachmentMeta(p *enmime.Part) domain.AttachmentMeta {
	meta := domain.AttachmentMeta{
		Filename: clean(p.FileName),
		MimeType: clean(p.ContentType),
		Size:     int64(len(p.Content)),
	}
	if meta.Filename == "" {
		meta.Filename = unknownFilename
	}
	if meta.MimeType == "" {
		meta.MimeType = defaultMimeType
	}
	return meta
}

// copyHeaders 复制顶层头部，头部名保持邮件中第一次出现时的写法
func copyHeaders(env *enmime.Envelope, raw []byte) map[string][]string {
	if env.Root == nil || len(env.Root.Header) == 0 {
		return nil
	}
	names := rawHeaderNames(raw)
	headers := make(map[string][]string, len(env.Root.Header))
	for key, values := range env.Root.Header {
		name := key
		if original, ok := names[key]; ok {
			name = original
		}
		name = clean(name)
		for _, v := range values {
			headers[name] = append(headers[name], clean(v))
		}
	}
	return headers
}

// rawHeaderNames 扫描头部区，返回规范化名称到原始写法的映射
func rawHeaderNames(raw []byte) map[string]string {
	names := make(map[string]string)
	for _, line := range bytes.Split(raw, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			break
		}
		if line[0] == ' ' || line[0] == '\t' {
			continue
		}
		colon := bytes.IndexByte(line, ':')
		if colon < 1 {
			continue
		}
		name := string(bytes.TrimSpace(line[:colon]))
		canonical := textproto.CanonicalMIMEHeaderKey(name)
		if _, seen := names[canonical]; !seen {
			names[canonical] = name
		}
	}
	return names
}

// clean 把无效的 UTF-8 字节替换为 U+FFFD，保证入库的文本都是合法 UTF-8
func clean(s string) string {
	return strings.ToValidUTF8(s, replacementChar)
}
