package mime

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/mailgate/internal/domain"
)

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func TestParse_PlainText(t *testing.T) {
	raw := crlf(`From: "Alice Example" <alice@example.com>
To: k3j9x0a1bq@temp.local
Subject: Hello there
Message-ID: <abc@example.com>
Content-Type: text/plain; charset=utf-8

Hi, this is the body.
`)

	parsed, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, "Alice Example <alice@example.com>", parsed.From)
	assert.Equal(t, "k3j9x0a1bq@temp.local", parsed.To)
	assert.Equal(t, "Hello there", parsed.Subject)
	assert.Contains(t, parsed.TextBody, "Hi, this is the body.")
	assert.Empty(t, parsed.HTMLBody)
	assert.Empty(t, parsed.Attachments)
	assert.Equal(t, []string{"<abc@example.com>"}, parsed.Headers["Message-ID"])
	assert.NotContains(t, parsed.Headers, "Message-Id")
}

func TestParse_Fallbacks(t *testing.T) {
	raw := crlf(`Content-Type: text/plain

body only
`)

	parsed, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, domain.UnknownAddress, parsed.From)
	assert.Equal(t, domain.UnknownAddress, parsed.To)
	assert.Equal(t, domain.NoSubject, parsed.Subject)
}

func TestParse_BareAddress(t *testing.T) {
	raw := crlf(`From: bob@example.com
To: box@temp.local
Subject: x

hi
`)

	parsed, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", parsed.From)
}

func TestParse_MultipartWithAttachment(t *testing.T) {
	raw := crlf(`From: sender@example.com
To: box@temp.local
Subject: Report
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="outer"

--outer
Content-Type: multipart/alternative; boundary="inner"

--inner
Content-Type: text/plain; charset=utf-8

plain version
--inner
Content-Type: text/html; charset=utf-8

<p>html version</p>
--inner--
--outer
Content-Type: application/pdf; name="report.pdf"
Content-Disposition: attachment; filename="report.pdf"
Content-Transfer-Encoding: base64

SGVsbG8gV29ybGQh
--outer--
`)

	parsed, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)

	assert.Contains(t, parsed.TextBody, "plain version")
	assert.Contains(t, parsed.HTMLBody, "<p>html version</p>")
	require.Len(t, parsed.Attachments, 1)
	assert.Equal(t, domain.AttachmentMeta{
		Filename: "report.pdf",
		MimeType: "application/pdf",
		Size:     int64(len("Hello World!")),
	}, parsed.Attachments[0])
}

func TestParse_ForwardedMessage(t *testing.T) {
	raw := crlf(`From: sender@example.com
To: box@temp.local
Subject: Fwd: original
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="fwd"

--fwd
Content-Type: text/plain; charset=utf-8

see below
--fwd
Content-Type: message/rfc822

Subject: inner

inner body
--fwd
Content-Type: application/octet-stream

0123456789
--fwd--
`)

	parsed, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)

	assert.Contains(t, parsed.TextBody, "see below")
	require.Len(t, parsed.Attachments, 2)

	var forwarded *domain.AttachmentMeta
	for i := range parsed.Attachments {
		if parsed.Attachments[i].MimeType == "message/rfc822" {
			forwarded = &parsed.Attachments[i]
		}
	}
	require.NotNil(t, forwarded, "转发的邮件应记录为附件")
	assert.Equal(t, "unknown", forwarded.Filename)
	assert.Positive(t, forwarded.Size)
}

func TestParse_InvalidUTF8Headers(t *testing.T) {
	raw := crlf("From: Ren\xe9 <rene@example.com>\n" +
		"To: box@temp.local\n" +
		"Subject: caf\xe9\n" +
		"X-Note: na\xefve\n" +
		"Content-Type: text/plain\n" +
		"\n" +
		"body\n")

	parsed, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)

	assert.True(t, utf8.ValidString(parsed.Subject))
	assert.True(t, strings.HasPrefix(parsed.Subject, "caf"))
	assert.True(t, utf8.ValidString(parsed.From))
	for name, values := range parsed.Headers {
		assert.True(t, utf8.ValidString(name))
		for _, v := range values {
			assert.True(t, utf8.ValidString(v), "头部 %s 含有无效 UTF-8", name)
		}
	}
}

func TestRawHeaderNames(t *testing.T) {
	names := rawHeaderNames([]byte(crlf(`Message-ID: <a@b>
X-Long: first
 continued: not a header
message-id: <dup@b>

Body-Line: ignored
`)))

	assert.Equal(t, map[string]string{
		"Message-Id": "Message-ID",
		"X-Long":     "X-Long",
	}, names)
}

func TestParse_Rejects(t *testing.T) {
	t.Run("空邮件", func(t *testing.T) {
		_, err := Parse(strings.NewReader("  \r\n"))
		assert.ErrorIs(t, err, domain.ErrDecode)
	})

	t.Run("multipart 被截断", func(t *testing.T) {
		raw := crlf(`From: sender@example.com
To: box@temp.local
Subject: cut
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="frontier"

--frontier
Content-Type: text/plain

this message was cut off before the closing boundary
`)

		parsed, err := Parse(strings.NewReader(raw))
		assert.ErrorIs(t, err, domain.ErrDecode)
		assert.Nil(t, parsed)
	})
}
