package core_test

import (
	"encoding/base64"
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/services/logger"
)

func TestEmailMessage_Render(t *testing.T) {
	conf := core.NewTestConfig()
	core.ParseEmailTemplates(conf, logsvc.NewTestLogger())

	due := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	data := func(gradable bool) map[string]interface{} {
		return map[string]interface{}{
			"StudentName": "Ana",
			"CreatorName": "Teo Ruiz",
			"Title":       "Essay",
			"Statement":   "Write <b>500</b> words",
			"DueAt":       due,
			"Gradable":    gradable,
		}
	}

	t.Run("assignment assigned", func(t *testing.T) {
		msg := &core.EmailMessage{
			To:           []mail.Address{{Address: "ana@test.cd"}},
			TemplateName: "assignment_assigned",
			TemplateData: data(true),
		}
		require.NoError(t, msg.Render())

		assert.Contains(t, msg.TextContent, "Hello Ana,")
		assert.Contains(t, msg.TextContent, `Teo Ruiz assigned you "Essay".`)
		assert.Contains(t, msg.TextContent, "Due: 2026-03-02 09:30 UTC")
		assert.Contains(t, msg.TextContent, "This assignment will be validated by a teacher.")
		assert.Contains(t, msg.TextContent, "Write <b>500</b> words")
		assert.Contains(t, msg.TextContent, conf.FrontendBaseURL)

		assert.Contains(t, msg.HTMLContent, "<p>Hello Ana,</p>")
		assert.Contains(t, msg.HTMLContent, "<strong>Essay</strong>")
		assert.Contains(t, msg.HTMLContent, "Write &lt;b&gt;500&lt;/b&gt; words")
		assert.Contains(t, msg.HTMLContent, `<a href="`+conf.FrontendBaseURL+`">`)
		assert.True(t, msg.HasContent())
	})

	t.Run("not gradable", func(t *testing.T) {
		msg := &core.EmailMessage{TemplateName: "assignment_assigned", TemplateData: data(false)}
		require.NoError(t, msg.Render())
		assert.NotContains(t, msg.TextContent, "validated by a teacher")
		assert.NotContains(t, msg.HTMLContent, "validated by a teacher")
	})

	t.Run("missing data", func(t *testing.T) {
		msg := &core.EmailMessage{TemplateName: "assignment_assigned", TemplateData: map[string]interface{}{}}
		assert.Error(t, msg.Render())
	})

	t.Run("unknown template", func(t *testing.T) {
		msg := &core.EmailMessage{TemplateName: "nope", TemplateData: data(false)}
		err := msg.Render()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"nope"`)
		assert.False(t, msg.HasContent())
	})

	t.Run("plain body", func(t *testing.T) {
		msg := &core.EmailMessage{BodyStr: "hi there"}
		require.NoError(t, msg.Render())
		assert.Equal(t, "hi there", msg.TextContent)
		assert.Empty(t, msg.HTMLContent)
	})
}

func TestEmailMessage_Attach(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		contentType []string
		want        string
	}{
		{name: "given content type", content: "Build a bridge", contentType: []string{"text/markdown"}, want: "text/markdown"},
		{name: "sniffed content type", content: "<html><body>hi</body></html>", want: "text/html; charset=utf-8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &core.EmailMessage{}
			require.NoError(t, msg.Attach(strings.NewReader(tt.content), "statement", tt.contentType...))

			require.True(t, msg.HasAttachments())
			require.Len(t, msg.Attachments, 1)
			at := msg.Attachments[0]
			assert.Equal(t, "statement", at.Filename)
			assert.Equal(t, tt.want, at.ContentType)

			decoded, err := base64.StdEncoding.DecodeString(at.Content.String())
			require.NoError(t, err)
			assert.Equal(t, tt.content, string(decoded))
		})
	}
}
