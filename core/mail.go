package core

import (
	"bytes"
	"encoding/base64"
	htmltmpl "html/template"
	"io"
	"io/fs"
	"net/http"
	"net/mail"
	"path"
	"strings"
	"sync"
	texttmpl "text/template"

	"github.com/pkg/errors"

	appfs "github.com/trezcool/kazi/fs"
)

var (
	templates   = make(tmplCache)
	templatesMu sync.RWMutex
	baseURL     string

	tmplDir      = "templates/email"
	tmplBaseName = "base"
)

type (
	tmplCacheEntry map[string]interface{}    // {ext: *Template}
	tmplCache      map[string]tmplCacheEntry // {name: {tmplCacheEntry}}

	Attachment struct {
		Content     *bytes.Buffer
		ContentType string
		Filename    string
	}

	EmailMessage struct {
		To          []mail.Address
		Cc          []mail.Address
		Bcc         []mail.Address
		Subject     string
		BodyStr     string // simple text/plain, non-templated content
		Attachments []Attachment

		// templated contents
		TemplateName string // without ext
		TemplateData interface{}
		TextContent  string
		HTMLContent  string
	}

	ContextData struct {
		FrontendBaseURL string
		Data            interface{}
	}

	// EmailService is any service that can send emails
	EmailService interface {
		// SendMessages sends messages concurrently
		SendMessages(messages ...*EmailMessage)
	}
)

func (m *EmailMessage) getContextData() ContextData {
	templatesMu.RLock()
	defer templatesMu.RUnlock()
	return ContextData{
		FrontendBaseURL: baseURL,
		Data:            m.TemplateData,
	}
}

func (m *EmailMessage) getTemplate(ext string) (interface{}, bool) {
	templatesMu.RLock()
	defer templatesMu.RUnlock()

	cache, ok := templates[m.TemplateName]
	if !ok {
		return nil, ok
	}
	tmplEntry, ok := cache[ext]
	return tmplEntry, ok
}

func templateExists(name string) bool {
	templatesMu.RLock()
	defer templatesMu.RUnlock()
	return len(templates[name]) > 0
}

func (m *EmailMessage) renderText() error {
	if m.BodyStr != "" {
		m.TextContent = m.BodyStr
		return nil
	} else if m.TemplateName == "" {
		return nil
	}

	tmplEntry, ok := m.getTemplate(".txt")
	if !ok {
		return nil
	}
	tmpl, ok := tmplEntry.(*texttmpl.Template)
	if !ok {
		return nil
	}

	var buff bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buff, tmplBaseName, m.getContextData()); err != nil {
		return err
	}
	m.TextContent = buff.String()
	return nil
}

func (m *EmailMessage) renderHTML() error {
	if m.TemplateName == "" {
		return nil
	}

	tmplEntry, ok := m.getTemplate(".gohtml")
	if !ok {
		return nil
	}
	tmpl, ok := tmplEntry.(*htmltmpl.Template)
	if !ok {
		return nil
	}

	var buff bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buff, tmplBaseName, m.getContextData()); err != nil {
		return err
	}
	m.HTMLContent = buff.String()
	return nil
}

// Render fills TextContent and HTMLContent. It fails if TemplateName names no parsed template.
func (m *EmailMessage) Render() error {
	if m.TemplateName != "" && !templateExists(m.TemplateName) {
		return errors.Errorf("email template %q not found", m.TemplateName)
	}
	if err := m.renderText(); err != nil {
		return err
	}
	return m.renderHTML()
}

// Attach adds the base64 encoded content of r as an attachment. The content type is sniffed unless given.
func (m *EmailMessage) Attach(r io.Reader, filename string, ct ...string) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	at := Attachment{Filename: filename, Content: new(bytes.Buffer)}
	encoder := base64.NewEncoder(base64.StdEncoding, at.Content)
	if _, err = encoder.Write(content); err != nil {
		return err
	}
	if err = encoder.Close(); err != nil {
		return err
	}

	if len(ct) > 0 {
		at.ContentType = ct[0]
	} else {
		at.ContentType = http.DetectContentType(content)
	}
	m.Attachments = append(m.Attachments, at)
	return nil
}

func (m *EmailMessage) HasRecipients() bool  { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool     { return (m.TextContent != "") || (m.HTMLContent != "") }
func (m *EmailMessage) HasAttachments() bool { return len(m.Attachments) > 0 }

// ParseEmailTemplates parses the embedded email templates once at startup.
// Templates whose name starts with "_" are layouts shared by every template of the same extension.
func ParseEmailTemplates(conf *Config, logger Logger) {
	fps, err := fs.Glob(appfs.FS, path.Join(tmplDir, "*"))
	if err != nil {
		logger.Error("parsing email templates", errors.Wrap(err, "globbing templates"))
		return
	}

	cache := make(tmplCache)
	strict := conf.Debug || conf.TestMode
	for _, fp := range fps {
		fname := path.Base(fp)
		ext := path.Ext(fname)
		if strings.HasPrefix(fname, "_") || !(ext == ".txt" || ext == ".gohtml") {
			continue
		}
		name := strings.TrimSuffix(fname, ext)
		entry, ok := cache[name]
		if !ok {
			entry = make(tmplCacheEntry)
			cache[name] = entry
		}

		layout := path.Join(tmplDir, "_base"+ext)
		if ext == ".txt" {
			tmpl, err := texttmpl.ParseFS(appfs.FS, layout, fp)
			if err != nil {
				logger.Error("parsing email templates", errors.Wrapf(err, "parsing %s", fp))
				continue
			}
			if strict {
				tmpl = tmpl.Option("missingkey=error")
			}
			entry[ext] = tmpl
		} else {
			tmpl, err := htmltmpl.ParseFS(appfs.FS, layout, fp)
			if err != nil {
				logger.Error("parsing email templates", errors.Wrapf(err, "parsing %s", fp))
				continue
			}
			if strict {
				tmpl = tmpl.Option("missingkey=error")
			}
			entry[ext] = tmpl
		}
	}

	templatesMu.Lock()
	templates = cache
	baseURL = conf.FrontendBaseURL
	templatesMu.Unlock()
}
