// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gmail

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/net/html"
	"google.golang.org/api/gmail/v1"

	"github.com/bcem/spendscan/internal/models"
)

// pdfMarker separates the email body from attachment text.
const pdfMarker = "PDF Content:"

// PDFTextExtractor turns a PDF into plain text.
type PDFTextExtractor interface {
	ExtractText(data []byte) (string, error)
}

// ContentConfig configures content extraction.
type ContentConfig struct {
	// PDF, when set, is used to append the text of PDF attachments.
	PDF PDFTextExtractor
	// MaxPDFAttachments caps attachments read per message.
	MaxPDFAttachments int
}

// ContentExtractor fetches a message and flattens it to text.
type ContentExtractor struct {
	opener Opener
	cfg    ContentConfig
}

// NewContentExtractor creates a content extractor.
func NewContentExtractor(opener Opener, cfg ContentConfig) *ContentExtractor {
	if cfg.MaxPDFAttachments <= 0 {
		cfg.MaxPDFAttachments = 2
	}
	return &ContentExtractor{opener: opener, cfg: cfg}
}

// FetchContent returns the flattened message. Content is never empty when
// the provider supplied a snippet.
func (e *ContentExtractor) FetchContent(ctx context.Context, userID, messageID string) (*models.EmailContent, error) {
	mb, err := e.opener.Open(ctx, userID)
	if err != nil {
		return nil, err
	}

	msg, err := mb.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	content := Flatten(msg)

	if e.cfg.PDF != nil && msg.Payload != nil {
		if text := e.pdfText(ctx, mb, msg); text != "" {
			content.Content = strings.TrimSpace(content.Content + "\n\n" + pdfMarker + "\n" + text)
		}
	}

	return content, nil
}

// Flatten converts a full-format message into EmailContent without any
// further provider calls.
func Flatten(msg *gmail.Message) *models.EmailContent {
	out := &models.EmailContent{
		ID:      msg.Id,
		Snippet: msg.Snippet,
	}
	if msg.Payload == nil {
		out.Content = msg.Snippet
		return out
	}

	out.Subject = header(msg.Payload, "Subject")
	out.From = header(msg.Payload, "From")
	out.Date = header(msg.Payload, "Date")

	var plain, htmlText strings.Builder
	walkParts(msg.Payload, &plain, &htmlText)

	switch {
	case strings.TrimSpace(plain.String()) != "":
		out.Content = strings.TrimSpace(plain.String())
	case strings.TrimSpace(htmlText.String()) != "":
		out.Content = StripHTML(htmlText.String())
	case len(msg.Payload.Parts) == 0 && msg.Payload.Body != nil && msg.Payload.Body.Data != "":
		if data, err := decodeBase64URL(msg.Payload.Body.Data); err == nil {
			out.Content = strings.TrimSpace(string(data))
		}
	}
	if out.Content == "" {
		out.Content = msg.Snippet
	}
	return out
}

func header(part *gmail.MessagePart, name string) string {
	for _, h := range part.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// walkParts collects text/plain and text/html bodies at any depth.
func walkParts(part *gmail.MessagePart, plain, htmlText *strings.Builder) {
	if part == nil {
		return
	}

	if part.Body != nil && part.Body.Data != "" && part.Filename == "" {
		mime := strings.ToLower(part.MimeType)
		switch {
		case strings.HasPrefix(mime, "text/plain"):
			if data, err := decodeBase64URL(part.Body.Data); err == nil {
				plain.Write(data)
				plain.WriteString("\n")
			}
		case strings.HasPrefix(mime, "text/html"):
			if data, err := decodeBase64URL(part.Body.Data); err == nil {
				htmlText.Write(data)
				htmlText.WriteString("\n")
			}
		}
	}

	for _, child := range part.Parts {
		walkParts(child, plain, htmlText)
	}
}

// StripHTML returns the visible text of an HTML document with whitespace
// collapsed. Script and style contents are dropped.
func StripHTML(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))
	var b strings.Builder
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "head":
				skip++
			case "br", "p", "div", "tr", "td", "li":
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "head":
				if skip > 0 {
					skip--
				}
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		}
	}
}

// pdfText extracts text from the message's PDF attachments. Failures are
// logged and skipped.
func (e *ContentExtractor) pdfText(ctx context.Context, mb Mailbox, msg *gmail.Message) string {
	var texts []string
	for _, part := range pdfParts(msg.Payload, nil) {
		if len(texts) >= e.cfg.MaxPDFAttachments {
			break
		}

		var data []byte
		var err error
		if part.Body.AttachmentId != "" {
			data, err = mb.GetAttachment(ctx, msg.Id, part.Body.AttachmentId)
		} else {
			data, err = decodeBase64URL(part.Body.Data)
		}
		if err != nil {
			slog.Warn("failed to fetch pdf attachment", "message_id", msg.Id, "filename", part.Filename, "error", err)
			continue
		}

		text, err := e.cfg.PDF.ExtractText(data)
		if err != nil {
			slog.Warn("failed to read pdf attachment", "message_id", msg.Id, "filename", part.Filename, "error", err)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, "\n\n")
}

func pdfParts(part *gmail.MessagePart, acc []*gmail.MessagePart) []*gmail.MessagePart {
	if part == nil {
		return acc
	}
	isPDF := strings.EqualFold(part.MimeType, "application/pdf") ||
		strings.HasSuffix(strings.ToLower(part.Filename), ".pdf")
	if isPDF && part.Body != nil && (part.Body.AttachmentId != "" || part.Body.Data != "") {
		acc = append(acc, part)
	}
	for _, child := range part.Parts {
		acc = pdfParts(child, acc)
	}
	return acc
}
