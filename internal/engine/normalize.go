package engine

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/telegrab/telegrab/internal/database"
	"github.com/telegrab/telegrab/internal/telegram"
)

// errMalformed marks a message that cannot be archived at all. Such
// messages are skipped and counted, never batch-fatal.
var errMalformed = errors.New("malformed message")

// rows is the normalized form of one raw message: everything SaveBatch
// needs, before any media bytes are fetched.
type rows struct {
	message   database.Message
	replies   []database.Reply
	buttons   []database.Button
	reactions []database.Reaction
}

// normalize converts a raw platform message into database rows. Platform
// polymorphism ends here; downstream code only sees the tagged shape.
func normalize(raw telegram.Message, entityID int64, extractionTime string) (*rows, error) {
	if raw.ID <= 0 {
		return nil, errMalformed
	}
	if raw.Date.IsZero() {
		return nil, errMalformed
	}

	msg := database.Message{
		ID:               raw.ID,
		EntityID:         entityID,
		Date:             raw.Date.UTC().Format(time.RFC3339),
		Text:             database.NullString(raw.Text),
		Forwarded:        database.NullString(raw.ForwardedFrom),
		Views:            raw.Views,
		SenderName:       database.NullString(raw.From.Name),
		ReplyToMsgID:     database.NullInt64(raw.ReplyToID),
		ExtractionTime:   extractionTime,
		IsServiceMessage: raw.Service,
		IsPinned:         raw.Pinned,
	}
	if raw.From.ID != 0 {
		id := strconv.FormatInt(raw.From.ID, 10)
		msg.FromID = database.NullString(id)
		msg.UserID = database.NullString(id)
	}

	if raw.Media != nil {
		msg.MediaType = database.NullString(raw.Media.Type)
		msg.FileID = database.NullString(raw.Media.FileID)
		msg.FileUniqueID = database.NullString(raw.Media.FileUniqueID)
		msg.FileSize = database.NullInt64(raw.Media.Size)
		msg.IsVoiceMessage = raw.Media.Voice
	}

	if raw.WebPreview != nil {
		if data, err := json.Marshal(raw.WebPreview); err == nil {
			msg.WebPreview = database.NullString(string(data))
		}
	}

	out := &rows{message: msg}

	if len(raw.Reactions) > 0 {
		summary := make([]map[string]any, 0, len(raw.Reactions))
		for _, r := range raw.Reactions {
			summary = append(summary, map[string]any{"emoji": r.Emoji, "count": r.Count})
			out.reactions = append(out.reactions, database.Reaction{
				MessageID: raw.ID,
				EntityID:  entityID,
				Emoji:     r.Emoji,
				Count:     r.Count,
			})
		}
		if data, err := json.Marshal(summary); err == nil {
			out.message.Reactions = database.NullString(string(data))
		}
	}

	if raw.ReplyToID != 0 {
		out.replies = append(out.replies, database.Reply{
			MessageID:    raw.ID,
			EntityID:     entityID,
			ReplyToMsgID: raw.ReplyToID,
			QuoteText:    database.NullString(raw.QuoteText),
		})
	}

	for i, row := range raw.Buttons {
		for j, btn := range row {
			out.buttons = append(out.buttons, database.Button{
				MessageID: raw.ID,
				EntityID:  entityID,
				Row:       i,
				Column:    j,
				Text:      database.NullString(btn.Text),
				Data:      database.NullString(btn.Data),
				URL:       database.NullString(btn.URL),
			})
		}
	}

	// Anchor links inside HTML-formatted bodies are archived alongside real
	// buttons, at row -1 so the composite key can never collide.
	if !raw.Service && raw.Text != "" {
		for j, link := range extractAnchors(raw.Text) {
			out.buttons = append(out.buttons, database.Button{
				MessageID: raw.ID,
				EntityID:  entityID,
				Row:       -1,
				Column:    j,
				Text:      database.NullString(link.text),
				URL:       database.NullString(link.href),
			})
		}
	}

	return out, nil
}

type anchor struct {
	text string
	href string
}

// extractAnchors pulls <a href> links out of an HTML-formatted message
// body. Plain text passes through the parser untouched and yields nothing.
func extractAnchors(text string) []anchor {
	if !strings.Contains(text, "<a") {
		return nil
	}
	doc, err := html.Parse(strings.NewReader(text))
	if err != nil {
		return nil
	}

	var anchors []anchor
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			var href string
			for _, attr := range n.Attr {
				if attr.Key == "href" {
					href = attr.Val
					break
				}
			}
			if href != "" {
				anchors = append(anchors, anchor{text: nodeText(n), href: href})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return anchors
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
