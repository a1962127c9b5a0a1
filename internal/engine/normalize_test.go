package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/telegrab/telegrab/internal/telegram"
)

var testDate = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestNormalizeRejectsMalformedMessages(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		raw  telegram.Message
	}{
		{
			name: "zero id",
			raw:  telegram.Message{ID: 0, Date: testDate},
		},
		{
			name: "negative id",
			raw:  telegram.Message{ID: -5, Date: testDate},
		},
		{
			name: "zero date",
			raw:  telegram.Message{ID: 1},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if _, err := normalize(tc.raw, 1, "2024-06-01T00:00:00Z"); !errors.Is(err, errMalformed) {
				t.Errorf("err = %v, want errMalformed", err)
			}
		})
	}
}

func TestNormalizeBasicFields(t *testing.T) {
	t.Parallel()

	raw := telegram.Message{
		ID:            42,
		Date:          testDate,
		Text:          "hello",
		From:          telegram.Peer{ID: 777, Name: "alice"},
		ForwardedFrom: "bob",
		ReplyToID:     40,
		QuoteText:     "earlier words",
		Pinned:        true,
		Views:         12,
	}

	r, err := normalize(raw, -100, "2024-06-02T00:00:00Z")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	msg := r.message
	if msg.ID != 42 || msg.EntityID != -100 {
		t.Errorf("key = (%d, %d), want (42, -100)", msg.ID, msg.EntityID)
	}
	if msg.Date != "2024-06-01T12:00:00Z" {
		t.Errorf("date = %q", msg.Date)
	}
	if msg.Text.String != "hello" {
		t.Errorf("text = %q", msg.Text.String)
	}
	if msg.SenderName.String != "alice" || msg.FromID.String != "777" || msg.UserID.String != "777" {
		t.Errorf("sender = %q from_id = %q user_id = %q", msg.SenderName.String, msg.FromID.String, msg.UserID.String)
	}
	if msg.Forwarded.String != "bob" {
		t.Errorf("forwarded = %q", msg.Forwarded.String)
	}
	if !msg.IsPinned || msg.Views != 12 {
		t.Errorf("pinned = %v views = %d", msg.IsPinned, msg.Views)
	}
	if msg.ExtractionTime != "2024-06-02T00:00:00Z" {
		t.Errorf("extraction_time = %q", msg.ExtractionTime)
	}

	if len(r.replies) != 1 {
		t.Fatalf("got %d reply rows, want 1", len(r.replies))
	}
	reply := r.replies[0]
	if reply.ReplyToMsgID != 40 || reply.QuoteText.String != "earlier words" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestNormalizeMediaDescriptor(t *testing.T) {
	t.Parallel()

	raw := telegram.Message{
		ID:   7,
		Date: testDate,
		Media: &telegram.MediaDescriptor{
			Type:         "voice",
			FileID:       "f-1",
			FileUniqueID: "u-1",
			Size:         2048,
			Voice:        true,
		},
	}

	r, err := normalize(raw, 1, "2024-06-02T00:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	msg := r.message
	if msg.MediaType.String != "voice" || !msg.IsVoiceMessage {
		t.Errorf("media_type = %q voice = %v", msg.MediaType.String, msg.IsVoiceMessage)
	}
	if msg.FileID.String != "f-1" || msg.FileUniqueID.String != "u-1" || msg.FileSize.Int64 != 2048 {
		t.Errorf("file refs = %q %q %d", msg.FileID.String, msg.FileUniqueID.String, msg.FileSize.Int64)
	}
	// Payload columns stay NULL until bytes are actually stored.
	if msg.MediaFile.Valid || msg.MediaHash.Valid {
		t.Errorf("media_file/media_hash set before download: %+v", msg)
	}
}

func TestNormalizeReactions(t *testing.T) {
	t.Parallel()

	raw := telegram.Message{
		ID:   9,
		Date: testDate,
		Reactions: []telegram.Reaction{
			{Emoji: "👍", Count: 3},
			{Emoji: "🔥", Count: 1},
		},
	}

	r, err := normalize(raw, 1, "2024-06-02T00:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	if len(r.reactions) != 2 {
		t.Fatalf("got %d reaction rows, want 2", len(r.reactions))
	}
	if r.reactions[0].Emoji != "👍" || r.reactions[0].Count != 3 {
		t.Errorf("first reaction = %+v", r.reactions[0])
	}
	want := `[{"count":3,"emoji":"👍"},{"count":1,"emoji":"🔥"}]`
	if r.message.Reactions.String != want {
		t.Errorf("reactions json = %s, want %s", r.message.Reactions.String, want)
	}
}

func TestNormalizeButtonsAndAnchors(t *testing.T) {
	t.Parallel()

	raw := telegram.Message{
		ID:   11,
		Date: testDate,
		Text: `check <a href="https://example.com/a">this</a> and <a href="https://example.com/b">that</a>`,
		Buttons: [][]telegram.Button{
			{{Text: "yes", Data: "cb-yes"}, {Text: "no", Data: "cb-no"}},
			{{Text: "site", URL: "https://example.com"}},
		},
	}

	r, err := normalize(raw, 1, "2024-06-02T00:00:00Z")
	if err != nil {
		t.Fatal(err)
	}

	if len(r.buttons) != 5 {
		t.Fatalf("got %d button rows, want 5 (3 keyboard + 2 anchors)", len(r.buttons))
	}
	if b := r.buttons[0]; b.Row != 0 || b.Column != 0 || b.Text.String != "yes" || b.Data.String != "cb-yes" {
		t.Errorf("keyboard button = %+v", b)
	}
	if b := r.buttons[2]; b.Row != 1 || b.Column != 0 || b.URL.String != "https://example.com" {
		t.Errorf("url button = %+v", b)
	}

	// Extracted links live at row -1 so they never collide with keyboards.
	anchors := r.buttons[3:]
	if anchors[0].Row != -1 || anchors[0].Column != 0 ||
		anchors[0].Text.String != "this" || anchors[0].URL.String != "https://example.com/a" {
		t.Errorf("first anchor = %+v", anchors[0])
	}
	if anchors[1].Row != -1 || anchors[1].Column != 1 ||
		anchors[1].URL.String != "https://example.com/b" {
		t.Errorf("second anchor = %+v", anchors[1])
	}
}

func TestNormalizeSkipsAnchorsInServiceMessages(t *testing.T) {
	t.Parallel()

	raw := telegram.Message{
		ID:      13,
		Date:    testDate,
		Service: true,
		Text:    `joined via <a href="https://t.me/joinchat/x">invite link</a>`,
	}

	r, err := normalize(raw, 1, "2024-06-02T00:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	if !r.message.IsServiceMessage {
		t.Error("service flag lost")
	}
	if len(r.buttons) != 0 {
		t.Errorf("service message produced %d anchor rows, want 0", len(r.buttons))
	}
}

func TestExtractAnchors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		text string
		want int
	}{
		{
			name: "plain text yields nothing",
			text: "no links here",
			want: 0,
		},
		{
			name: "anchor without href is ignored",
			text: `<a name="x">label</a>`,
			want: 0,
		},
		{
			name: "nested markup inside anchor",
			text: `<a href="https://example.com"><b>bold</b> link</a>`,
			want: 1,
		},
		{
			name: "broken markup degrades to nothing",
			text: `text with <a but not really a tag`,
			want: 0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := extractAnchors(tc.text)
			if len(got) != tc.want {
				t.Errorf("got %d anchors, want %d", len(got), tc.want)
			}
		})
	}
}

func TestExtractAnchorsText(t *testing.T) {
	t.Parallel()

	got := extractAnchors(`<a href="https://example.com"><b>bold</b> link</a>`)
	if len(got) != 1 {
		t.Fatalf("got %d anchors, want 1", len(got))
	}
	if got[0].text != "bold link" || got[0].href != "https://example.com" {
		t.Errorf("anchor = %+v", got[0])
	}
}
