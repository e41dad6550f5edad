package savedchat

import (
	"testing"
	"time"

	"github.com/aschepis/backscratcher/polychat/llm"
)

func TestFilenameRoundTrip(t *testing.T) {
	start := time.Date(2024, 3, 9, 17, 4, 5, 0, time.Local)
	tests := []string{
		"hello world",
		"single",
		"what is the capital of France...",
		"two  spaces",
		UntitledTitle,
	}
	for _, title := range tests {
		name := Filename(title, start)
		gotTitle, gotTime, err := ParseFilename(name)
		if err != nil {
			t.Fatalf("ParseFilename(%q): unexpected error: %v", name, err)
		}
		if gotTitle != title {
			t.Errorf("Expected title %q, got %q", title, gotTitle)
		}
		if !gotTime.Equal(start) {
			t.Errorf("Expected time %v, got %v", start, gotTime)
		}
	}
}

// withLocalZone runs the test with time.Local set to the named zone.
func withLocalZone(t *testing.T, name string) {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("zone %s unavailable: %v", name, err)
	}
	saved := time.Local
	time.Local = loc
	t.Cleanup(func() { time.Local = saved })
}

func TestFilenameRoundTrip_NonLocalZone(t *testing.T) {
	withLocalZone(t, "America/New_York")

	start := time.Date(2024, 3, 5, 10, 20, 30, 0, time.UTC)
	name := Filename("hello world", start)
	if name != "chat_hello_world_2024-03-05-05-20-30.json" {
		t.Errorf("Expected local timestamp in filename, got %s", name)
	}
	_, gotTime, err := ParseFilename(name)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !gotTime.Equal(start) {
		t.Errorf("Expected time %v, got %v", start, gotTime)
	}

	chat := New(conversationWith(t, "", "hi"), start, "", nil)
	_, handleTime, err := ParseFilename(chat.Handle())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !handleTime.Equal(chat.StartTime) || chat.StartTime.Location() != time.Local {
		t.Errorf("Expected local start time matching the handle, got %v and %v", chat.StartTime, handleTime)
	}
}

func TestFilenameFormat(t *testing.T) {
	start := time.Date(2024, 3, 9, 17, 4, 5, 0, time.Local)
	want := "chat_hello_world_2024-03-09-17-04-05.json"
	if got := Filename("hello world", start); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestParseFilename_Invalid(t *testing.T) {
	tests := []string{
		"notes.txt",
		"chat_.json",
		"chat_title_yesterday.json",
		"chat_title_2024-03-09-17-04-05.txt",
	}
	for _, name := range tests {
		if _, _, err := ParseFilename(name); err == nil {
			t.Errorf("Expected error for %q", name)
		}
	}
}

func conversationWith(t *testing.T, system, first string) *llm.Conversation {
	t.Helper()
	conv := llm.NewConversation()
	if system != "" {
		conv.SetSystemPrompt(system)
	}
	if err := conv.Append(llm.RoleUser, llm.String(first), nil, nil); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	return conv
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name   string
		system string
		first  string
		want   string
	}{
		{"short", "", "Hello there!", "Hello there"},
		{"skips system prompt", "be nice", "What's up?", "Whats up"},
		{"truncates", "", "one two three four five six seven eight nine ten", "one two three four five six seven eight..."},
		{"exactly max words", "", "one two three four five six seven eight", "one two three four five six seven eight"},
		{"empty", "", "", UntitledTitle},
		{"only punctuation", "", "?!", UntitledTitle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveTitle(conversationWith(t, tt.system, tt.first)); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestDeriveTitle_EmptyConversation(t *testing.T) {
	if got := DeriveTitle(llm.NewConversation()); got != UntitledTitle {
		t.Errorf("Expected %q, got %q", UntitledTitle, got)
	}
}

func TestNew_TruncatesStartTime(t *testing.T) {
	start := time.Date(2024, 3, 9, 17, 4, 5, 999, time.Local)
	chat := New(conversationWith(t, "", "hi"), start, "", nil)
	if chat.Title != "hi" {
		t.Errorf("Expected derived title hi, got %q", chat.Title)
	}
	if chat.StartTime.Nanosecond() != 0 {
		t.Errorf("Expected second precision, got %v", chat.StartTime)
	}
	if chat.Metadata == nil {
		t.Error("Expected non-nil metadata")
	}
}
