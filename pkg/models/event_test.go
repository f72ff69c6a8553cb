package models

import (
	"errors"
	"testing"
)

func TestThreadKey(t *testing.T) {
	tests := []struct {
		name       string
		channel    string
		threadRoot string
		want       string
	}{
		{
			name:       "strips decimal separator",
			channel:    "C123",
			threadRoot: "1690000000.1234",
			want:       "C123/p16900000001234",
		},
		{
			name:       "timestamp without separator",
			channel:    "C123",
			threadRoot: "1690000000",
			want:       "C123/p1690000000",
		},
		{
			name:       "different channel different key",
			channel:    "C456",
			threadRoot: "1690000000.1234",
			want:       "C456/p16900000001234",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ThreadKey(tt.channel, tt.threadRoot)
			if got != tt.want {
				t.Errorf("ThreadKey() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestThreadKeyDeterministic(t *testing.T) {
	// The key is the idempotency anchor for chat creation: the same pair
	// must yield the same key on every retry.
	for i := 0; i < 10; i++ {
		if ThreadKey("C123", "1690000000.1234") != "C123/p16900000001234" {
			t.Fatal("ThreadKey() is not deterministic")
		}
	}
}

func TestThreadRoot(t *testing.T) {
	inThread := SlackEventBody{TS: "2.0", ThreadTS: "1.0"}
	if got := inThread.ThreadRoot(); got != "1.0" {
		t.Errorf("ThreadRoot() = %s, want thread_ts 1.0", got)
	}

	newThread := SlackEventBody{TS: "2.0"}
	if got := newThread.ThreadRoot(); got != "2.0" {
		t.Errorf("ThreadRoot() = %s, want own ts 2.0", got)
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "strips leading mention", text: "<@U0123ABCD> hello there", want: "hello there"},
		{name: "strips multiple mentions", text: "<@U1> ask <@U2> something", want: "ask  something"},
		{name: "strips lowercase mention", text: "<@u0123abcd> hello there", want: "hello there"},
		{name: "no mention", text: "plain question", want: "plain question"},
		{name: "mention only", text: "<@U0123ABCD>", want: ""},
		{name: "trims whitespace", text: "  <@U1>  spaced  ", want: "spaced"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := SlackEventBody{Text: tt.text}
			if got := e.CleanText(); got != tt.want {
				t.Errorf("CleanText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEventValidate(t *testing.T) {
	valid := SlackEventBody{Type: "app_mention", User: "U1", Text: "hi", Channel: "C1", TS: "1.0"}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	tests := []struct {
		name  string
		event SlackEventBody
	}{
		{name: "missing text", event: SlackEventBody{User: "U1", Channel: "C1", TS: "1.0"}},
		{name: "missing channel", event: SlackEventBody{User: "U1", Text: "hi", TS: "1.0"}},
		{name: "missing ts", event: SlackEventBody{User: "U1", Text: "hi", Channel: "C1"}},
		{name: "missing user", event: SlackEventBody{Text: "hi", Channel: "C1", TS: "1.0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if !errors.Is(err, ErrInvalidEvent) {
				t.Errorf("Validate() = %v, want ErrInvalidEvent", err)
			}
		})
	}
}
