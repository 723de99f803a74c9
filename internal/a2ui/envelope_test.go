package a2ui

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFormatAndParseResponse(t *testing.T) {
	t.Parallel()
	msgs := slotPicker(t)
	out, err := FormatResponse("Here are the available appointment times.", msgs)
	if err != nil {
		t.Fatalf("FormatResponse() error = %v", err)
	}
	if !strings.Contains(out, "\n"+Delimiter+"\n") {
		t.Fatalf("FormatResponse() missing delimiter line:\n%s", out)
	}

	text, got, err := ParseResponse(out)
	if err != nil {
		t.Fatalf("ParseResponse() error = %v", err)
	}
	if text != "Here are the available appointment times." {
		t.Errorf("text = %q", text)
	}
	if diff := cmp.Diff(got, msgs); diff != "" {
		t.Errorf("messages mismatch (-got +want):\n%s", diff)
	}
}

func TestParseResponse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		in        string
		wantText  string
		wantTypes []string
		wantErr   bool
	}{
		{name: "plain text", in: "  Hello there.  ", wantText: "Hello there."},
		{
			name:      "fenced json",
			in:        "Done.\n---a2ui_JSON---\n```json\n[{\"deleteSurface\":{\"surfaceId\":\"calendar\"}}]\n```",
			wantText:  "Done.",
			wantTypes: []string{"deleteSurface"},
		},
		{name: "delimiter without payload", in: "Just text\n---a2ui_JSON---\n", wantText: "Just text"},
		{name: "broken json", in: "Oops\n---a2ui_JSON---\n[{\"surfaceUpdate\":", wantText: "Oops", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			text, msgs, err := ParseResponse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrProtocol) {
				t.Errorf("ParseResponse() error = %v, want ErrProtocol", err)
			}
			if text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
			var types []string
			for _, m := range msgs {
				types = append(types, m.Type())
			}
			if diff := cmp.Diff(types, tt.wantTypes); diff != "" {
				t.Errorf("types mismatch (-got +want):\n%s", diff)
			}
		})
	}
}

func TestFormatResponseTextOnly(t *testing.T) {
	t.Parallel()
	out, err := FormatResponse("No UI this time.", nil)
	if err != nil {
		t.Fatalf("FormatResponse() error = %v", err)
	}
	if out != "No UI this time." {
		t.Errorf("FormatResponse() = %q", out)
	}
}

func TestFormatResponseRejectsInvalid(t *testing.T) {
	t.Parallel()
	_, err := FormatResponse("x", []Message{{BeginRendering: &BeginRendering{SurfaceID: "s"}}})
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("FormatResponse() error = %v, want ErrProtocol", err)
	}
}
