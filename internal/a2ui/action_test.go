package a2ui

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeUserAction(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		want    UserAction
		wantErr bool
	}{
		{
			name: "wrapped with actionName and object context",
			raw:  `{"userAction":{"actionName":"SELECT_TIME_SLOT","surfaceId":"calendar","sourceComponentId":"b1","context":{"dateTime":"2026-01-12T14:00:00Z"}}}`,
			want: UserAction{
				Name:              "SELECT_TIME_SLOT",
				SurfaceID:         "calendar",
				SourceComponentID: "b1",
				Context:           map[string]any{"dateTime": "2026-01-12T14:00:00Z"},
			},
		},
		{
			name: "bare with name and list context",
			raw:  `{"name":"SUBMIT_BOOKING","context":[{"key":"name","value":{"literalString":"Ada"}},{"key":"email","value":"ada@example.com"},{"key":"dateTime","value":{"path":"/booking/dateTime"}}]}`,
			want: UserAction{
				Name: "SUBMIT_BOOKING",
				Context: map[string]any{
					"name":     "Ada",
					"email":    "ada@example.com",
					"dateTime": PathRef{Path: "/booking/dateTime"},
				},
			},
		},
		{
			name: "action key and numbers",
			raw:  `{"action":"submit_vehicle_info","context":{"year":2019,"mileage":{"literalNumber":45000}}}`,
			want: UserAction{
				Name:    "submit_vehicle_info",
				Context: map[string]any{"year": 2019.0, "mileage": 45000.0},
			},
		},
		{
			name: "unknown action names pass through",
			raw:  `{"actionName":"DANCE"}`,
			want: UserAction{Name: "DANCE", Context: map[string]any{}},
		},
		{name: "missing name", raw: `{"context":{}}`, wantErr: true},
		{name: "bad context", raw: `{"name":"X","context":"nope"}`, wantErr: true},
		{name: "not json", raw: `userAction`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeUserAction([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeUserAction() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrProtocol) {
					t.Errorf("DecodeUserAction() error = %v, want ErrProtocol", err)
				}
				return
			}
			if diff := cmp.Diff(got, tt.want); diff != "" {
				t.Errorf("DecodeUserAction() mismatch (-got +want):\n%s", diff)
			}
		})
	}
}

func TestUserActionResolve(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	msgs, err := NewSurface("booking").
		Add("root", &TextField{Label: Literal("Full Name"), Text: &BoundValue{Path: "/booking/name"}}).
		Data(Map("booking", String("name", "Ada"), String("dateTime", "2026-01-12T14:00:00Z"))).
		Messages()
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if err := r.Apply(msgs...); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	s, _ := r.Surface("booking")

	a := UserAction{Name: "SUBMIT_BOOKING", Context: map[string]any{
		"name":     PathRef{Path: "/booking/name"},
		"email":    "ada@example.com",
		"dateTime": PathRef{Path: "/booking/dateTime"},
	}}
	if !a.Unresolved() {
		t.Fatalf("Unresolved() = false, want true")
	}
	got, err := a.Resolve(s)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := map[string]any{"name": "Ada", "email": "ada@example.com", "dateTime": "2026-01-12T14:00:00Z"}
	if diff := cmp.Diff(got.Context, want); diff != "" {
		t.Errorf("Resolve() mismatch (-got +want):\n%s", diff)
	}

	missing := UserAction{Name: "X", Context: map[string]any{"k": PathRef{Path: "/nope"}}}
	if _, err := missing.Resolve(s); !errors.Is(err, ErrProtocol) {
		t.Errorf("Resolve() error = %v, want ErrProtocol", err)
	}
}

func TestUserActionString(t *testing.T) {
	t.Parallel()
	a := UserAction{Context: map[string]any{"year": 2020.0, "miles": 45000.5, "ok": true, "s": "x"}}
	got := []string{a.String("year"), a.String("miles"), a.String("ok"), a.String("s"), a.String("absent")}
	want := []string{"2020", "45000.5", "true", "x", ""}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("String() mismatch (-got +want):\n%s", diff)
	}
}
