package session

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"tradein/internal/a2ui"
)

func TestGetOrCreate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		id      string
		keepsID bool
	}{
		{name: "empty id", id: ""},
		{name: "malformed id", id: "session-1"},
		{name: "client uuid", id: "0b5a1c44-8f6e-4d4e-9a59-2f1b0b2a7c11", keepsID: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st := NewStore(0)
			sess, created := st.GetOrCreate(tt.id)
			if !created {
				t.Fatal("GetOrCreate() created = false for a new store")
			}
			if _, err := uuid.Parse(sess.ID); err != nil {
				t.Errorf("session id %q is not a uuid: %v", sess.ID, err)
			}
			if tt.keepsID && sess.ID != tt.id {
				t.Errorf("session id = %q, want %q", sess.ID, tt.id)
			}
			again, created := st.GetOrCreate(sess.ID)
			if created || again != sess {
				t.Errorf("second GetOrCreate() = %p, %v; want %p, false", again, created, sess)
			}
			if sess.Surfaces == nil || sess.HasVehicle() {
				t.Errorf("fresh session state = %+v", sess)
			}
		})
	}
}

func TestGetAndDelete(t *testing.T) {
	t.Parallel()
	st := NewStore(0)
	if _, ok := st.Get(""); ok {
		t.Error("Get(\"\") found a session")
	}
	if _, ok := st.Get(uuid.NewString()); ok {
		t.Error("Get() found an unknown session")
	}
	sess, _ := st.GetOrCreate("")
	got, ok := st.Get(sess.ID)
	if !ok || got != sess {
		t.Fatalf("Get() = %p, %v; want %p, true", got, ok, sess)
	}
	if st.Len() < 1 {
		t.Errorf("Len() = %d after a create", st.Len())
	}
	st.Delete(sess.ID)
	if _, ok := st.Get(sess.ID); ok {
		t.Error("Get() found a deleted session")
	}
}

func TestConcurrentFirstTurnSharesSession(t *testing.T) {
	t.Parallel()
	st := NewStore(0)
	id := uuid.NewString()
	var wg sync.WaitGroup
	got := make([]*Session, 8)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i], _ = st.GetOrCreate(id)
		}()
	}
	wg.Wait()
	for i, s := range got {
		if s != got[0] {
			t.Errorf("goroutine %d got a different session", i)
		}
	}
}

func TestSessionSurfacesPersist(t *testing.T) {
	t.Parallel()
	st := NewStore(0)
	sess, _ := st.GetOrCreate("")
	msgs, err := a2ui.NewSurface("calendar").
		Add("root", &a2ui.Text{Text: a2ui.Literal("hi")}).
		Messages()
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	sess.Lock()
	err = sess.Surfaces.Apply(msgs...)
	sess.Unlock()
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	again, _ := st.Get(sess.ID)
	if again.Surfaces.State("calendar") != a2ui.StateRendering {
		t.Errorf("State(calendar) = %v, want rendering", again.Surfaces.State("calendar"))
	}
}

// A session can expire while a turn still holds it; the turn keeps
// mutating its surfaces and the store must not touch them.
func TestExpiryDuringTurn(t *testing.T) {
	t.Parallel()
	st := NewStore(5 * time.Millisecond)
	sess, _ := st.GetOrCreate("")
	show, err := a2ui.NewSurface("calendar").
		Add("root", &a2ui.Text{Text: a2ui.Literal("hi")}).
		Messages()
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	remove := a2ui.Message{DeleteSurface: &a2ui.DeleteSurface{SurfaceID: "calendar"}}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Lock()
		defer sess.Unlock()
		for i := 0; i < 200; i++ {
			if err := sess.Surfaces.Apply(show...); err != nil {
				t.Errorf("Apply(show) error = %v", err)
				return
			}
			if err := sess.Surfaces.Apply(remove); err != nil {
				t.Errorf("Apply(remove) error = %v", err)
				return
			}
		}
	}()

	// Other traffic drives the cache's expiry maintenance. Reading sess
	// itself would refresh its expiry.
	for i := 0; i < 50; i++ {
		st.GetOrCreate("")
		time.Sleep(time.Millisecond)
	}
	if _, ok := st.Get(sess.ID); ok {
		t.Error("Get() found a session past its ttl")
	}
	<-done
}
