package local

import (
	"context"
	"errors"
	"testing"

	"github.com/mealdeck/mealdeck/internal/config"
	"github.com/mealdeck/mealdeck/internal/security/password"
	"github.com/mealdeck/mealdeck/internal/store"
)

type recordingMailer struct {
	to   string
	fail error
}

func (m *recordingMailer) SendWelcome(_ context.Context, email, name string) error {
	m.to = email
	return m.fail
}

func testService(st store.Store, m Mailer) *Service {
	s := New(st, m)
	// Small cost params keep the suite fast.
	s.params = password.Params{Memory: 1024, Time: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32}
	return s
}

func TestRegisterLogin_RoundTrip(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	mailer := &recordingMailer{}
	s := testService(st, mailer)

	reg, err := s.Register(ctx, "Jane@Example.com", "hunter22!", "Jane", "Doe")
	if err != nil {
		t.Fatalf("Register err: %v", err)
	}
	if reg.Email != "jane@example.com" {
		t.Fatalf("email = %q", reg.Email)
	}
	if reg.Provider != config.ProviderEmail {
		t.Fatalf("provider = %q", reg.Provider)
	}
	if mailer.to != "jane@example.com" {
		t.Fatalf("welcome mail went to %q", mailer.to)
	}

	in, err := s.Login(ctx, "jane@example.com", "hunter22!")
	if err != nil {
		t.Fatalf("Login err: %v", err)
	}
	if in.ID != reg.ID {
		t.Fatal("login resolved to a different user")
	}
}

// flakyLinkStore fails CreateLink a set number of times.
type flakyLinkStore struct {
	store.Store
	failures int
}

func (f *flakyLinkStore) CreateLink(ctx context.Context, l *store.ProviderLink) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("link write failed")
	}
	return f.Store.CreateLink(ctx, l)
}

func TestRegister_LinkFailureRollsBackUser(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	s := testService(&flakyLinkStore{Store: mem, failures: 1}, nil)

	if _, err := s.Register(ctx, "jane@example.com", "hunter22!", "Jane", ""); err == nil {
		t.Fatal("Register should fail when the link write fails")
	}
	// The half-created user must not survive to block the email.
	if _, err := mem.GetUserByEmail(ctx, "jane@example.com"); !store.IsNotFound(err) {
		t.Fatalf("orphaned user left behind: err = %v", err)
	}

	// A retry starts clean and succeeds.
	reg, err := s.Register(ctx, "jane@example.com", "hunter22!", "Jane", "")
	if err != nil {
		t.Fatalf("retry Register err: %v", err)
	}
	if _, err := s.Login(ctx, "jane@example.com", "hunter22!"); err != nil {
		t.Fatalf("Login after retry err: %v", err)
	}
	if reg.Email != "jane@example.com" {
		t.Fatalf("email = %q", reg.Email)
	}
}

func TestRegister_LinkShape(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	s := testService(st, nil)

	reg, err := s.Register(ctx, "a@b.co", "longenough", "", "")
	if err != nil {
		t.Fatalf("Register err: %v", err)
	}

	link, err := st.GetLinkByUserProvider(ctx, reg.ID, config.ProviderEmail)
	if err != nil {
		t.Fatalf("GetLinkByUserProvider err: %v", err)
	}
	if !link.IsPrimary {
		t.Fatal("password link must be primary")
	}
	if link.ProviderUserID != "a@b.co" {
		t.Fatalf("external id = %q, want the email", link.ProviderUserID)
	}
	hash, _ := link.Metadata["password_hash"].(string)
	if hash == "" {
		t.Fatal("no password hash in link metadata")
	}
	if !password.Verify("longenough", hash) {
		t.Fatal("stored hash does not verify")
	}

	// Name fell back to the email local part.
	u, err := st.GetUserByID(ctx, reg.ID)
	if err != nil {
		t.Fatalf("GetUserByID err: %v", err)
	}
	if u.FirstName != "a" {
		t.Fatalf("first name = %q", u.FirstName)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	s := testService(store.NewMemory(), nil)

	if _, err := s.Register(ctx, "dup@example.com", "password1", "A", ""); err != nil {
		t.Fatalf("first Register err: %v", err)
	}
	if _, err := s.Register(ctx, "dup@example.com", "password2", "B", ""); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("err = %v, want ErrEmailTaken", err)
	}
}

func TestRegister_WeakPassword(t *testing.T) {
	s := testService(store.NewMemory(), nil)
	if _, err := s.Register(context.Background(), "x@y.z", "short", "", ""); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("err = %v, want ErrWeakPassword", err)
	}
}

func TestLogin_FailuresIndistinguishable(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	s := testService(st, nil)

	if _, err := s.Register(ctx, "real@example.com", "rightpass", "", ""); err != nil {
		t.Fatalf("Register err: %v", err)
	}

	// An OAuth-only account: user exists, no password link.
	if err := st.CreateUser(ctx, &store.User{
		ID:              "oauth-only",
		Email:           "oauth@example.com",
		PrimaryProvider: "google",
	}); err != nil {
		t.Fatalf("CreateUser err: %v", err)
	}

	cases := []struct {
		name, email, pass string
	}{
		{"unknown email", "nobody@example.com", "whatever1"},
		{"no password link", "oauth@example.com", "whatever1"},
		{"wrong password", "real@example.com", "wrongpass"},
	}
	for _, tc := range cases {
		if _, err := s.Login(ctx, tc.email, tc.pass); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("%s: err = %v, want ErrInvalidCredentials", tc.name, err)
		}
	}
}

func TestRegister_MailFailureIsNotFatal(t *testing.T) {
	mailer := &recordingMailer{fail: errors.New("smtp down")}
	s := testService(store.NewMemory(), mailer)

	if _, err := s.Register(context.Background(), "ok@example.com", "longenough", "", ""); err != nil {
		t.Fatalf("Register err: %v", err)
	}
}
