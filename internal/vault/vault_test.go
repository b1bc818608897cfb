package vault

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"steward/internal/access"
	"steward/internal/vault/blob"
	"steward/internal/vault/envelope"
	"steward/internal/vault/sink"
	dErrors "steward/pkg/domain-errors"
	"steward/pkg/platform/audit"
	"steward/pkg/platform/audit/store/memory"
)

const override = "break-glass-7f3a"

type VaultSuite struct {
	suite.Suite
	engine  *envelope.Engine
	now     time.Time
	blobs   *blob.Memory
	sink    *sink.Memory
	access  *access.Control
	auditor *memory.Store
	vault   *Vault
}

func TestVaultSuite(t *testing.T) {
	suite.Run(t, new(VaultSuite))
}

func mustHash(pw string) string {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return string(h)
}

func (s *VaultSuite) SetupSuite() {
	engine, err := envelope.New([]byte("master-secret"), []byte("0123456789abcdef"))
	s.Require().NoError(err)
	s.engine = engine
}

func (s *VaultSuite) SetupTest() {
	s.now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.blobs = blob.NewMemory()
	s.sink = sink.NewMemory()
	s.auditor = memory.New()

	policy := access.NewPolicy(map[string]access.Role{
		"authority": {
			Name:        "authority",
			Permissions: access.NewSet(access.ReadAll, access.WriteAll, access.Admin, access.Killswitch),
			Namespaces:  access.NamespaceRule{Allow: []string{"*"}},
			Factors:     []access.FactorKind{access.FactorPassword},
		},
		"tenant": {
			Name:        "tenant",
			Permissions: access.NewSet(access.ReadLimited, access.WriteLimited),
			Namespaces:  access.NamespaceRule{Allow: []string{"tenant."}},
			Factors:     []access.FactorKind{access.FactorPassword},
		},
		"operator": {
			Name:        "operator",
			Permissions: access.NewSet(access.ReadLimited, access.Admin),
			Namespaces:  access.NamespaceRule{Allow: []string{"tenant"}},
			Factors:     []access.FactorKind{access.FactorPassword},
		},
	})
	clock := func() time.Time { return s.now }
	s.access = access.New(policy,
		access.WithFactor(access.NewPasswordFactor(map[string]string{
			"authority": mustHash("root-pw"),
			"tenant":    mustHash("tenant-pw"),
			"operator":  mustHash("operator-pw"),
		})),
		access.WithClock(clock),
	)

	v, err := New(Config{MasterOverride: override}, s.engine, s.blobs, s.access,
		WithSink(s.sink),
		WithAuditor(s.auditor),
		WithClock(clock),
	)
	s.Require().NoError(err)
	s.vault = v
	s.Require().NoError(s.vault.Open(context.Background()))
}

func (s *VaultSuite) login(user, pw string) string {
	token, _, err := s.vault.Authenticate(context.Background(), user, access.Factors{Password: pw})
	s.Require().NoError(err)
	return token
}

func (s *VaultSuite) requireCode(err error, code dErrors.Code, msgAndArgs ...any) {
	s.T().Helper()
	s.Require().Error(err, msgAndArgs...)
	s.Equal(code, dErrors.CodeOf(err), msgAndArgs...)
}

func (s *VaultSuite) TestRoundTrip() {
	ctx := context.Background()
	token := s.login("authority", "root-pw")

	values := map[string]string{
		"singularity.api_key": "sk-live-1",
		"tenant.db.password":  "hunter2",
		"empty":               "",
		"unicode.note":        "ключ <&>",
	}
	for k, val := range values {
		s.Require().NoError(s.vault.Set(ctx, token, k, val))
	}
	for k, want := range values {
		got, err := s.vault.Get(ctx, token, k)
		s.Require().NoError(err)
		s.Equal(want, got)
	}

	s.Run("survives close and reopen", func() {
		s.Require().NoError(s.vault.Close(ctx))
		_, err := s.vault.Get(ctx, token, "empty")
		s.requireCode(err, dErrors.CodeVaultClosed)

		s.Require().NoError(s.vault.Open(ctx))
		got, err := s.vault.Get(ctx, token, "tenant.db.password")
		s.Require().NoError(err)
		s.Equal("hunter2", got)
	})

	s.Run("plaintext never reaches storage", func() {
		raw := s.blobs.Raw()
		s.NotContains(string(raw), "hunter2")
		s.NotContains(string(raw), "tenant.db.password")
	})
}

func (s *VaultSuite) TestDeleteAndList() {
	ctx := context.Background()
	token := s.login("authority", "root-pw")
	for _, k := range []string{"tenant.b", "tenant.a", "other.x"} {
		s.Require().NoError(s.vault.Set(ctx, token, k, "v"))
	}

	keys, err := s.vault.List(ctx, token, "tenant.")
	s.Require().NoError(err)
	s.Equal([]string{"tenant.a", "tenant.b"}, keys)

	s.Require().NoError(s.vault.Delete(ctx, token, "tenant.a"))
	_, err = s.vault.Get(ctx, token, "tenant.a")
	s.requireCode(err, dErrors.CodeNotFound)

	err = s.vault.Delete(ctx, token, "tenant.a")
	s.requireCode(err, dErrors.CodeNotFound)
}

func (s *VaultSuite) TestTenantPrefix() {
	ctx := context.Background()
	root := s.login("authority", "root-pw")
	s.Require().NoError(s.vault.Set(ctx, root, "tenant.key", "mine"))
	s.Require().NoError(s.vault.Set(ctx, root, "other.key", "theirs"))

	token := s.login("tenant", "tenant-pw")

	got, err := s.vault.Get(ctx, token, "tenant.key")
	s.Require().NoError(err)
	s.Equal("mine", got)

	_, err = s.vault.Get(ctx, token, "other.key")
	s.requireCode(err, dErrors.CodeAuthorizationDenied)

	err = s.vault.Set(ctx, token, "other.key", "overwrite")
	s.requireCode(err, dErrors.CodeAuthorizationDenied)

	keys, err := s.vault.List(ctx, token, "")
	s.Require().NoError(err)
	s.Equal([]string{"tenant.key"}, keys, "list only shows readable keys")

	denied := s.auditor.ListByAction(audit.ActionGet)
	s.Require().Len(denied, 2)
	s.False(denied[1].Success)
	s.Equal("tenant", denied[1].UserID)
	s.Equal("other.key", denied[1].Key)
	s.Equal(string(dErrors.CodeAuthorizationDenied), denied[1].Reason)
}

func (s *VaultSuite) TestKillswitch() {
	ctx := context.Background()
	root := s.login("authority", "root-pw")
	tenant := s.login("tenant", "tenant-pw")
	s.Require().NoError(s.vault.Set(ctx, root, "tenant.key", "v"))

	s.Run("requires killswitch permission", func() {
		_, err := s.vault.ActivateKillswitch(ctx, tenant)
		s.requireCode(err, dErrors.CodeAuthorizationDenied)
		s.False(s.vault.KillswitchStatus().Active)
	})

	revoked, err := s.vault.ActivateKillswitch(ctx, root)
	s.Require().NoError(err)
	s.Equal(2, revoked)
	status := s.vault.KillswitchStatus()
	s.True(status.Active)
	s.Equal("authority", status.ActivatedBy)
	s.Equal(s.now, status.ActivatedAt)

	s.Run("every operation fails regardless of token", func() {
		for _, token := range []string{root, tenant, "", "garbage"} {
			_, err := s.vault.List(ctx, token, "")
			s.requireCode(err, dErrors.CodeKillswitchActive)
			_, err = s.vault.Get(ctx, token, "tenant.key")
			s.requireCode(err, dErrors.CodeKillswitchActive)
			s.requireCode(s.vault.Set(ctx, token, "tenant.key", "x"), dErrors.CodeKillswitchActive)
			s.requireCode(s.vault.Delete(ctx, token, "tenant.key"), dErrors.CodeKillswitchActive)
			_, err = s.vault.SyncToExternalStore(ctx, token, "tenant", "tenant.")
			s.requireCode(err, dErrors.CodeKillswitchActive)
		}
		_, _, err := s.vault.Authenticate(ctx, "authority", access.Factors{Password: "root-pw"})
		s.requireCode(err, dErrors.CodeKillswitchActive)
		_, err = s.vault.ActivateKillswitch(ctx, root)
		s.requireCode(err, dErrors.CodeKillswitchActive)
	})

	s.Run("wrong override is rejected", func() {
		err := s.vault.DeactivateKillswitch(ctx, "wrong-key")
		s.requireCode(err, dErrors.CodeAuthenticationFailure)
		s.True(s.vault.KillswitchStatus().Active)
	})

	s.Run("correct override restores operation", func() {
		s.Require().NoError(s.vault.DeactivateKillswitch(ctx, override))
		s.False(s.vault.KillswitchStatus().Active)

		_, err := s.vault.Get(ctx, root, "tenant.key")
		s.requireCode(err, dErrors.CodeTokenInvalid, "old tokens stay revoked")

		fresh := s.login("authority", "root-pw")
		got, err := s.vault.Get(ctx, fresh, "tenant.key")
		s.Require().NoError(err)
		s.Equal("v", got)
	})

	events := s.auditor.ListByAction(audit.ActionKillswitchActivate)
	s.Require().NotEmpty(events)
	s.Equal(audit.SeverityCritical, events[len(events)-1].Severity)
}

func (s *VaultSuite) TestOpenIsRefusedWhileKillswitchActive() {
	ctx := context.Background()
	root := s.login("authority", "root-pw")
	_, err := s.vault.ActivateKillswitch(ctx, root)
	s.Require().NoError(err)

	s.Require().NoError(s.vault.Close(ctx))
	s.requireCode(s.vault.Open(ctx), dErrors.CodeKillswitchActive)
}

func (s *VaultSuite) TestTamperedBlobFailsDecryption() {
	ctx := context.Background()
	root := s.login("authority", "root-pw")
	s.Require().NoError(s.vault.Set(ctx, root, "a", "1"))
	s.Require().NoError(s.vault.Close(ctx))

	raw := s.blobs.Raw()
	cases := map[string]func([]byte) []byte{
		"flipped ciphertext byte": func(b []byte) []byte { b[len(b)-1] ^= 0x01; return b },
		"edited version":          func(b []byte) []byte { b[11]++; return b },
		"bad magic":               func(b []byte) []byte { b[0] = 'X'; return b },
	}
	for name, mutate := range cases {
		s.Run(name, func() {
			s.blobs.SetRaw(mutate(append([]byte(nil), raw...)))
			err := s.vault.Open(ctx)
			s.requireCode(err, dErrors.CodeDecryption)
			s.False(s.vault.IsOpen())
		})
	}
}

func (s *VaultSuite) TestWrongMasterSecret() {
	ctx := context.Background()
	root := s.login("authority", "root-pw")
	s.Require().NoError(s.vault.Set(ctx, root, "a", "1"))

	other, err := envelope.New([]byte("not-the-master"), []byte("0123456789abcdef"))
	s.Require().NoError(err)
	v, err := New(Config{}, other, s.blobs, s.access)
	s.Require().NoError(err)
	s.requireCode(v.Open(ctx), dErrors.CodeDecryption)
}

func (s *VaultSuite) TestStaleBlobVersionConflicts() {
	ctx := context.Background()
	root := s.login("authority", "root-pw")
	s.Require().NoError(s.vault.Set(ctx, root, "a", "1"))

	second, err := New(Config{}, s.engine, s.blobs, s.access)
	s.Require().NoError(err)
	s.Require().NoError(second.Open(ctx))
	s.Require().NoError(second.Set(ctx, root, "b", "2"))

	err = s.vault.Set(ctx, root, "c", "3")
	s.requireCode(err, dErrors.CodeConcurrencyConflict)

	_, err = s.vault.Get(ctx, root, "c")
	s.requireCode(err, dErrors.CodeNotFound, "failed persist leaves memory unchanged")
}

func (s *VaultSuite) TestSync() {
	ctx := context.Background()
	root := s.login("authority", "root-pw")
	s.Require().NoError(s.vault.Set(ctx, root, "tenant.db.password", "hunter2"))
	s.Require().NoError(s.vault.Set(ctx, root, "tenant.api", "k"))
	s.Require().NoError(s.vault.Set(ctx, root, "other.key", "x"))

	n, err := s.vault.SyncToExternalStore(ctx, root, "tenant-prod", "tenant.")
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Equal(map[string]string{
		"tenant_db_password": base64.StdEncoding.EncodeToString([]byte("hunter2")),
		"tenant_api":         base64.StdEncoding.EncodeToString([]byte("k")),
	}, s.sink.Namespace("tenant-prod"))

	s.Run("requires admin", func() {
		tenant := s.login("tenant", "tenant-pw")
		_, err := s.vault.SyncToExternalStore(ctx, tenant, "tenant-prod", "tenant.")
		s.requireCode(err, dErrors.CodeAuthorizationDenied)
	})

	s.Run("requires read on every exported key", func() {
		operator := s.login("operator", "operator-pw")
		n, err := s.vault.SyncToExternalStore(ctx, operator, "tenant-prod", "tenant.")
		s.Require().NoError(err)
		s.Equal(2, n)

		_, err = s.vault.SyncToExternalStore(ctx, operator, "everything", "")
		s.requireCode(err, dErrors.CodeAuthorizationDenied)
	})
}

func (s *VaultSuite) TestInvalidKeys() {
	ctx := context.Background()
	root := s.login("authority", "root-pw")
	for _, key := range []string{"", ".lead", "trail.", "a..b", "has space"} {
		s.requireCode(s.vault.Set(ctx, root, key, "v"), dErrors.CodeValidation)
	}
}

func (s *VaultSuite) TestConcurrentWritersDoNotLoseUpdates() {
	ctx := context.Background()
	root := s.login("authority", "root-pw")

	const writers = 16
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := "tenant.k" + string(rune('a'+i))
			s.NoError(s.vault.Set(ctx, root, key, "v"))
		}()
	}
	wg.Wait()

	keys, err := s.vault.List(ctx, root, "tenant.")
	s.Require().NoError(err)
	s.Len(keys, writers)

	b, err := s.blobs.Load(ctx)
	s.Require().NoError(err)
	s.Equal(uint64(writers), b.Version)
}

func TestEngineForCreatesSaltOnce(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()

	if _, err := EngineFor(ctx, blobs, []byte("m"), false); err != nil {
		t.Fatalf("first engine: %v", err)
	}
	salt, err := blobs.Salt(ctx)
	if err != nil {
		t.Fatalf("salt: %v", err)
	}
	if len(salt) != envelope.SaltSize {
		t.Fatalf("salt length = %d, want %d", len(salt), envelope.SaltSize)
	}
	if _, err := EngineFor(ctx, blobs, []byte("m"), false); err != nil {
		t.Fatalf("second engine: %v", err)
	}
	again, _ := blobs.Salt(ctx)
	if string(again) != string(salt) {
		t.Fatal("salt changed between engines")
	}
}

func TestEngineForRefusesBlobWithoutSalt(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	if err := blobs.Save(ctx, blob.Blob{Version: 1, Sealed: []byte("x")}, 0); err != nil {
		t.Fatalf("save: %v", err)
	}
	_, err := EngineFor(ctx, blobs, []byte("m"), false)
	if !dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

// gatedFactor reports entry and then blocks until gate closes.
type gatedFactor struct {
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedFactor) Kind() access.FactorKind { return access.FactorOTP }

func (g *gatedFactor) Verify(ctx context.Context, _ string, _ access.Factors) (bool, error) {
	close(g.entered)
	<-g.gate
	return true, nil
}

func (s *VaultSuite) TestAuthenticateRacingKillswitch() {
	ctx := context.Background()
	gated := &gatedFactor{entered: make(chan struct{}), gate: make(chan struct{})}
	policy := access.NewPolicy(map[string]access.Role{
		"authority": {
			Name:        "authority",
			Permissions: access.NewSet(access.ReadAll, access.Killswitch),
			Namespaces:  access.NamespaceRule{Allow: []string{"*"}},
			Factors:     []access.FactorKind{access.FactorPassword},
		},
		"slow": {
			Name:        "slow",
			Permissions: access.NewSet(access.ReadAll),
			Namespaces:  access.NamespaceRule{Allow: []string{"*"}},
			Factors:     []access.FactorKind{access.FactorOTP},
		},
	})
	ctl := access.New(policy,
		access.WithFactor(access.NewPasswordFactor(map[string]string{"authority": mustHash("root-pw")})),
		access.WithFactor(gated),
	)
	v, err := New(Config{MasterOverride: override}, s.engine, blob.NewMemory(), ctl)
	s.Require().NoError(err)
	s.Require().NoError(v.Open(ctx))

	admin, _, err := v.Authenticate(ctx, "authority", access.Factors{Password: "root-pw"})
	s.Require().NoError(err)

	var (
		wg        sync.WaitGroup
		slowToken string
		authErr   error
		revoked   int
		killErr   error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		slowToken, _, authErr = v.Authenticate(ctx, "slow", access.Factors{OTP: "000000"})
	}()
	<-gated.entered

	activated := make(chan struct{})
	go func() {
		defer close(activated)
		revoked, killErr = v.ActivateKillswitch(ctx, admin)
	}()
	select {
	case <-activated:
		s.Fail("activation completed while a login was mid-verification")
	case <-time.After(50 * time.Millisecond):
	}

	close(gated.gate)
	wg.Wait()
	<-activated

	s.Require().NoError(authErr)
	s.Require().NoError(killErr)
	s.Equal(2, revoked, "the in-flight login's token is revoked with the rest")
	s.Equal(0, ctl.ActiveTokens())

	s.Require().NoError(v.DeactivateKillswitch(ctx, override))
	_, err = v.List(ctx, slowToken, "")
	s.requireCode(err, dErrors.CodeTokenInvalid)
}
