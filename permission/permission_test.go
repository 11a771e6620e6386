package permission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ts4z/floorman/gossip"
	"github.com/ts4z/floorman/model"
	"github.com/ts4z/floorman/paytable"
	"github.com/ts4z/floorman/prizepool"
	"github.com/ts4z/floorman/state"
	"github.com/ts4z/floorman/tournament"
	"github.com/ts4z/floorman/ts"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

func TestTokenRoundTrip(t *testing.T) {
	fc := clockwork.NewFakeClock()
	tokens, err := NewTokens(secret, fc)
	if err != nil {
		t.Fatal(err)
	}
	user, club := uuid.New(), uuid.New()
	raw, err := tokens.Mint(user, RoleManager, []uuid.UUID{club}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	c, err := tokens.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.UserID != user || c.Role != RoleManager || !c.ManagesClub(club) || c.ManagesClub(uuid.New()) {
		t.Errorf("claims = %+v", c)
	}

	fc.Advance(2 * time.Hour)
	if _, err := tokens.Parse(raw); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expired token: %v", err)
	}
}

func TestTokenRejections(t *testing.T) {
	fc := clockwork.NewFakeClock()
	tokens, _ := NewTokens(secret, fc)
	other, _ := NewTokens([]byte("a different secret, also long"), fc)
	raw, _ := other.Mint(uuid.New(), RoleAdmin, nil, time.Hour)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: uuid.New(), Role: RoleAdmin}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	badRole, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, ExpiresAt: jwt.NewNumericDate(fc.Now().Add(time.Hour))},
		UserID:           uuid.New(),
		Role:             "emperor",
	}).SignedString(secret)

	for name, tok := range map[string]string{
		"wrong secret": raw,
		"alg none":     unsigned,
		"bad role":     badRole,
		"garbage":      "not.a.token",
	} {
		if _, err := tokens.Parse(tok); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("%s: err = %v", name, err)
		}
	}

	if _, err := NewTokens([]byte("short"), fc); err == nil {
		t.Errorf("accepted a short secret")
	}
}

func TestManagesClub(t *testing.T) {
	club := uuid.New()
	tests := []struct {
		c    Claims
		want bool
	}{
		{Claims{Role: RoleAdmin}, true},
		{Claims{Role: RoleManager, ClubIDs: []uuid.UUID{club}}, true},
		{Claims{Role: RoleManager, ClubIDs: []uuid.UUID{uuid.New()}}, false},
		{Claims{Role: RolePlayer, ClubIDs: []uuid.UUID{club}}, false},
	}
	for i, tt := range tests {
		if got := tt.c.ManagesClub(club); got != tt.want {
			t.Errorf("%d: ManagesClub = %v", i, got)
		}
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, *gossip.Event) error { return nil }

func newFacade(t *testing.T) (*Facade, *state.MemStorage) {
	t.Helper()
	clock := ts.NewClock(clockwork.NewFakeClock())
	store := state.NewMemStorage()
	if _, err := state.SeedPayoutTemplates(context.Background(), store, "standard"); err != nil {
		t.Fatal(err)
	}
	m := tournament.NewManager(&tournament.Config{
		Storage:    store,
		Structures: store,
		Aggregator: prizepool.NewAggregator(store, clock),
		Publisher:  nopPublisher{},
		Clock:      clock,
	})
	return NewFacade(m, store), store
}

func as(role Role, clubs ...uuid.UUID) context.Context {
	return ClaimsInContext(context.Background(), &Claims{UserID: uuid.New(), Role: role, ClubIDs: clubs})
}

func TestFacadeRoles(t *testing.T) {
	f, store := newFacade(t)
	club := uuid.New()
	manager := as(RoleManager, club)

	if _, err := f.CreateTournament(context.Background(), &tournament.NewTournament{ClubID: club, Name: "x", StructureName: "turbo"}); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("anonymous create: %v", err)
	}
	if _, err := f.CreateTournament(as(RoleManager, uuid.New()), &tournament.NewTournament{ClubID: club, Name: "x", StructureName: "turbo"}); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("other club's manager: %v", err)
	}
	tm, err := f.CreateTournament(manager, &tournament.NewTournament{ClubID: club, Name: "Main Event", StructureName: "turbo", BuyInCents: 5000})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	player := as(RolePlayer)
	if _, err := f.Clock(player, tm.ID, "start"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("player started the clock: %v", err)
	}
	if _, err := f.Clock(manager, tm.ID, "start"); err != nil {
		t.Errorf("manager start: %v", err)
	}
	if _, err := f.Clock(manager, tm.ID, "fold"); !errors.Is(err, tournament.ErrInvalidArgument) {
		t.Errorf("unknown op: %v", err)
	}
	if _, err := f.Clock(as(RoleAdmin), tm.ID, "pause"); err != nil {
		t.Errorf("admin pause: %v", err)
	}

	// Players register themselves; managers record money.
	reg, err := f.Register(player, tm.ID)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if id, _ := UserID(player); reg.UserID != id {
		t.Errorf("registered %v, want the caller", reg.UserID)
	}
	if _, err := f.RecordEntry(player, tm.ID, reg.UserID, model.InitialEntry, 0); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("player recorded an entry: %v", err)
	}
	res, err := f.RecordEntry(manager, tm.ID, reg.UserID, model.InitialEntry, 0)
	if err != nil || res.Entry.AmountCents != 5000 {
		t.Fatalf("manager entry: %+v %v", res, err)
	}

	// The manager is the actor on the log.
	page, _ := store.ListActivity(context.Background(), tm.ID, nil, 0, 1)
	claims := ClaimsFromContext(manager)
	if e := page.Entries[0]; e.ActorID == nil || *e.ActorID != claims.UserID {
		t.Errorf("newest entry %+v has the wrong actor", e)
	}
}

func TestFacadeTemplatesAreAdminOnly(t *testing.T) {
	f, _ := newFacade(t)
	tpl := &paytable.Template{
		ID: uuid.New(), Name: "Heads up", MinPlayers: 2,
		Positions: []paytable.Position{{Position: 1, BasisPoints: 10000}},
	}
	if err := f.CreatePayoutTemplate(as(RoleManager, uuid.New()), tpl); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("manager created a template: %v", err)
	}
	if err := f.CreatePayoutTemplate(as(RoleAdmin), tpl); err != nil {
		t.Errorf("admin create: %v", err)
	}
	bad := &paytable.Template{ID: uuid.New(), Name: "nobody paid", MinPlayers: 2}
	if err := f.CreatePayoutTemplate(as(RoleAdmin), bad); !errors.Is(err, tournament.ErrInvalidArgument) {
		t.Errorf("invalid template: %v", err)
	}
	if err := f.DeletePayoutTemplate(as(RolePlayer), tpl.ID); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("player delete: %v", err)
	}
	if err := f.DeletePayoutTemplate(as(RoleAdmin), tpl.ID); err != nil {
		t.Errorf("admin delete: %v", err)
	}
}

func TestClockOpNames(t *testing.T) {
	for _, op := range []string{"start", "pause", "resume", "advance", "revert", "stop"} {
		if fn, ok := clockOp(op); !ok || fn == nil {
			t.Errorf("clockOp(%q) missing", op)
		}
	}
	for _, op := range []string{"", "Start", "fold", "reset"} {
		if _, ok := clockOp(op); ok {
			t.Errorf("clockOp(%q) found", op)
		}
	}
}

func TestFacadeReplaceStructure(t *testing.T) {
	f, _ := newFacade(t)
	club := uuid.New()
	manager := as(RoleManager, club)
	tm, err := f.CreateTournament(manager, &tournament.NewTournament{ClubID: club, Name: "x", StructureName: "turbo"})
	if err != nil {
		t.Fatal(err)
	}
	req := &tournament.NewStructure{StructureName: "standard"}
	if _, err := f.ReplaceStructure(as(RolePlayer), tm.ID, req); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("player replaced the structure: %v", err)
	}
	if _, err := f.ReplaceStructure(as(RoleManager, uuid.New()), tm.ID, req); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("other club's manager replaced the structure: %v", err)
	}
	st, err := f.ReplaceStructure(manager, tm.ID, req)
	if err != nil {
		t.Fatalf("manager replace: %v", err)
	}
	if st.CurrentLevel != 1 || st.TotalLevels == 0 {
		t.Errorf("state after replace: %+v", st)
	}
}
