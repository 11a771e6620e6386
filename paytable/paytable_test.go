package paytable

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/uuid"
)

func intp(n int) *int { return &n }

func testTemplates() []*Template {
	return []*Template{
		{ID: uuid.New(), Name: "2-10", MinPlayers: 2, MaxPlayers: intp(10), Positions: []Position{{1, 7000}, {2, 3000}}},
		{ID: uuid.New(), Name: "11-20", MinPlayers: 11, MaxPlayers: intp(20), Positions: []Position{{1, 5000}, {2, 3000}, {3, 2000}}},
		{ID: uuid.New(), Name: "5-30 wide", MinPlayers: 5, MaxPlayers: intp(30), Positions: []Position{{1, 10000}}},
		{ID: uuid.New(), Name: "21+", MinPlayers: 21, Positions: []Position{{1, 4000}, {2, 2500}, {3, 2000}, {4, 1500}}},
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		players int
		want    string
		wantErr bool
	}{
		{name: "zero players", players: 0, wantErr: true},
		{name: "one player", players: 1, wantErr: true},
		{name: "two players", players: 2, want: "2-10"},
		{name: "overlap prefers higher min", players: 7, want: "5-30 wide"},
		{name: "eleven", players: 11, want: "11-20"},
		{name: "twenty", players: 20, want: "11-20"},
		{name: "open ended", players: 21, want: "21+"},
		{name: "way open ended", players: 5000, want: "21+"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(testTemplates(), tt.players)
			if tt.wantErr {
				if !errors.Is(err, ErrNoMatchingTemplate) {
					t.Fatalf("Resolve(%d) error = %v, want ErrNoMatchingTemplate", tt.players, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%d) returned error: %v", tt.players, err)
			}
			if got.Name != tt.want {
				t.Errorf("Resolve(%d) = %q, want %q", tt.players, got.Name, tt.want)
			}
		})
	}
}

func TestResolveNoOpenEndedTemplate(t *testing.T) {
	closed := testTemplates()[:3]
	if _, err := Resolve(closed, 31); !errors.Is(err, ErrNoMatchingTemplate) {
		t.Errorf("Resolve above every range: error = %v, want ErrNoMatchingTemplate", err)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	templates := testTemplates()
	// Two templates with the same bracket.
	templates = append(templates, &Template{ID: uuid.New(), Name: "11-20 alt", MinPlayers: 11, MaxPlayers: intp(20), Positions: []Position{{1, 10000}}})
	for n := 2; n <= 60; n++ {
		first, err := Resolve(templates, n)
		if err != nil {
			t.Fatalf("Resolve(%d): %v", n, err)
		}
		for i := 0; i < 10; i++ {
			shuffled := append([]*Template(nil), templates...)
			rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
			again, err := Resolve(shuffled, n)
			if err != nil {
				t.Fatalf("Resolve(%d) again: %v", n, err)
			}
			if again.ID != first.ID {
				t.Fatalf("Resolve(%d) gave %q then %q", n, first.Name, again.Name)
			}
		}
	}
}

func TestCompute(t *testing.T) {
	got := Compute([]Position{{1, 7000}, {2, 3000}}, 1000)
	want := []struct {
		position int
		amount   int64
		pct      float64
	}{{1, 700, 70.0}, {2, 300, 30.0}}
	if len(got) != len(want) {
		t.Fatalf("got %d positions, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Position != w.position || got[i].AmountCents != w.amount || got[i].Percentage != w.pct {
			t.Errorf("position %d = %+v, want %+v", i, got[i], w)
		}
	}
}

func TestComputeFloorsAndLeavesRemainder(t *testing.T) {
	// 11 entries of 25.
	got := Compute([]Position{{1, 5000}, {2, 3000}, {3, 2000}}, 275)
	wantAmounts := []int64{137, 82, 55}
	sum := int64(0)
	for i, w := range wantAmounts {
		if got[i].AmountCents != w {
			t.Errorf("place %d = %d, want %d", i+1, got[i].AmountCents, w)
		}
		sum += got[i].AmountCents
	}
	if sum != 274 {
		t.Errorf("sum = %d, want 274 with 1 unallocated", sum)
	}
}

func TestComputeOrdersByPosition(t *testing.T) {
	got := Compute([]Position{{3, 2000}, {1, 5000}, {2, 3000}}, 1000)
	for i, p := range got {
		if p.Position != i+1 {
			t.Errorf("result[%d].Position = %d, want %d", i, p.Position, i+1)
		}
	}
	if got[0].AmountCents != 500 {
		t.Errorf("first place = %d, want 500", got[0].AmountCents)
	}
}

func TestComputeNeverOvershoots(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		n := 1 + r.Intn(12)
		positions := make([]Position, n)
		remaining := 10000 + r.Intn(300) // allow drift above 100%
		for j := range positions {
			bp := 0
			if remaining > 0 {
				bp = r.Intn(remaining + 1)
			}
			remaining -= bp
			positions[j] = Position{Position: j + 1, BasisPoints: bp}
		}
		pool := r.Int63n(10_000_000)
		total := int64(0)
		bpSum := 0
		for _, p := range Compute(positions, pool) {
			total += p.AmountCents
		}
		for _, p := range positions {
			bpSum += p.BasisPoints
		}
		if bpSum <= 10000 && total > pool {
			t.Fatalf("payout %d exceeds pool %d for %+v", total, pool, positions)
		}
	}
}

func TestComputeIsIdempotent(t *testing.T) {
	positions := []Position{{2, 3333}, {1, 3334}, {3, 3333}}
	a := Compute(positions, 99_999)
	b := Compute(positions, 99_999)
	if len(a) != len(b) {
		t.Fatalf("lengths differ")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("run differs at %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestComputeZeroPool(t *testing.T) {
	for _, p := range Compute([]Position{{1, 10000}}, 0) {
		if p.AmountCents != 0 {
			t.Errorf("zero pool paid %d", p.AmountCents)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		t       Template
		wantErr bool
	}{
		{"ok", Template{Name: "ok", MinPlayers: 2, Positions: []Position{{1, 10000}}}, false},
		{"no name", Template{MinPlayers: 2, Positions: []Position{{1, 10000}}}, true},
		{"inverted range", Template{Name: "x", MinPlayers: 10, MaxPlayers: intp(5), Positions: []Position{{1, 10000}}}, true},
		{"no positions", Template{Name: "x", MinPlayers: 2}, true},
		{"position zero", Template{Name: "x", MinPlayers: 2, Positions: []Position{{0, 10000}}}, true},
		{"duplicate position", Template{Name: "x", MinPlayers: 2, Positions: []Position{{1, 5000}, {1, 5000}}}, true},
		{"too many basis points", Template{Name: "x", MinPlayers: 2, Positions: []Position{{1, 10001}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.t.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPercentToBasisPoints(t *testing.T) {
	if got := PercentToBasisPoints(33.33); got != 3333 {
		t.Errorf("PercentToBasisPoints(33.33) = %d", got)
	}
	if got := PercentToBasisPoints(70); got != 7000 {
		t.Errorf("PercentToBasisPoints(70) = %d", got)
	}
}
