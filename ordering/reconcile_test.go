package ordering

import (
	"errors"
	"reflect"
	"testing"

	"kanban-api/domain"
)

const (
	todoID  int64 = 1
	doingID int64 = 2
)

func sampleBoard() []domain.List {
	return []domain.List{
		{ID: todoID, Title: "Todo", Position: 0, Cards: []domain.Card{
			{ID: 10, Content: "A", Position: 0, ListID: todoID},
			{ID: 11, Content: "B", Position: 1, ListID: todoID},
			{ID: 12, Content: "C", Position: 2, ListID: todoID},
		}},
		{ID: doingID, Title: "Doing", Position: 1, Cards: []domain.Card{
			{ID: 20, Content: "X", Position: 0, ListID: doingID},
		}},
	}
}

func contents(cards []domain.Card) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = c.Content
	}
	return out
}

func assertDense(t *testing.T, cards []domain.Card, listID int64) {
	t.Helper()
	for i, c := range cards {
		if c.Position != i || c.ListID != listID {
			t.Fatalf("card %s at index %d has position %d list %d", c.Content, i, c.Position, c.ListID)
		}
	}
}

func TestReconcileCardsSameList(t *testing.T) {
	lists := sampleBoard()
	plan, err := ReconcileCards(lists, Drop{SourceContainer: "list-1", DestContainer: "list-1", SourceIndex: 2, DestIndex: 0})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !plan.SameContainer() {
		t.Fatal("expected same container")
	}
	if got := contents(plan.Source); !reflect.DeepEqual(got, []string{"C", "A", "B"}) {
		t.Fatalf("unexpected order %v", got)
	}
	assertDense(t, plan.Source, todoID)
	want := []domain.CardPosition{
		{ID: 12, Position: 0, ListID: todoID},
		{ID: 10, Position: 1, ListID: todoID},
		{ID: 11, Position: 2, ListID: todoID},
	}
	if !reflect.DeepEqual(plan.SourceUpdates, want) {
		t.Fatalf("unexpected updates %#v", plan.SourceUpdates)
	}
	if plan.DestUpdates != nil {
		t.Fatalf("same-list move must not produce destination rows: %#v", plan.DestUpdates)
	}
	if plan.Card.ID != 12 || plan.Card.Position != 0 {
		t.Fatalf("unexpected moved card %#v", plan.Card)
	}
	if got := contents(lists[0].Cards); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Fatalf("input modified: %v", got)
	}
}

func TestReconcileCardsAcrossLists(t *testing.T) {
	lists := sampleBoard()
	lists[0].Cards = lists[0].Cards[:2]
	plan, err := ReconcileCards(lists, Drop{SourceContainer: "list-1", DestContainer: "list-2", SourceIndex: 0, DestIndex: 1})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := contents(plan.Source); !reflect.DeepEqual(got, []string{"B"}) {
		t.Fatalf("unexpected source %v", got)
	}
	if got := contents(plan.Dest); !reflect.DeepEqual(got, []string{"X", "A"}) {
		t.Fatalf("unexpected dest %v", got)
	}
	assertDense(t, plan.Source, todoID)
	assertDense(t, plan.Dest, doingID)
	if want := []domain.CardPosition{{ID: 11, Position: 0, ListID: todoID}}; !reflect.DeepEqual(plan.SourceUpdates, want) {
		t.Fatalf("unexpected source updates %#v", plan.SourceUpdates)
	}
	if want := []domain.CardPosition{{ID: 10, Position: 1, ListID: doingID}}; !reflect.DeepEqual(plan.DestUpdates, want) {
		t.Fatalf("unexpected dest updates %#v", plan.DestUpdates)
	}
	if plan.Card.ListID != doingID || plan.Card.Position != 1 {
		t.Fatalf("moved card not reparented: %#v", plan.Card)
	}
}

func TestReconcileCardsNoOp(t *testing.T) {
	plan, err := ReconcileCards(sampleBoard(), Drop{SourceContainer: "list-1", DestContainer: "list-1", SourceIndex: 1, DestIndex: 1})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !plan.Empty() {
		t.Fatalf("expected no rows, got %#v %#v", plan.SourceUpdates, plan.DestUpdates)
	}
	if got := contents(plan.Source); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestReconcileCardsIntoEmptyList(t *testing.T) {
	lists := sampleBoard()
	lists[1].Cards = nil
	plan, err := ReconcileCards(lists, Drop{SourceContainer: "list-1", DestContainer: "list-2", SourceIndex: 1, DestIndex: 3})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := contents(plan.Dest); !reflect.DeepEqual(got, []string{"B"}) {
		t.Fatalf("unexpected dest %v", got)
	}
	assertDense(t, plan.Dest, doingID)
	if got := contents(plan.Source); !reflect.DeepEqual(got, []string{"A", "C"}) {
		t.Fatalf("unexpected source %v", got)
	}
}

func TestReconcileCardsClampsDestination(t *testing.T) {
	plan, err := ReconcileCards(sampleBoard(), Drop{SourceContainer: "list-1", DestContainer: "list-1", SourceIndex: 0, DestIndex: 50})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := contents(plan.Source); !reflect.DeepEqual(got, []string{"B", "C", "A"}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestReconcileCardsContractViolations(t *testing.T) {
	tests := []struct {
		name string
		drop Drop
	}{
		{name: "malformed source", drop: Drop{SourceContainer: "todo", DestContainer: "list-1"}},
		{name: "malformed dest", drop: Drop{SourceContainer: "list-1", DestContainer: "list-x"}},
		{name: "unknown source", drop: Drop{SourceContainer: "list-9", DestContainer: "list-1"}},
		{name: "unknown dest", drop: Drop{SourceContainer: "list-1", DestContainer: "list-9"}},
		{name: "source index too large", drop: Drop{SourceContainer: "list-1", DestContainer: "list-1", SourceIndex: 3}},
		{name: "negative source index", drop: Drop{SourceContainer: "list-1", DestContainer: "list-2", SourceIndex: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReconcileCards(sampleBoard(), tt.drop)
			if !errors.Is(err, domain.ErrContractViolation) {
				t.Fatalf("expected contract violation, got %v", err)
			}
		})
	}
}

func TestReconcileCardsPreservesCardSet(t *testing.T) {
	base := sampleBoard()
	for from := 0; from < 3; from++ {
		for to := 0; to <= 2; to++ {
			for _, dest := range []string{"list-1", "list-2"} {
				plan, err := ReconcileCards(base, Drop{SourceContainer: "list-1", DestContainer: dest, SourceIndex: from, DestIndex: to})
				if err != nil {
					t.Fatalf("reconcile %d->%s:%d: %v", from, dest, to, err)
				}
				total := len(plan.Source) + len(plan.Dest)
				if plan.SameContainer() {
					total += len(base[1].Cards)
				}
				if total != 4 {
					t.Fatalf("card count changed for %d->%s:%d: %d", from, dest, to, total)
				}
				assertDense(t, plan.Source, todoID)
				if !plan.SameContainer() {
					assertDense(t, plan.Dest, doingID)
				}
			}
		}
	}
}

func TestReconcileLists(t *testing.T) {
	lists := sampleBoard()
	lists = append(lists, domain.List{ID: 3, Title: "Done", Position: 2})
	plan, err := ReconcileLists(lists, 2, 0)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	titles := []string{plan.Lists[0].Title, plan.Lists[1].Title, plan.Lists[2].Title}
	if !reflect.DeepEqual(titles, []string{"Done", "Todo", "Doing"}) {
		t.Fatalf("unexpected order %v", titles)
	}
	want := []domain.ListPosition{{ID: 3, Position: 0}, {ID: 1, Position: 1}, {ID: 2, Position: 2}}
	if !reflect.DeepEqual(plan.Updates, want) {
		t.Fatalf("unexpected updates %#v", plan.Updates)
	}
	if plan.List.ID != 3 {
		t.Fatalf("unexpected moved list %#v", plan.List)
	}
	if lists[0].Title != "Todo" || lists[2].Position != 2 {
		t.Fatal("input modified")
	}

	noop, err := ReconcileLists(lists, 1, 1)
	if err != nil || noop.Updates != nil {
		t.Fatalf("expected no-op, got %#v %v", noop.Updates, err)
	}
	if _, err := ReconcileLists(lists, 3, 0); !errors.Is(err, domain.ErrContractViolation) {
		t.Fatalf("expected contract violation, got %v", err)
	}
}
