package ordering

import (
	"errors"
	"testing"

	"kanban-api/domain"
)

func TestContainerKeyRoundTrip(t *testing.T) {
	for _, id := range []int64{0, 7, 1234567890123} {
		got, err := ParseContainerKey(ContainerKey(id))
		if err != nil {
			t.Fatalf("parse %d: %v", id, err)
		}
		if got != id {
			t.Fatalf("expected %d, got %d", id, got)
		}
	}
	if ContainerKey(42) != "list-42" {
		t.Fatalf("unexpected key %q", ContainerKey(42))
	}
}

func TestParseContainerKeyRejectsMalformed(t *testing.T) {
	for _, key := range []string{"", "list-", "list-abc", "list-12abc", "card-1", "List-1", "list--3", "list-+3", "list-99999999999999999999"} {
		_, err := ParseContainerKey(key)
		if !errors.Is(err, domain.ErrContractViolation) {
			t.Fatalf("key %q: expected contract violation, got %v", key, err)
		}
	}
}
