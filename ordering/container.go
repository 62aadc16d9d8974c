package ordering

import (
	"strconv"
	"strings"

	"kanban-api/domain"
)

// ContainerPrefix starts every list container key.
const ContainerPrefix = "list-"

// ContainerKey addresses the card container of a list.
func ContainerKey(listID int64) string {
	return ContainerPrefix + strconv.FormatInt(listID, 10)
}

// ParseContainerKey recovers the list identity from a container key. Only
// the exact prefix followed by decimal digits is accepted; anything else is
// a contract violation.
func ParseContainerKey(key string) (int64, error) {
	rest, ok := strings.CutPrefix(key, ContainerPrefix)
	if !ok || rest == "" {
		return 0, domain.Contractf("malformed container key %q", key)
	}
	for i := 0; i < len(rest); i++ {
		if rest[i] < '0' || rest[i] > '9' {
			return 0, domain.Contractf("malformed container key %q", key)
		}
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, domain.Contractf("container key %q: %v", key, err)
	}
	return id, nil
}
