package taskpool

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ContentHash digests a task description for duplicate detection. Case and
// whitespace differences do not change the hash.
func ContentHash(description string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(description), " "))
	return fmt.Sprintf("%016x", xxhash.Sum64String(normalized))
}
