//go:build unit

package transaction_test

import (
	"fmt"
	"time"

	"github.com/LerianStudio/lib-dispatch/dispatch/transaction"
)

func ExampleParsePlaceholders() {
	scope := transaction.Scope{"users": "tx-1"}
	payload := transaction.ParsePlaceholders(map[string]any{"user_id": "{{users.id}}"}, scope)

	results := map[string]any{"tx-1": []any{map[string]any{"id": "u-42"}}}
	resolved := payload.Resolve(func(id string) (any, bool) {
		r, ok := results[id]
		return r, ok
	}, time.Now())

	fmt.Println(resolved["user_id"])

	// Output:
	// u-42
}
