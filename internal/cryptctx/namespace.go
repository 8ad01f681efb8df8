package cryptctx

import (
	"strings"

	"github.com/mongocrypt-go/core/internal/status"
)

// splitNamespace validates and splits a "<db>.<coll>" namespace string
// (spec §3 "collection namespace string").
func splitNamespace(ns string) (db, coll string, st *status.Status) {
	i := strings.IndexByte(ns, '.')
	if i <= 0 || i == len(ns)-1 {
		return "", "", status.Errorf("malformed namespace %q, expected \"<db>.<coll>\"", ns)
	}
	return ns[:i], ns[i+1:], nil
}
