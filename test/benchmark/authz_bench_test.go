//go:build benchmark

package benchmark

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/eflynch/usufruit/pkg/authz"
)

func newBenchAuthorizer(b *testing.B) *authz.Authorizer {
	b.Helper()
	az, err := authz.NewAuthorizer(authz.Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		b.Fatalf("failed to create authorizer: %v", err)
	}
	return az
}

// BenchmarkAuthorize_OwnerUpdate measures the common allow path of a
// librarian editing their own book.
func BenchmarkAuthorize_OwnerUpdate(b *testing.B) {
	az := newBenchAuthorizer(b)
	req := authz.AuthzRequest{
		Principal: authz.Principal{UID: "lbr_1", Type: authz.PrincipalLibrarian, LibraryID: "lib_1"},
		Action:    authz.ActionBookUpdate,
		Resource:  authz.Resource{UID: "bk_1", Type: authz.ResourceBook, LibraryID: "lib_1", OwnerID: "lbr_1"},
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !az.Authorize(ctx, req).Allowed {
			b.Fatal("expected allow")
		}
	}
}

// BenchmarkAuthorize_CrossLibraryDeny measures a super librarian denied
// outside their library.
func BenchmarkAuthorize_CrossLibraryDeny(b *testing.B) {
	az := newBenchAuthorizer(b)
	req := authz.AuthzRequest{
		Principal: authz.Principal{UID: "lbr_1", Type: authz.PrincipalLibrarian, Super: true, LibraryID: "lib_1"},
		Action:    authz.ActionLibrarianSetSuper,
		Resource:  authz.Resource{UID: "lbr_9", Type: authz.ResourceLibrarian, LibraryID: "lib_2"},
		Context:   map[string]any{"is_super": true},
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if az.Authorize(ctx, req).Allowed {
			b.Fatal("expected deny")
		}
	}
}
