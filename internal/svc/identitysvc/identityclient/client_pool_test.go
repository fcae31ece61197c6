package identityclient_test

import (
	"testing"

	"github.com/mkrupp/escrowgate/internal/svc/identitysvc/identityclient"
)

func TestPool(t *testing.T) {
	t.Parallel()

	factory, err := identityclient.NewHTTPFactory(identityclient.HTTPClientConfig{BaseURL: "http://identity.invalid"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	pool := identityclient.NewPool(factory)

	first := pool.Client("tab-1")
	if pool.Client("tab-1") != first {
		t.Error("Client() created a second client for the same tab")
	}

	if pool.Client("tab-2") == first {
		t.Error("tabs share a client")
	}

	reset := pool.Reset("tab-1")
	if reset == first || pool.Client("tab-1") != reset {
		t.Error("Reset() did not replace the tab's client")
	}

	pool.Forget("tab-1")

	if pool.Len() != 1 {
		t.Errorf("Len() = %d, want 1", pool.Len())
	}
}
