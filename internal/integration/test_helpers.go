package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"classcast/internal/app"
	"classcast/internal/config"
	"classcast/pkg/types"
)

// testServer is a running application on a loopback port
type testServer struct {
	app     *app.Application
	baseURL string
}

// freePort asks the kernel for an unused loopback port
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// StartTestServer runs the full application against a fresh SQLite database
func StartTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "classcast.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)
	cfg.Log.Level = "error"

	application, err := app.NewApplication(cfg)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start application: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Stop(ctx); err != nil {
			t.Logf("Failed to stop application: %v", err)
		}
	})

	return &testServer{app: application, baseURL: "http://" + application.GetAddr()}
}

// do sends a JSON request as the given actor and decodes the response into out when set
func (s *testServer) do(t *testing.T, method, path string, actor types.Actor, body, out interface{}) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.baseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", actor.ID)
	req.Header.Set("X-User-Role", actor.Role)
	req.Header.Set("X-User-Name", actor.Name)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}
