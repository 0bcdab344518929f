//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/savage-app/savage/config"
	"github.com/savage-app/savage/internal/server"
)

const (
	serverPort = 18080
)

var (
	baseURL     = fmt.Sprintf("http://localhost:%d", serverPort)
	csrfPattern = regexp.MustCompile(`name="gorilla.csrf.Token" value="([^"]+)"`)
	linkPattern = regexp.MustCompile(`href="(/auth/messages/\d+)"`)
)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	dir, err := os.MkdirTemp("", "savage-e2e")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
		os.Exit(1)
	}

	srv, err := startServer(filepath.Join(dir, "e2e.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = os.RemoveAll(dir)
		os.Exit(1)
	}

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown(context.Background())
		_ = os.RemoveAll(dir)
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown(context.Background())
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

func TestMessagingLifecycle(t *testing.T) {
	suffix := fmt.Sprintf("%d", time.Now().UnixNano()%1_000_000)
	alice := newBrowser(t)
	bob := newBrowser(t)

	alice.register(t, "alice"+suffix)
	alice.login(t, "alice"+suffix)
	bob.register(t, "bob"+suffix)
	bob.login(t, "bob"+suffix)

	resp, _ := bob.submit(t, "/auth/messages", "/auth/messages/compose", url.Values{
		"message_recipient": {"alice" + suffix},
		"message_subject":   {"Hello from e2e"},
		"message_body":      {"Some *markdown* body"},
	})
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("compose: unexpected status %d", resp.StatusCode)
	}

	_, inbox := alice.get(t, "/auth/messages")
	if !strings.Contains(inbox, "Hello from e2e") {
		t.Fatalf("inbox does not list the new message")
	}
	match := linkPattern.FindStringSubmatch(inbox)
	if match == nil {
		t.Fatalf("inbox has no message link")
	}
	messagePath := match[1]

	_, page := alice.get(t, messagePath)
	if !strings.Contains(page, "<em>markdown</em>") {
		t.Fatalf("message body was not rendered as markdown")
	}

	resp, _ = alice.submit(t, messagePath, messagePath+"/reply", url.Values{"response": {"Got it"}})
	if got := resp.Header.Get("Location"); got != messagePath {
		t.Fatalf("reply: unexpected redirect %q", got)
	}

	_, page = bob.get(t, messagePath)
	if !strings.Contains(page, "Got it") {
		t.Fatalf("sender does not see the reply")
	}

	id := strings.TrimPrefix(messagePath, "/auth/messages/")
	alice.submit(t, "/auth/messages", "/auth/messages/trash", url.Values{"selectedMessages": {id}})
	_, trash := alice.get(t, "/auth/messages/trashed")
	if !strings.Contains(trash, "Hello from e2e") {
		t.Fatalf("trash does not list the message")
	}

	alice.submit(t, "/auth/messages/trashed", "/auth/messages/delete", url.Values{"selectedMessages": {id}})
	resp, _ = alice.get(t, messagePath)
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("deleted message is still visible: status %d", resp.StatusCode)
	}
}

func TestPostWithoutCSRFTokenIsRejected(t *testing.T) {
	b := newBrowser(t)
	resp, err := b.client.PostForm(baseURL+"/auth/login", url.Values{"identifier": {"x"}, "password": {"y"}})
	if err != nil {
		t.Fatalf("post login: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

type browser struct {
	client *http.Client
}

func newBrowser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &browser{client: &http.Client{
		Jar:     jar,
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

func (b *browser) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := b.client.Get(baseURL + path)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return resp, string(body)
}

// submit loads formPage for a CSRF token and posts values to action.
func (b *browser) submit(t *testing.T, formPage, action string, values url.Values) (*http.Response, string) {
	t.Helper()
	_, page := b.get(t, formPage)
	match := csrfPattern.FindStringSubmatch(page)
	if match == nil {
		t.Fatalf("no csrf token on %s", formPage)
	}
	values.Set("gorilla.csrf.Token", match[1])

	req, err := http.NewRequest(http.MethodPost, baseURL+action, strings.NewReader(values.Encode()))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", baseURL+formPage)

	resp, err := b.client.Do(req)
	if err != nil {
		t.Fatalf("post %s: %v", action, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", action, err)
	}
	if resp.StatusCode == http.StatusForbidden {
		t.Fatalf("post %s rejected: %s", action, body)
	}
	return resp, string(body)
}

func (b *browser) register(t *testing.T, username string) {
	t.Helper()
	resp, _ := b.submit(t, "/auth/register", "/auth/register", url.Values{
		"first_name":       {"E2E"},
		"last_name":        {"User"},
		"username":         {username},
		"email":            {username + "@example.com"},
		"password":         {"testpass123"},
		"confirm_password": {"testpass123"},
	})
	if got := resp.Header.Get("Location"); got != "/auth/login" {
		t.Fatalf("register %s: unexpected redirect %q (status %d)", username, got, resp.StatusCode)
	}
}

func (b *browser) login(t *testing.T, username string) {
	t.Helper()
	resp, _ := b.submit(t, "/auth/login", "/auth/login", url.Values{
		"identifier": {username},
		"password":   {"testpass123"},
	})
	if got := resp.Header.Get("Location"); got != "/" {
		t.Fatalf("login %s: unexpected redirect %q (status %d)", username, got, resp.StatusCode)
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func startServer(dbPath string) (*server.Server, error) {
	_ = os.Setenv("SESSION_SECRET", "test-secret")
	_ = os.Setenv("SECURE_COOKIES", "false")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("DB_DRIVER", "sqlite3")
	_ = os.Setenv("DB_PATH", dbPath)
	_ = os.Setenv("DB_AUTO_MIGRATE", "true")
	_ = os.Setenv("MQ_BACKEND", "local")
	_ = os.Setenv("SEARCH_BACKEND", "none")
	_ = os.Setenv("AUTH_RATE_PER_MINUTE", "600")
	_ = os.Setenv("AUTH_RATE_BURST", "100")

	cfg := config.LoadConfig()
	srv, err := server.New(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}
