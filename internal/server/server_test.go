package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/reclabs/recbridge/internal/config"
	encryption "github.com/reclabs/recbridge/internal/crypto"
	"github.com/reclabs/recbridge/internal/events"
	"github.com/reclabs/recbridge/internal/transfer"
)

func setTempHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("USERPROFILE", dir)
	return dir
}

func writeEntity(w http.ResponseWriter, entity interface{}) {
	raw, _ := json.Marshal(entity)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"entity":      json.RawMessage(raw),
		"message":     "",
		"status_code": 200,
	})
}

// newFakeRecAPI serves the Rec endpoints the service touches during these
// tests: the login exchange, identity, and a small personal disk holding one
// file at /cloud/report.pdf.
func newFakeRecAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/client/tempticket", func(w http.ResponseWriter, r *http.Request) {
		writeEntity(w, map[string]string{"tempticket": "T"})
	})
	mux.HandleFunc("/client/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			EncryptedData string `json:"encrypted_data"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		payload, err := encryption.DecryptLogin(body.EncryptedData)
		if err != nil {
			http.Error(w, "bad ciphertext", http.StatusBadRequest)
			return
		}
		var creds struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.Unmarshal(payload, &creds); err != nil || creds.Password != "secret" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		writeEntity(w, map[string]string{
			"x_auth_token":  "tok",
			"refresh_token": "refresh",
			"user_number":   "u-1",
			"username":      creds.Username,
			"real_name":     "Alice Liddell",
			"email":         "alice@example.com",
		})
	})
	mux.HandleFunc("/user/info", func(w http.ResponseWriter, r *http.Request) {
		writeEntity(w, map[string]string{
			"user_number": "u-1",
			"username":    "alice",
			"real_name":   "Alice Liddell",
			"email":       "alice@example.com",
		})
	})
	mux.HandleFunc("/folder/content/0", func(w http.ResponseWriter, r *http.Request) {
		writeEntity(w, map[string]interface{}{
			"total": 1,
			"datas": []map[string]interface{}{
				{"number": "f1", "name": "report", "file_ext": "pdf", "type": "file", "bytes": 512},
			},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// newTestService brings the REST surface up over the fake Rec API.
func newTestService(t *testing.T) *httptest.Server {
	t.Helper()
	recAPI := newFakeRecAPI(t)

	cfg := config.DefaultService()
	cfg.RecBaseURL = recAPI.URL

	bus := events.NewBus(64)
	t.Cleanup(bus.Close)
	svc := New(cfg, bus, nil)

	srv := httptest.NewServer(svc.Router())
	t.Cleanup(srv.Close)
	return srv
}

// call performs one JSON request and decodes the response body into out when
// it is non-nil.
func call(t *testing.T, method, url, sessionID string, body, out interface{}) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionID != "" {
		req.Header.Set("X-Session-ID", sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			t.Fatalf("%s %s: decoding response: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func login(t *testing.T, base string) string {
	t.Helper()
	var out struct {
		SessionID string `json:"sessionId"`
		User      struct {
			Username string `json:"username"`
		} `json:"user"`
	}
	code := call(t, http.MethodPost, base+"/login", "", map[string]string{
		"recAccount":  "alice",
		"recPassword": "secret",
	}, &out)
	if code != http.StatusOK {
		t.Fatalf("login status = %d", code)
	}
	if out.SessionID == "" || out.User.Username != "alice" {
		t.Fatalf("login response = %+v", out)
	}
	return out.SessionID
}

func TestHealth(t *testing.T) {
	setTempHome(t)
	base := newTestService(t).URL

	var out struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	if code := call(t, http.MethodGet, base+"/health", "", nil, &out); code != http.StatusOK {
		t.Fatalf("health status = %d", code)
	}
	if out.Status != "ok" || out.Version == "" {
		t.Errorf("health body = %+v", out)
	}
}

func TestLoginLogout(t *testing.T) {
	setTempHome(t)
	base := newTestService(t).URL
	sid := login(t, base)

	var pwd struct {
		Path string `json:"path"`
	}
	if code := call(t, http.MethodGet, base+"/rec/pwd", sid, nil, &pwd); code != http.StatusOK {
		t.Fatalf("rec/pwd status = %d", code)
	}
	if pwd.Path != "/" {
		t.Errorf("initial rec cwd = %q, want /", pwd.Path)
	}

	if code := call(t, http.MethodPost, base+"/logout", sid, nil, nil); code != http.StatusOK {
		t.Fatalf("logout status = %d", code)
	}
	if code := call(t, http.MethodGet, base+"/rec/pwd", sid, nil, nil); code != http.StatusUnauthorized {
		t.Errorf("rec/pwd after logout = %d, want 401", code)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	setTempHome(t)
	base := newTestService(t).URL

	code := call(t, http.MethodPost, base+"/login", "", map[string]string{
		"recAccount":  "alice",
		"recPassword": "wrong",
	}, nil)
	if code != http.StatusUnauthorized {
		t.Errorf("login with bad password = %d, want 401", code)
	}
}

func TestSessionRequired(t *testing.T) {
	setTempHome(t)
	base := newTestService(t).URL

	for _, path := range []string{"/transfers", "/rec/pwd", "/local/pwd", "/pandav/pwd"} {
		if code := call(t, http.MethodGet, base+path, "", nil, nil); code != http.StatusUnauthorized {
			t.Errorf("GET %s without session = %d, want 401", path, code)
		}
	}
	if code := call(t, http.MethodGet, base+"/rec/pwd", "bogus-session", nil, nil); code != http.StatusUnauthorized {
		t.Errorf("stale session = %d, want 401", code)
	}
}

func TestRecListThroughREST(t *testing.T) {
	setTempHome(t)
	base := newTestService(t).URL
	sid := login(t, base)

	var out struct {
		Entries []struct {
			Name string `json:"name"`
			Size int64  `json:"size"`
		} `json:"entries"`
	}
	if code := call(t, http.MethodGet, base+"/rec/list?path=/cloud", sid, nil, &out); code != http.StatusOK {
		t.Fatalf("rec/list status = %d", code)
	}
	if len(out.Entries) != 1 || out.Entries[0].Name != "report.pdf" || out.Entries[0].Size != 512 {
		t.Errorf("rec/list entries = %+v", out.Entries)
	}
}

func TestTransferValidationFailure(t *testing.T) {
	setTempHome(t)
	base := newTestService(t).URL
	sid := login(t, base)

	var created struct {
		TaskID string `json:"taskId"`
	}
	code := call(t, http.MethodPost, base+"/transfer/create", sid, map[string]string{
		"srcPath":      "/cloud/ghost.bin",
		"destPath":     ".",
		"transferType": "disk",
	}, &created)
	if code != http.StatusOK || created.TaskID == "" {
		t.Fatalf("create status = %d, body %+v", code, created)
	}

	// The source does not exist, so start fails synchronously and the task
	// lands in failed.
	if code := call(t, http.MethodPost, base+"/transfer/"+created.TaskID+"/start", sid, nil, nil); code != http.StatusBadRequest {
		t.Fatalf("start of invalid transfer = %d, want 400", code)
	}

	var snap transfer.Snapshot
	if code := call(t, http.MethodGet, base+"/transfer/"+created.TaskID+"/status", sid, nil, &snap); code != http.StatusOK {
		t.Fatalf("status read = %d", code)
	}
	if snap.Status != transfer.StatusFailed || snap.Error == "" {
		t.Errorf("snapshot = %+v, want a failed task with an error", snap)
	}

	// A terminal status read schedules eviction; the task disappears shortly
	// after.
	deadline := time.Now().Add(3 * time.Second)
	for {
		code := call(t, http.MethodGet, base+"/transfer/"+created.TaskID, sid, nil, nil)
		if code == http.StatusNotFound {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("terminal task was not evicted after the status read")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestTransferCreateValidation(t *testing.T) {
	setTempHome(t)
	base := newTestService(t).URL
	sid := login(t, base)

	// Missing paths.
	code := call(t, http.MethodPost, base+"/transfer/create", sid, map[string]string{
		"srcPath":      "",
		"destPath":     "",
		"transferType": "disk",
	}, nil)
	if code != http.StatusBadRequest {
		t.Errorf("create without paths = %d, want 400", code)
	}

	// Type outside the enum is rejected before the handler runs.
	code = call(t, http.MethodPost, base+"/transfer/create", sid, map[string]string{
		"srcPath":      "/cloud",
		"destPath":     ".",
		"transferType": "teleport",
	}, nil)
	if code < http.StatusBadRequest {
		t.Errorf("create with unknown type = %d, want a 4xx", code)
	}

	// WebDAV transfers need stored credentials.
	code = call(t, http.MethodPost, base+"/transfer/create", sid, map[string]string{
		"srcPath":      "/cloud",
		"destPath":     "/",
		"transferType": "webdav",
	}, nil)
	if code != http.StatusForbidden {
		t.Errorf("webdav create without credentials = %d, want 403", code)
	}
}

func TestTransferUnknownTask(t *testing.T) {
	setTempHome(t)
	base := newTestService(t).URL
	sid := login(t, base)

	if code := call(t, http.MethodGet, base+"/transfer/no-such-task", sid, nil, nil); code != http.StatusNotFound {
		t.Errorf("get unknown task = %d, want 404", code)
	}
	if code := call(t, http.MethodPost, base+"/transfer/no-such-task/start", sid, nil, nil); code != http.StatusNotFound {
		t.Errorf("start unknown task = %d, want 404", code)
	}
}

func TestTransferSessionIsolation(t *testing.T) {
	setTempHome(t)
	base := newTestService(t).URL
	sid1 := login(t, base)
	sid2 := login(t, base)

	var created struct {
		TaskID string `json:"taskId"`
	}
	code := call(t, http.MethodPost, base+"/transfer/create", sid1, map[string]string{
		"srcPath":      "/cloud/report.pdf",
		"destPath":     ".",
		"transferType": "disk",
	}, &created)
	if code != http.StatusOK {
		t.Fatalf("create status = %d", code)
	}

	// Another session cannot see the task.
	if code := call(t, http.MethodGet, base+"/transfer/"+created.TaskID, sid2, nil, nil); code != http.StatusNotFound {
		t.Errorf("cross-session get = %d, want 404", code)
	}

	var list struct {
		Tasks []transfer.Snapshot `json:"tasks"`
	}
	if code := call(t, http.MethodGet, base+"/transfers", sid2, nil, &list); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if len(list.Tasks) != 0 {
		t.Errorf("stranger sees %d tasks, want 0", len(list.Tasks))
	}
	if code := call(t, http.MethodGet, base+"/transfers", sid1, nil, &list); code != http.StatusOK {
		t.Fatalf("owner list status = %d", code)
	}
	if len(list.Tasks) != 1 {
		t.Errorf("owner sees %d tasks, want 1", len(list.Tasks))
	}
}

func TestPandavRequiresCredentials(t *testing.T) {
	setTempHome(t)
	base := newTestService(t).URL
	sid := login(t, base)

	if code := call(t, http.MethodGet, base+"/pandav/pwd", sid, nil, nil); code != http.StatusForbidden {
		t.Errorf("pandav/pwd without credentials = %d, want 403", code)
	}
	if code := call(t, http.MethodGet, base+"/pandav/list", sid, nil, nil); code != http.StatusForbidden {
		t.Errorf("pandav/list without credentials = %d, want 403", code)
	}
}

func TestLocalRoutes(t *testing.T) {
	home := setTempHome(t)
	base := newTestService(t).URL
	sid := login(t, base)

	var pwd struct {
		Path string `json:"path"`
	}
	if code := call(t, http.MethodGet, base+"/local/pwd", sid, nil, &pwd); code != http.StatusOK {
		t.Fatalf("local/pwd status = %d", code)
	}
	if pwd.Path != home {
		t.Errorf("local cwd = %q, want the home dir %q", pwd.Path, home)
	}

	sub := t.TempDir()
	if code := call(t, http.MethodPost, base+"/local/cd", sid, map[string]string{"path": sub}, &pwd); code != http.StatusOK {
		t.Fatalf("local/cd status = %d", code)
	}
	if pwd.Path != sub {
		t.Errorf("cwd after cd = %q, want %q", pwd.Path, sub)
	}

	var list struct {
		Entries []struct {
			Name string `json:"name"`
		} `json:"entries"`
	}
	if code := call(t, http.MethodGet, base+"/local/list", sid, nil, &list); code != http.StatusOK {
		t.Fatalf("local/list status = %d", code)
	}
	if len(list.Entries) != 0 {
		t.Errorf("empty dir lists %d entries", len(list.Entries))
	}

	if code := call(t, http.MethodPost, base+"/local/cd", sid, map[string]string{"path": "/no/such/dir"}, nil); code != http.StatusBadRequest {
		t.Errorf("cd into missing dir = %d, want 400", code)
	}
}
