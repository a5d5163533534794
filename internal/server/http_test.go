package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/toolgate/toolgate/internal/apperr"
	"github.com/toolgate/toolgate/internal/tools"
)

func testHTTP(t *testing.T) *httptest.Server {
	t.Helper()
	p, _, _, _ := testPipeline(t, 100)
	srv := httptest.NewServer(NewHTTPServer(p, registryOf(p)).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func registryOf(p *Pipeline) *tools.Registry { return p.registry }

func rpc(t *testing.T, srv *httptest.Server, body string, headers map[string]string) (*http.Response, rpcResponse) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/rpc", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp, out
}

func TestHealthz(t *testing.T) {
	srv := testHTTP(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}
}

func TestInitializeAndPing(t *testing.T) {
	srv := testHTTP(t)

	_, out := rpc(t, srv, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, nil)
	if out.Error != nil {
		t.Fatalf("initialize error: %+v", out.Error)
	}
	var init struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	json.Unmarshal(out.Result, &init)
	if init.ProtocolVersion == "" {
		t.Error("no protocol version")
	}

	_, out = rpc(t, srv, `{"jsonrpc":"2.0","id":2,"method":"ping"}`, nil)
	if out.Error != nil {
		t.Fatalf("ping error: %+v", out.Error)
	}
}

func TestToolsListUnauthenticated(t *testing.T) {
	srv := testHTTP(t)
	_, out := rpc(t, srv, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, nil)
	if out.Error != nil {
		t.Fatalf("tools/list error: %+v", out.Error)
	}
	var result struct {
		Tools []tools.Descriptor `json:"tools"`
	}
	json.Unmarshal(out.Result, &result)
	if len(result.Tools) == 0 {
		t.Fatal("empty tool list")
	}
}

func TestToolsCallRequiresAuth(t *testing.T) {
	srv := testHTTP(t)
	_, out := rpc(t, srv, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo"}}`, nil)
	if out.Error == nil {
		t.Fatal("unauthenticated call succeeded")
	}
	var env apperr.Envelope
	if err := json.Unmarshal(out.Error.Data, &env); err != nil {
		t.Fatalf("error data: %v", err)
	}
	if env.Error.Code != apperr.CodeAuthentication {
		t.Errorf("code = %s", env.Error.Code)
	}
	if env.StatusCode != http.StatusUnauthorized {
		t.Errorf("status in envelope = %d", env.StatusCode)
	}
}

func TestToolsCallWithRateHeaders(t *testing.T) {
	srv := testHTTP(t)
	resp, out := rpc(t, srv,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{}}}`,
		map[string]string{"X-API-Key": testKey})
	if out.Error != nil {
		t.Fatalf("call error: %+v", out.Error)
	}
	if resp.Header.Get("X-RateLimit-Limit") == "" {
		t.Error("missing X-RateLimit-Limit")
	}
	if resp.Header.Get("X-RateLimit-Remaining") == "" {
		t.Error("missing X-RateLimit-Remaining")
	}
}

func TestUnknownMethod(t *testing.T) {
	srv := testHTTP(t)
	_, out := rpc(t, srv, `{"jsonrpc":"2.0","id":1,"method":"bogus"}`, nil)
	if out.Error == nil || out.Error.Code != codeMethodNotFound {
		t.Fatalf("unknown method: %+v", out.Error)
	}
}

func TestBadJSONRPCVersion(t *testing.T) {
	srv := testHTTP(t)
	_, out := rpc(t, srv, `{"jsonrpc":"1.0","id":1,"method":"ping"}`, nil)
	if out.Error == nil || out.Error.Code != codeInvalidRequest {
		t.Fatalf("bad version: %+v", out.Error)
	}
}
