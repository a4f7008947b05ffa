package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teranos/dmypyls/config"
	dmypytest "github.com/teranos/dmypyls/internal/testing"
	"github.com/teranos/dmypyls/worker"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"go.uber.org/zap"
)

const suggestOutput = `Callsites for pkg.foo.helper:
  /src/pkg/main.py:30: helper(1, "x") at /src/pkg/foo.py:12:5
`

func newTestServer(t *testing.T, exec *dmypytest.FakeExecutor, mutate func(cfg *config.Config)) *Server {
	t.Helper()

	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	srv, err := New(Options{
		Config: cfg,
		NewExecutor: func(string, *zap.SugaredLogger) worker.Executor {
			return exec
		},
		Logger: zap.NewNop().Sugar(),
	})
	require.NoError(t, err)
	return srv
}

// testClient is the editor side of a net.Pipe session
type testClient struct {
	conn *jsonrpc2.Conn
	done chan error

	mu   sync.Mutex
	logs []protocol.LogMessageParams
}

func connect(t *testing.T, srv *Server) *testClient {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	serverEnd, clientEnd := net.Pipe()
	c := &testClient{done: make(chan error, 1)}
	go func() { c.done <- srv.ServeStream(ctx, "pipe", serverEnd) }()

	c.conn = jsonrpc2.NewConn(ctx, jsonrpc2.NewBufferedStream(clientEnd, jsonrpc2.VSCodeObjectCodec{}), jsonrpc2.HandlerWithError(c.handle))
	t.Cleanup(func() { _ = c.conn.Close() })
	return c
}

func (c *testClient) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	if req.Method == string(protocol.ServerWindowLogMessage) && req.Params != nil {
		var params protocol.LogMessageParams
		if err := json.Unmarshal(*req.Params, &params); err == nil {
			c.mu.Lock()
			c.logs = append(c.logs, params)
			c.mu.Unlock()
		}
	}
	return nil, nil
}

func (c *testClient) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.logs))
	for i, l := range c.logs {
		out[i] = l.Message
	}
	return out
}

func (c *testClient) call(t *testing.T, method string, params any, result any) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), dmypytest.Timeout)
	defer cancel()
	return c.conn.Call(ctx, method, params, result)
}

func (c *testClient) notify(t *testing.T, method string, params any) {
	t.Helper()
	require.NoError(t, c.conn.Notify(context.Background(), method, params))
}

func (c *testClient) initialize(t *testing.T, rootURI string) map[string]any {
	t.Helper()
	params := map[string]any{
		"processId":    nil,
		"rootUri":      rootURI,
		"capabilities": map[string]any{},
		"clientInfo":   map[string]any{"name": "TestClient", "version": "1.0"},
	}
	if rootURI == "" {
		params["rootUri"] = nil
	}

	var result map[string]any
	require.NoError(t, c.call(t, "initialize", params, &result))
	c.notify(t, "initialized", map[string]any{})
	return result
}

// sync waits until every message sent so far has been handled. Requests and
// notifications are handled in order, and unknown methods are answered inline.
func (c *testClient) sync(t *testing.T) {
	t.Helper()
	err := c.call(t, "dmypyls/sync", nil, nil)
	require.Error(t, err)
}

func definitionParams(uri string, line, character int) map[string]any {
	return map[string]any{
		"textDocument": map[string]any{"uri": uri},
		"position":     map[string]any{"line": line, "character": character},
	}
}

func TestInitializeAdvertisesCapabilities(t *testing.T) {
	exec := dmypytest.NewFakeExecutor()
	client := connect(t, newTestServer(t, exec, nil))

	result := client.initialize(t, "file:///src")

	caps := result["capabilities"].(map[string]any)
	assert.Equal(t, true, caps["definitionProvider"])

	textSync := caps["textDocumentSync"].(map[string]any)
	assert.Equal(t, true, textSync["openClose"])
	assert.Equal(t, float64(protocol.TextDocumentSyncKindFull), textSync["change"])
	assert.NotNil(t, textSync["save"])

	commands := caps["executeCommandProvider"].(map[string]any)["commands"].([]any)
	assert.ElementsMatch(t, []any{CommandCheck, CommandRecheck, CommandRestart, CommandHealth}, commands)

	info := result["serverInfo"].(map[string]any)
	assert.Equal(t, "dmypyls", info["name"])

	exec.WaitForCalls(t, 2)
	assert.Equal(t, []string{
		"dmypy --version",
		"dmypy run --log-file dmypy.log -- /src --follow-imports=skip",
	}, exec.Lines())
}

func TestInitializeWithoutRootStartsNothing(t *testing.T) {
	exec := dmypytest.NewFakeExecutor()
	client := connect(t, newTestServer(t, exec, nil))

	result := client.initialize(t, "")

	caps, _ := result["capabilities"].(map[string]any)
	assert.Nil(t, caps["definitionProvider"])
	assert.Empty(t, exec.Calls())
}

func TestDefinitionBeforeReadyIsNull(t *testing.T) {
	exec := dmypytest.NewFakeExecutor()
	release := exec.Hold(worker.SubcommandRun)
	defer release()
	client := connect(t, newTestServer(t, exec, nil))
	client.initialize(t, "file:///src")

	var loc *protocol.Location
	require.NoError(t, client.call(t, "textDocument/definition", definitionParams("file:///src/pkg/main.py", 29, 4), &loc))
	assert.Nil(t, loc)

	for _, cmd := range exec.Calls() {
		assert.NotEqual(t, worker.SubcommandSuggest, cmd.Subcommand)
	}
}

func TestDefinitionResolvesLocation(t *testing.T) {
	exec := dmypytest.NewFakeExecutor()
	exec.SetResult(worker.SubcommandSuggest, worker.Result{Stdout: suggestOutput})
	srv := newTestServer(t, exec, nil)
	client := connect(t, srv)
	client.initialize(t, "file:///src")

	require.Eventually(t, func() bool {
		_, ok := srv.Health()
		return ok && len(srv.Sessions()) == 1 && srv.Sessions()[0].Coordinator.Health().Ready
	}, dmypytest.Timeout, dmypytest.Tick)

	var loc *protocol.Location
	require.NoError(t, client.call(t, "textDocument/definition", definitionParams("file:///src/pkg/main.py", 29, 4), &loc))
	require.NotNil(t, loc)
	assert.Equal(t, "file:///src/pkg/foo.py", loc.URI)
	assert.Equal(t, protocol.UInteger(11), loc.Range.Start.Line)
	assert.Equal(t, protocol.UInteger(4), loc.Range.Start.Character)
	assert.Equal(t, loc.Range.Start, loc.Range.End)

	assert.Contains(t, exec.Lines(), "dmypy suggest --callsites '/src/pkg/main.py 30 5'")
}

func TestMalformedDefinitionIsAnError(t *testing.T) {
	exec := dmypytest.NewFakeExecutor()
	exec.SetResult(worker.SubcommandSuggest, worker.Result{Stdout: "x at /src/x.py:abc:5\n"})
	srv := newTestServer(t, exec, nil)
	client := connect(t, srv)
	client.initialize(t, "file:///src")
	require.Eventually(t, func() bool {
		sessions := srv.Sessions()
		return len(sessions) == 1 && sessions[0].Coordinator.Health().Ready
	}, dmypytest.Timeout, dmypytest.Tick)

	var loc *protocol.Location
	err := client.call(t, "textDocument/definition", definitionParams("file:///src/main.py", 0, 0), &loc)
	require.Error(t, err)

	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(jsonrpc2.CodeInternalError), rpcErr.Code)
}

func TestDidSaveRechecksOnceReady(t *testing.T) {
	exec := dmypytest.NewFakeExecutor()
	release := exec.Hold(worker.SubcommandRun)
	srv := newTestServer(t, exec, nil)
	client := connect(t, srv)
	client.initialize(t, "file:///src")

	// Saved before ready, dropped under the recheck policy
	client.notify(t, "textDocument/didSave", map[string]any{"textDocument": map[string]any{"uri": "file:///src/a.py"}})
	client.sync(t)
	release()

	require.Eventually(t, func() bool {
		sessions := srv.Sessions()
		return len(sessions) == 1 && sessions[0].Coordinator.Health().Ready
	}, dmypytest.Timeout, dmypytest.Tick)

	client.notify(t, "textDocument/didSave", map[string]any{"textDocument": map[string]any{"uri": "file:///src/a.py"}})
	exec.WaitForCalls(t, 3)

	assert.Equal(t, []string{
		worker.SubcommandVersion,
		worker.SubcommandRun,
		worker.SubcommandRecheck,
	}, exec.Subcommands())
}

func TestDidSaveQueuesUnderCheckPolicy(t *testing.T) {
	exec := dmypytest.NewFakeExecutor()
	release := exec.Hold(worker.SubcommandRun)
	srv := newTestServer(t, exec, func(cfg *config.Config) { cfg.Analysis.OnSave = "check" })
	client := connect(t, srv)
	client.initialize(t, "file:///src")

	client.notify(t, "textDocument/didSave", map[string]any{"textDocument": map[string]any{"uri": "file:///src/a.py"}})
	client.notify(t, "textDocument/didSave", map[string]any{"textDocument": map[string]any{"uri": "file:///src/b.py"}})

	require.Eventually(t, func() bool {
		sessions := srv.Sessions()
		return len(sessions) == 1 && sessions[0].Coordinator.Health().QueuedPaths == 2
	}, dmypytest.Timeout, dmypytest.Tick)

	release()
	exec.WaitForCalls(t, 4)
	assert.Equal(t, "dmypy check -- /src/a.py", exec.Lines()[2])
	assert.Equal(t, "dmypy check -- /src/b.py", exec.Lines()[3])
}

func TestExecuteCommands(t *testing.T) {
	exec := dmypytest.NewFakeExecutor()
	exec.SetResult(worker.SubcommandVersion, worker.Result{Stdout: "dmypy 1.10.0 (compiled: yes)\n"})
	srv := newTestServer(t, exec, nil)
	client := connect(t, srv)
	client.initialize(t, "file:///src")
	require.Eventually(t, func() bool {
		sessions := srv.Sessions()
		return len(sessions) == 1 && sessions[0].Coordinator.Health().Ready
	}, dmypytest.Timeout, dmypytest.Tick)

	var health map[string]any
	require.NoError(t, client.call(t, "workspace/executeCommand", map[string]any{"command": CommandHealth}, &health))
	assert.Equal(t, "ready", health["state"])
	assert.Equal(t, "1.10.0", health["worker_version"])

	var checked map[string]bool
	require.NoError(t, client.call(t, "workspace/executeCommand", map[string]any{
		"command":   CommandCheck,
		"arguments": []any{"file:///src/a.py"},
	}, &checked))
	assert.False(t, checked["queued"])

	require.NoError(t, client.call(t, "workspace/executeCommand", map[string]any{"command": CommandRecheck}, nil))

	err := client.call(t, "workspace/executeCommand", map[string]any{"command": CommandCheck}, nil)
	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(jsonrpc2.CodeInvalidParams), rpcErr.Code)

	err = client.call(t, "workspace/executeCommand", map[string]any{"command": "dmypy.lint"}, nil)
	require.ErrorAs(t, err, &rpcErr)
	assert.Contains(t, rpcErr.Message, "unknown command")

	require.NoError(t, client.call(t, "workspace/executeCommand", map[string]any{"command": CommandRestart}, nil))
	require.Eventually(t, func() bool {
		return strings.Join(exec.Subcommands(), ",") == "version,run,check,recheck,stop,version,run"
	}, dmypytest.Timeout, dmypytest.Tick, "got %v", exec.Subcommands())
}

func TestShutdownAndExitStopWorker(t *testing.T) {
	exec := dmypytest.NewFakeExecutor()
	srv := newTestServer(t, exec, nil)
	client := connect(t, srv)
	client.initialize(t, "file:///src")
	exec.WaitForCalls(t, 2)

	require.NoError(t, client.call(t, "shutdown", nil, nil))
	client.notify(t, "exit", nil)

	select {
	case err := <-client.done:
		assert.NoError(t, err)
	case <-time.After(dmypytest.Timeout):
		t.Fatal("session did not end after exit")
	}

	exec.WaitForCalls(t, 3)
	assert.Equal(t, "dmypy stop", exec.Lines()[2])
	assert.Empty(t, srv.Sessions())

	// Exit after shutdown must not stop twice
	assert.Len(t, exec.Calls(), 3)
}

func TestUnknownMethod(t *testing.T) {
	client := connect(t, newTestServer(t, dmypytest.NewFakeExecutor(), nil))
	client.initialize(t, "file:///src")

	err := client.call(t, "textDocument/hover", definitionParams("file:///src/a.py", 0, 0), nil)
	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(jsonrpc2.CodeMethodNotFound), rpcErr.Code)
}

func TestWorkerLogsReachClient(t *testing.T) {
	exec := dmypytest.NewFakeExecutor()
	client := connect(t, newTestServer(t, exec, nil))
	client.initialize(t, "file:///src")

	require.Eventually(t, func() bool {
		for _, m := range client.messages() {
			if strings.Contains(m, "initializing") {
				return true
			}
		}
		return false
	}, dmypytest.Timeout, dmypytest.Tick, "got %v", client.messages())
}

func TestLogsNotForwardedWhenDisabled(t *testing.T) {
	exec := dmypytest.NewFakeExecutor()
	srv := newTestServer(t, exec, func(cfg *config.Config) { cfg.Log.ForwardToClient = false })
	client := connect(t, srv)
	client.initialize(t, "file:///src")
	exec.WaitForCalls(t, 2)

	require.NoError(t, client.call(t, "shutdown", nil, nil))
	assert.Empty(t, client.messages())
}

func TestWebSocketLifecycle(t *testing.T) {
	exec := dmypytest.NewFakeExecutor()
	srv := newTestServer(t, exec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	testServer := httptest.NewServer(srv.WebSocketHandler(ctx))
	defer testServer.Close()

	wsURL := "ws" + strings.TrimPrefix(testServer.URL, "http")
	dialer := websocket.Dialer{}
	conn, _, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]any{
			"processId":    nil,
			"rootUri":      "file:///src",
			"capabilities": map[string]any{},
		},
	}))

	// Log notifications may arrive before the response
	var response map[string]any
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if _, ok := msg["id"]; ok {
			response = msg
			break
		}
	}

	assert.Equal(t, "2.0", response["jsonrpc"])
	assert.Equal(t, float64(1), response["id"])
	result := response["result"].(map[string]any)
	assert.Equal(t, true, result["capabilities"].(map[string]any)["definitionProvider"])

	exec.WaitForCalls(t, 2)
	sessions := srv.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, TransportWebSocket, sessions[0].Transport)
}

func TestServeListener(t *testing.T) {
	exec := dmypytest.NewFakeExecutor()
	srv := newTestServer(t, exec, nil)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.ServeListener(ctx, listener) }()

	socket, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	conn := jsonrpc2.NewConn(ctx, jsonrpc2.NewBufferedStream(socket, jsonrpc2.VSCodeObjectCodec{}),
		jsonrpc2.HandlerWithError(func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (any, error) { return nil, nil }))
	defer conn.Close()

	var result map[string]any
	require.NoError(t, conn.Call(ctx, "initialize", map[string]any{
		"rootUri":      "file:///src",
		"capabilities": map[string]any{},
	}, &result))
	assert.Contains(t, result, "capabilities")

	require.Eventually(t, func() bool {
		sessions := srv.Sessions()
		return len(sessions) == 1 && sessions[0].Transport == TransportTCP
	}, dmypytest.Timeout, dmypytest.Tick)

	cancel()
	assert.NoError(t, <-served)
}

func TestHealthReportsUnreadySessions(t *testing.T) {
	exec := dmypytest.NewFakeExecutor()
	release := exec.Hold(worker.SubcommandRun)
	srv := newTestServer(t, exec, nil)

	_, ok := srv.Health()
	assert.True(t, ok, "no sessions is healthy")

	client := connect(t, srv)
	client.initialize(t, "file:///src")

	_, ok = srv.Health()
	assert.False(t, ok)

	release()
	require.Eventually(t, func() bool {
		_, ok := srv.Health()
		return ok
	}, dmypytest.Timeout, dmypytest.Tick)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Analysis.OnSave = "lint"
	_, err := New(Options{Config: cfg, Logger: zap.NewNop().Sugar()})
	assert.Error(t, err)
}

// countingObserver records the worker states its session reports
type countingObserver struct {
	mu     sync.Mutex
	states []worker.State
}

func (o *countingObserver) CommandStarted(worker.Command, time.Duration)  {}
func (o *countingObserver) CommandFinished(worker.Command, worker.Result) {}
func (o *countingObserver) QueueDepth(int)                                {}
func (o *countingObserver) DefinitionResolved(string)                     {}

func (o *countingObserver) WorkerState(state worker.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func (o *countingObserver) last() worker.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.states) == 0 {
		return worker.StateNotStarted
	}
	return o.states[len(o.states)-1]
}

func TestEverySessionGetsItsOwnObserver(t *testing.T) {
	exec := dmypytest.NewFakeExecutor()

	var mu sync.Mutex
	observers := map[string]*countingObserver{}
	released := map[string]bool{}

	cfg := config.Default()
	srv, err := New(Options{
		Config: cfg,
		NewExecutor: func(string, *zap.SugaredLogger) worker.Executor {
			return exec
		},
		Observers: func(session string) (Observer, func()) {
			mu.Lock()
			defer mu.Unlock()
			o := &countingObserver{}
			observers[session] = o
			return o, func() {
				mu.Lock()
				defer mu.Unlock()
				released[session] = true
			}
		},
		Logger: zap.NewNop().Sugar(),
	})
	require.NoError(t, err)

	first := connect(t, srv)
	first.initialize(t, "file:///src/a")
	second := connect(t, srv)
	second.initialize(t, "file:///src/b")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(observers) == 2 &&
			observers["conn-1"].last() == worker.StateReady &&
			observers["conn-2"].last() == worker.StateReady
	}, dmypytest.Timeout, dmypytest.Tick)

	require.NoError(t, first.conn.Close())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return released["conn-1"] && !released["conn-2"]
	}, dmypytest.Timeout, dmypytest.Tick)
}
