package ipc_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"courier/internal/account"
	"courier/internal/commands"
	"courier/internal/ipc"
	"courier/internal/logging"
	"courier/internal/protocol"
	"courier/internal/registry"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startServer(t *testing.T, logs *syncBuffer) (*ipc.Server, string) {
	t.Helper()
	dir := t.TempDir()
	logger := logging.NewNop()
	if logs != nil {
		var err error
		logger, _, err = logging.New(logging.Options{Level: "debug", Format: "json", Writer: logs})
		if err != nil {
			t.Fatalf("logging.New: %v", err)
		}
	}
	reg, err := registry.New(filepath.Join(dir, "data"), func(string, string) (account.Session, error) {
		return nil, errors.New("no sessions in ipc tests")
	}, logger)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	dispatcher, err := commands.NewDispatcher(commands.Options{
		Registry:    reg,
		LinkSession: func() (account.Session, error) { return nil, errors.New("linking disabled") },
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("commands.NewDispatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	socket := filepath.Join(dir, "courier.sock")
	srv, err := ipc.NewServer(ctx, socket, dispatcher, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)
	return srv, socket
}

func dialRaw(t *testing.T, socket string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.DialTimeout("unix", socket, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func readLine(t *testing.T, conn net.Conn, reader *bufio.Reader) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return line
}

func TestMalformedLineGetsNoReply(t *testing.T) {
	logs := &syncBuffer{}
	_, socket := startServer(t, logs)
	conn, reader := dialRaw(t, socket)

	if _, err := conn.Write([]byte("this is not json\n\n   \n{\"type\":\"list_accounts\",\"id\":\"1\"}\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := readLine(t, conn, reader)
	want := `{"type":"account_list","data":[],"id":"1"}` + "\n"
	if got != want {
		t.Fatalf("unexpected response\n got: %q\nwant: %q", got, want)
	}

	deadline := time.Now().Add(time.Second)
	for !strings.Contains(logs.String(), "this is not json") {
		if time.Now().After(deadline) {
			t.Fatalf("decode failure was not logged with the raw line: %s", logs.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRequestWithoutIDGetsReplyWithoutID(t *testing.T) {
	_, socket := startServer(t, nil)
	conn, reader := dialRaw(t, socket)

	if _, err := conn.Write([]byte(`{"type":"list_accounts","extra":{"ignored":true}}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := readLine(t, conn, reader)
	if got != `{"type":"account_list","data":[]}`+"\n" {
		t.Fatalf("unexpected response %q", got)
	}
}

func TestUnsupportedCommandKeepsConnectionOpen(t *testing.T) {
	_, socket := startServer(t, nil)
	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Call(ctx, &protocol.Request{Type: "reboot", ID: []byte(`42`)})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Type != protocol.TypeUnsupportedCommand || string(resp.ID) != "42" {
		t.Fatalf("unexpected response %+v", resp)
	}
	var status protocol.Status
	if err := resp.DecodeData(&status); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if status.Code != protocol.CodeUnsupportedCommand || !status.Error {
		t.Fatalf("unexpected status %+v", status)
	}

	resp, err = client.Call(ctx, &protocol.Request{Type: protocol.TypeDaemonStatus})
	if err != nil {
		t.Fatalf("second Call: %v", err)
	}
	if resp.Type != protocol.TypeDaemonStatusReply {
		t.Fatalf("expected daemon_status, got %s", resp.Type)
	}
}

func TestConnectionsAreIndependent(t *testing.T) {
	_, socket := startServer(t, nil)

	const clients = 8
	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client, err := ipc.Dial(socket)
			if err != nil {
				errs <- err
				return
			}
			defer client.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			for j := 0; j < 5; j++ {
				resp, err := client.Call(ctx, &protocol.Request{Type: protocol.TypeListAccounts})
				if err != nil {
					errs <- err
					return
				}
				if resp.Type != protocol.TypeAccountList {
					errs <- errors.New("unexpected response type " + resp.Type)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("client failed: %v", err)
	}
}

func TestCloseDisconnectsClients(t *testing.T) {
	srv, socket := startServer(t, nil)
	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	defer client.Close()

	deadline := time.Now().Add(time.Second)
	for srv.Connections() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("server never registered the connection")
		}
		time.Sleep(5 * time.Millisecond)
	}

	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := client.Receive(ctx); err == nil {
		t.Fatal("expected receive to fail after server close")
	} else if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("connection was left open after server close")
	}
}

func TestReceiveHonorsContext(t *testing.T) {
	_, socket := startServer(t, nil)
	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestOversizedLineIsDroppedAndConnectionSurvives(t *testing.T) {
	logs := &syncBuffer{}
	_, socket := startServer(t, logs)
	conn, reader := dialRaw(t, socket)

	huge := `{"type":"list_accounts","pad":"` + strings.Repeat("x", ipc.MaxLineSize) + `"}` + "\n"
	go func() {
		_, _ = conn.Write([]byte(huge + `{"type":"list_accounts","id":"after"}` + "\n"))
	}()

	got := readLine(t, conn, reader)
	want := `{"type":"account_list","data":[],"id":"after"}` + "\n"
	if got != want {
		t.Fatalf("unexpected response\n got: %q\nwant: %q", got, want)
	}

	deadline := time.Now().Add(time.Second)
	for !strings.Contains(logs.String(), "request_too_long") {
		if time.Now().After(deadline) {
			t.Fatalf("oversized line was not logged: %s", logs.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
