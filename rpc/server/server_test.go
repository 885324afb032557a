package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"github.com/ValentinKolb/mKV/lib/store"
	storetesting "github.com/ValentinKolb/mKV/lib/store/testing"
	"github.com/ValentinKolb/mKV/rpc/client"
	"github.com/ValentinKolb/mKV/rpc/common"
	"github.com/ValentinKolb/mKV/rpc/serializer"
	"github.com/ValentinKolb/mKV/rpc/transport"
	"github.com/ValentinKolb/mKV/rpc/transport/http"
	"github.com/ValentinKolb/mKV/rpc/transport/tcp"
	"github.com/ValentinKolb/mKV/rpc/transport/unix"
	"io"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// freeAddr returns a loopback address with a currently unused port
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find free port: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

// socketPath returns a short unix socket path in a fresh temp dir
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "mkv")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

// waitForServer polls until the server accepts connections
func waitForServer(t *testing.T, network, addr string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, err := net.Dial(network, addr)
		if err == nil {
			_ = conn.Close()
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Server on %s did not start: %v", addr, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// startRPCServer starts a server and stops it when the test ends
func startRPCServer(t *testing.T, network string, config common.ServerConfig, tr transport.IRPCServerTransport, s serializer.IRPCSerializer) *rpcServer {
	t.Helper()

	srv := NewRPCServer(config, tr, s)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()
	waitForServer(t, network, config.Endpoint)

	t.Cleanup(func() {
		if err := srv.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Serve returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("Serve did not return after Close")
		}
	})
	return srv
}

// newClient creates an RPC store client and closes it when the test ends
func newClient(t *testing.T, endpoint string, tr transport.IRPCClientTransport, s serializer.IRPCSerializer) *client.RPCStore {
	t.Helper()
	kv, err := client.NewRPCStore(common.ClientConfig{
		Endpoint:      endpoint,
		TimeoutSecond: 5,
		RetryCount:    1,
	}, tr, s)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

// writeRawFrame writes one request frame without using the client transport
func writeRawFrame(t *testing.T, conn net.Conn, id uint64, payload []byte) {
	t.Helper()
	header := make([]byte, 12)
	binary.BigEndian.PutUint64(header[:8], id)
	binary.BigEndian.PutUint32(header[8:], uint32(len(payload)))
	if _, err := conn.Write(append(header, payload...)); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}
}

// readRawFrame reads one response frame
func readRawFrame(conn net.Conn) (uint64, []byte, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(conn, header); err != nil {
		return 0, nil, err
	}
	payload := make([]byte, binary.BigEndian.Uint32(header[8:]))
	if _, err := io.ReadFull(conn, payload); err != nil {
		return 0, nil, err
	}
	return binary.BigEndian.Uint64(header[:8]), payload, nil
}

// --------------------------------------------------------------------------
// End to end tests
// --------------------------------------------------------------------------

func TestRPCStoreOverTCP(t *testing.T) {
	serializers := map[string]func() serializer.IRPCSerializer{
		"Binary": serializer.NewBinarySerializer,
		"JSON":   serializer.NewJSONSerializer,
		"GOB":    serializer.NewGOBSerializer,
		"Proto":  serializer.NewProtoSerializer,
	}

	for name, newSerializer := range serializers {
		storetesting.RunStoreTests(t, "TCP_"+name, func() store.IStore {
			addr := freeAddr(t)
			startRPCServer(t, "tcp", common.ServerConfig{Endpoint: addr}, tcp.NewTCPDefaultServerTransport(), newSerializer())
			return newClient(t, addr, tcp.NewTCPClientTransport(), newSerializer())
		})
	}
}

func TestRPCStoreOverUnix(t *testing.T) {
	storetesting.RunStoreTests(t, "Unix_Binary", func() store.IStore {
		path := socketPath(t)
		startRPCServer(t, "unix", common.ServerConfig{Endpoint: path}, unix.NewUnixDefaultServerTransport(), serializer.NewBinarySerializer())
		return newClient(t, path, unix.NewUnixClientTransport(), serializer.NewBinarySerializer())
	})
}

func TestRPCStoreOverHTTP(t *testing.T) {
	storetesting.RunStoreTests(t, "HTTP_JSON", func() store.IStore {
		addr := freeAddr(t)
		startRPCServer(t, "tcp", common.ServerConfig{Endpoint: addr}, http.NewHttpServerTransport(), serializer.NewJSONSerializer())
		return newClient(t, addr, http.NewHttpClientTransport(), serializer.NewJSONSerializer())
	})
}

func TestShardedServer(t *testing.T) {
	storetesting.RunStoreTests(t, "Sharded", func() store.IStore {
		addr := freeAddr(t)
		startRPCServer(t, "tcp", common.ServerConfig{Endpoint: addr, Shards: 8}, tcp.NewTCPDefaultServerTransport(), serializer.NewBinarySerializer())
		return newClient(t, addr, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
	})
}

func TestHelloWorldScenario(t *testing.T) {
	addr := freeAddr(t)
	startRPCServer(t, "tcp", common.ServerConfig{Endpoint: addr}, tcp.NewTCPDefaultServerTransport(), serializer.NewBinarySerializer())
	kv := newClient(t, addr, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())

	value, found, err := kv.Get("hello")
	if err != nil || found {
		t.Fatalf("Expected absent before set, got %q (found=%v, err=%v)", value, found, err)
	}
	if err := kv.Set("hello", []byte("world")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value, found, err = kv.Get("hello")
	if err != nil || !found || string(value) != "world" {
		t.Fatalf("Expected world, got %q (found=%v, err=%v)", value, found, err)
	}
}

func TestClientsShareState(t *testing.T) {
	addr := freeAddr(t)
	startRPCServer(t, "tcp", common.ServerConfig{Endpoint: addr}, tcp.NewTCPDefaultServerTransport(), serializer.NewBinarySerializer())
	writer := newClient(t, addr, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
	reader := newClient(t, addr, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())

	// A Get issued after the Set's reply was observed must see the value
	for i := 0; i < 50; i++ {
		v := []byte(fmt.Sprintf("v%d", i))
		if err := writer.Set("shared", v); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, found, err := reader.Get("shared")
		if err != nil || !found || string(got) != string(v) {
			t.Fatalf("Stale read: expected %s, got %q (found=%v, err=%v)", v, got, found, err)
		}
	}
}

func TestNonUTF8KeysStayDistinct(t *testing.T) {
	for _, name := range []string{"binary", "gob", "proto"} {
		t.Run(name, func(t *testing.T) {
			ser, _ := serializer.FromName(name)
			addr := freeAddr(t)
			startRPCServer(t, "tcp", common.ServerConfig{Endpoint: addr}, tcp.NewTCPDefaultServerTransport(), ser)
			kv := newClient(t, addr, tcp.NewTCPClientTransport(), ser)

			if err := kv.Set("\xff", []byte("a")); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			if err := kv.Set("\xfe", []byte("b")); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			value, found, err := kv.Get("\xff")
			if err != nil || !found || string(value) != "a" {
				t.Errorf("Expected a, got %q (found=%v, err=%v)", value, found, err)
			}
		})
	}

	t.Run("json", func(t *testing.T) {
		addr := freeAddr(t)
		startRPCServer(t, "tcp", common.ServerConfig{Endpoint: addr}, tcp.NewTCPDefaultServerTransport(), serializer.NewJSONSerializer())
		kv := newClient(t, addr, tcp.NewTCPClientTransport(), serializer.NewJSONSerializer())

		if err := kv.Set("\xff", []byte("a")); !errors.Is(err, client.ErrUnconfirmed) || !errors.Is(err, serializer.ErrInvalidUTF8) {
			t.Fatalf("Expected ErrInvalidUTF8, got %v", err)
		}
		_, found, err := kv.Get("\uFFFD")
		if err != nil || found {
			t.Errorf("Rejected key must not reach the store (found=%v, err=%v)", found, err)
		}
	})
}

func TestOversizedSetFailsOnlyThatRequest(t *testing.T) {
	addr := freeAddr(t)
	ser := serializer.NewBinarySerializer()
	startRPCServer(t, "tcp", common.ServerConfig{Endpoint: addr}, tcp.NewTCPDefaultServerTransport(), ser)

	// No reconnects, a dropped connection would stop the multiplexer
	kv, err := client.NewRPCStore(common.ClientConfig{Endpoint: addr, TimeoutSecond: 5}, tcp.NewTCPClientTransport(), ser)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer kv.Close()

	err = kv.Set("big", make([]byte, 64*1024*1024+1))
	if !errors.Is(err, client.ErrUnconfirmed) || !errors.Is(err, transport.ErrPayloadTooLarge) {
		t.Fatalf("Expected ErrPayloadTooLarge, got %v", err)
	}

	if err := kv.Set("small", []byte("v")); err != nil {
		t.Fatalf("Set after oversized request failed: %v", err)
	}
	value, found, err := kv.Get("small")
	if err != nil || !found || string(value) != "v" {
		t.Errorf("Expected v, got %q (found=%v, err=%v)", value, found, err)
	}
}

// --------------------------------------------------------------------------
// Connection isolation
// --------------------------------------------------------------------------

func TestUnsupportedCommandClosesOnlyThatConnection(t *testing.T) {
	addr := freeAddr(t)
	ser := serializer.NewBinarySerializer()
	srv := startRPCServer(t, "tcp", common.ServerConfig{Endpoint: addr}, tcp.NewTCPDefaultServerTransport(), ser)
	kv := newClient(t, addr, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())

	// A well-behaved client keeps working in the background
	stop := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			key := fmt.Sprintf("bg-%d", i%10)
			value := []byte(fmt.Sprintf("%d", i))
			if err := kv.Set(key, value); err != nil {
				errs <- err
				return
			}
			got, found, err := kv.Get(key)
			if err != nil || !found || string(got) != string(value) {
				errs <- fmt.Errorf("background client saw %q (found=%v, err=%v)", got, found, err)
				return
			}
		}
	}()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	// A supported command first
	req, _ := ser.Serialize(*common.NewSetRequest("raw", []byte("value")))
	writeRawFrame(t, conn, 1, req)
	if _, _, err := readRawFrame(conn); err != nil {
		t.Fatalf("Failed to read set response: %v", err)
	}

	// Then an unsupported one
	req, _ = ser.Serialize(common.Message{MsgType: common.MessageType(99), Key: "raw"})
	writeRawFrame(t, conn, 2, req)

	id, payload, err := readRawFrame(conn)
	if err != nil {
		t.Fatalf("Expected error response before close, got %v", err)
	}
	if id != 2 {
		t.Errorf("Expected response id 2, got %d", id)
	}
	var resp common.Message
	if err := ser.Deserialize(payload, &resp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if resp.MsgType != common.MsgTError || !strings.Contains(resp.Err, "unimplemented command") {
		t.Errorf("Expected unimplemented command error, got %+v", resp)
	}

	// The server closed this connection
	if _, _, err := readRawFrame(conn); !errors.Is(err, io.EOF) {
		t.Errorf("Expected EOF after unsupported command, got %v", err)
	}

	close(stop)
	wg.Wait()
	select {
	case err := <-errs:
		t.Fatalf("Unrelated client was affected: %v", err)
	default:
	}

	// The shared state is still consistent
	value, found, err := kv.Get("raw")
	if err != nil || !found || string(value) != "value" {
		t.Errorf("Expected value written by the closed connection, got %q (found=%v, err=%v)", value, found, err)
	}
	if stats := srv.Stats(); stats.FatalErrors != 1 {
		t.Errorf("Expected 1 fatal error, got %d", stats.FatalErrors)
	}
}

func TestUndecodableRequestClosesConnection(t *testing.T) {
	addr := freeAddr(t)
	startRPCServer(t, "tcp", common.ServerConfig{Endpoint: addr}, tcp.NewTCPDefaultServerTransport(), serializer.NewBinarySerializer())

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	// One byte is shorter than any binary message header
	writeRawFrame(t, conn, 7, []byte{0x02})

	_, payload, err := readRawFrame(conn)
	if err != nil {
		t.Fatalf("Expected error response, got %v", err)
	}
	var resp common.Message
	if err := serializer.NewBinarySerializer().Deserialize(payload, &resp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if resp.MsgType != common.MsgTError {
		t.Errorf("Expected error response, got %+v", resp)
	}
	if _, _, err := readRawFrame(conn); !errors.Is(err, io.EOF) {
		t.Errorf("Expected EOF after decode failure, got %v", err)
	}
}

func TestClientRecoversAfterServerRejection(t *testing.T) {
	addr := freeAddr(t)
	ser := serializer.NewBinarySerializer()
	startRPCServer(t, "tcp", common.ServerConfig{Endpoint: addr}, tcp.NewTCPDefaultServerTransport(), ser)

	mux, err := client.NewMultiplexer(common.ClientConfig{Endpoint: addr, TimeoutSecond: 5, RetryCount: 2}, tcp.NewTCPClientTransport(), ser)
	if err != nil {
		t.Fatalf("NewMultiplexer failed: %v", err)
	}
	defer mux.Close()

	_, err = mux.Do(context.Background(), &common.Message{MsgType: common.MessageType(42), Key: "k"})
	if !errors.Is(err, client.ErrUnconfirmed) {
		t.Fatalf("Expected ErrUnconfirmed, got %v", err)
	}

	// The multiplexer reconnected, the next request works
	resp, err := mux.Do(context.Background(), common.NewGetRequest("k"))
	if err != nil {
		t.Fatalf("Request after rejection failed: %v", err)
	}
	if resp.Ok {
		t.Errorf("Expected absent key, got %+v", resp)
	}
}

// --------------------------------------------------------------------------
// Misc
// --------------------------------------------------------------------------

func TestServerDefaultEndpoint(t *testing.T) {
	srv := NewRPCServer(common.ServerConfig{}, tcp.NewTCPDefaultServerTransport(), serializer.NewBinarySerializer())
	if srv.config.Endpoint != common.DefaultEndpoint {
		t.Errorf("Expected default endpoint %s, got %s", common.DefaultEndpoint, srv.config.Endpoint)
	}
}

func TestNewStoreFactory(t *testing.T) {
	for _, shards := range []int{0, 1, 4} {
		s := NewStoreFactory(common.ServerConfig{Shards: shards})()
		if err := s.Set("k", []byte("v")); err != nil {
			t.Fatalf("Set failed for %d shards: %v", shards, err)
		}
		v, ok, err := s.Get("k")
		if err != nil || !ok || string(v) != "v" {
			t.Errorf("Store with %d shards returned %q (ok=%v, err=%v)", shards, v, ok, err)
		}
	}
}

func TestMetricsHandler(t *testing.T) {
	countCommand(common.MsgTKVGet)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	MetricsHandler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `mkv_commands_total{type="get"}`) {
		t.Errorf("Expected command counter in output:\n%s", rec.Body.String())
	}
}
