package http

import (
	"bytes"
	"fmt"
	"github.com/ValentinKolb/mKV/rpc/common"
	"github.com/ValentinKolb/mKV/rpc/transport"
	"io"
	"net"
	"net/http"
	"time"
)

// dialTimeout bounds the reachability check in Connect
const dialTimeout = 5 * time.Second

// NewHttpClientTransport creates a client transport that sends every request as one POST
func NewHttpClientTransport() transport.IRPCClientTransport {
	return &httpClientTransport{}
}

type httpClientTransport struct {
	serverURL string
	client    *http.Client
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *httpClientTransport) Connect(config common.ClientConfig) error {
	if config.Endpoint == "" {
		return fmt.Errorf("no endpoint provided")
	}
	_ = t.Close()

	// Requests dial lazily, so check that the server is reachable like the stream transports do
	addr := hostPort(config.Endpoint)
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", config.Endpoint, err)
	}
	_ = conn.Close()

	// Create client with a single idle connection, requests are sent one at a time
	t.client = &http.Client{
		Timeout: time.Duration(config.TimeoutSecond) * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        1,
			MaxIdleConnsPerHost: 1,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	t.serverURL = "http://" + addr + "/"

	return nil
}

func (t *httpClientTransport) Send(req []byte) ([]byte, error) {
	// Check if the transport is initialized
	if t.client == nil {
		return nil, transport.ErrConnectionClosed
	}

	httpResponse, err := t.client.Post(t.serverURL, "application/octet-stream", bytes.NewReader(req))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrConnectionClosed, err)
	}
	defer func() {
		if err := httpResponse.Body.Close(); err != nil {
			Logger.Errorf("Failed to close response body: %v", err)
		}
	}()

	// Read the response body
	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", transport.ErrConnectionClosed, err)
	}

	// Check if the response status code is OK
	if httpResponse.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http error: %s", httpResponse.Status)
	}

	return body, nil
}

func (t *httpClientTransport) Close() error {
	if t.client != nil {
		t.client.CloseIdleConnections()
	}
	t.client = nil
	return nil
}
