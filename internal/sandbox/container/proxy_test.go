package container

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardingProxyRelaysRequests(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Write(append([]byte("echo:"), body...))
	}))
	defer upstream.Close()

	proxy, err := newForwardingProxy(upstream.Listener.Addr().String())
	require.NoError(t, err)
	defer proxy.close()

	resp, err := http.Post("http://"+proxy.addr+"/llm_query", "application/json", strings.NewReader("hi"))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "echo:hi", string(body))
}

func TestForwardingProxyRetarget(t *testing.T) {
	upstream2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("second"))
	}))
	defer upstream2.Close()

	upstream1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("first"))
	}))
	defer upstream1.Close()

	proxy, err := newForwardingProxy(upstream1.Listener.Addr().String())
	require.NoError(t, err)
	defer proxy.close()

	proxy.retarget(upstream2.Listener.Addr().String())

	resp, err := http.Post("http://"+proxy.addr+"/llm_query", "application/json", strings.NewReader("x"))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "second", string(body))
}
