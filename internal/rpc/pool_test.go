package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// rpcServer answers every JSON-RPC request with the given result, echoing
// the request id.
func rpcServer(t *testing.T, result string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID json.RawMessage `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","result":` + result + `,"id":` + string(req.ID) + `}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestPoolRoundRobin(t *testing.T) {
	a := rpcServer(t, "111")
	b := rpcServer(t, "222")

	pool := NewPool([]string{a.URL, b.URL}, Options{}, zap.NewNop())

	slot, err := pool.GetSlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(111), slot)

	slot, err = pool.GetSlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(222), slot)

	slot, err = pool.GetSlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(111), slot, "rotation wraps around")
}

func TestPoolFailsOverOnError(t *testing.T) {
	var badCalls atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		badCalls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(bad.Close)

	good := rpcServer(t, `{"context":{"slot":9},"value":[null]}`)

	pool := NewPool([]string{bad.URL, good.URL}, Options{}, zap.NewNop())

	result, err := pool.GetMultipleAccounts(context.Background(),
		[]solana.PublicKey{solana.NewWallet().PublicKey()})
	require.NoError(t, err, "second endpoint serves the request")
	assert.Equal(t, uint64(9), result.Slot)
	assert.Equal(t, int32(1), badCalls.Load())
}
