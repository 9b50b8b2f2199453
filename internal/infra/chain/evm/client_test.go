package evm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/audiomesh/chainmirror/internal/infra/chain"
)

// rpcServer answers JSON-RPC calls from a method -> result map.
func rpcServer(t *testing.T, results map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		result, ok := results[req.Method]
		if !ok {
			result = nil
		}
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": 1, "result": result,
		})
	}))
}

func TestBlockByHashParsesTransactions(t *testing.T) {
	srv := rpcServer(t, map[string]any{
		"eth_getBlockByHash": map[string]any{
			"hash":       "0xabc",
			"parentHash": "0xdef",
			"number":     "0x10",
			"timestamp":  "0x65000000",
			"transactions": []any{
				map[string]any{
					"hash": "0xt1", "to": "0xAABB", "transactionIndex": "0x0",
				},
				map[string]any{
					"hash": "0xt2", "to": "0xccdd", "transactionIndex": "0x1",
				},
			},
		},
	})
	defer srv.Close()

	client := NewClient(Config{URL: srv.URL})
	block, err := client.BlockByHash(context.Background(), "0xabc")
	if err != nil {
		t.Fatal(err)
	}
	if block.Number != 16 {
		t.Errorf("number = %d, want 16", block.Number)
	}
	if block.ParentHash != "0xdef" {
		t.Errorf("parentHash = %s, want 0xdef", block.ParentHash)
	}
	if len(block.Transactions) != 2 {
		t.Fatalf("got %d transactions, want 2", len(block.Transactions))
	}
	// Recipient addresses are normalized to lowercase for the address book.
	if block.Transactions[0].To != "0xaabb" {
		t.Errorf("to = %s, want lowercased 0xaabb", block.Transactions[0].To)
	}
	if block.Transactions[1].Index != 1 {
		t.Errorf("index = %d, want 1", block.Transactions[1].Index)
	}
}

func TestBlockByHashNotFound(t *testing.T) {
	srv := rpcServer(t, map[string]any{})
	defer srv.Close()

	client := NewClient(Config{URL: srv.URL})
	_, err := client.BlockByHash(context.Background(), "0xmissing")
	if !errors.Is(err, chain.ErrBlockNotFound) {
		t.Fatalf("err = %v, want ErrBlockNotFound", err)
	}
}

func TestTransactionReceiptParsesLogs(t *testing.T) {
	srv := rpcServer(t, map[string]any{
		"eth_getTransactionReceipt": map[string]any{
			"transactionHash":  "0xt1",
			"transactionIndex": "0x2",
			"status":           "0x1",
			"to":               "0xAABB",
			"logs": []any{
				map[string]any{
					"address": "0xAABB",
					"topics":  []any{"UserCreated"},
					"data":    "0x7b7d",
				},
			},
		},
	})
	defer srv.Close()

	client := NewClient(Config{URL: srv.URL})
	receipt, err := client.TransactionReceipt(context.Background(), "0xt1")
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Status != 1 || receipt.TxIndex != 2 {
		t.Errorf("status/index = %d/%d, want 1/2", receipt.Status, receipt.TxIndex)
	}
	if len(receipt.Logs) != 1 || receipt.Logs[0].Topics[0] != "UserCreated" {
		t.Fatalf("logs = %+v, want one UserCreated log", receipt.Logs)
	}
	if receipt.Logs[0].Address != "0xaabb" {
		t.Errorf("log address = %s, want lowercased", receipt.Logs[0].Address)
	}
}

func TestCallSurfacesRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": 1,
			"error": map[string]any{"code": -32000, "message": "header not found"},
		})
	}))
	defer srv.Close()

	client := NewClient(Config{URL: srv.URL})
	_, err := client.LatestBlock(context.Background())
	if err == nil {
		t.Fatal("expected error from rpc error response")
	}
}
