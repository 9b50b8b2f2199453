// Package evm implements chain.Client against an EVM JSON-RPC endpoint.
package evm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/audiomesh/chainmirror/internal/core/domain"
	"github.com/audiomesh/chainmirror/internal/indexing/metrics"
	"github.com/audiomesh/chainmirror/internal/infra/chain"
)

// Config holds client settings.
type Config struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Client is a JSON-RPC client over HTTP.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a client with a pooled HTTP transport.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: cfg.URL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// LatestBlock implements chain.Client.
func (c *Client) LatestBlock(ctx context.Context) (*domain.ChainBlock, error) {
	return c.getBlock(ctx, "eth_getBlockByNumber", []any{"latest", true})
}

// BlockByNumber implements chain.Client.
func (c *Client) BlockByNumber(ctx context.Context, number int64) (*domain.ChainBlock, error) {
	return c.getBlock(ctx, "eth_getBlockByNumber", []any{fmt.Sprintf("0x%x", number), true})
}

// BlockByHash implements chain.Client.
func (c *Client) BlockByHash(ctx context.Context, hash string) (*domain.ChainBlock, error) {
	return c.getBlock(ctx, "eth_getBlockByHash", []any{hash, true})
}

func (c *Client) getBlock(ctx context.Context, method string, params []any) (*domain.ChainBlock, error) {
	result, err := c.call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, chain.ErrBlockNotFound
	}
	raw, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected block format", method)
	}
	return parseBlock(raw)
}

// TransactionReceipt implements chain.Client.
func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (*domain.Receipt, error) {
	result, err := c.call(ctx, "eth_getTransactionReceipt", []any{txHash})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("eth_getTransactionReceipt %s: %w", txHash, chain.ErrBlockNotFound)
	}
	raw, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("eth_getTransactionReceipt: unexpected format")
	}
	return parseReceipt(raw), nil
}

func (c *Client) call(ctx context.Context, method string, params []any) (any, error) {
	start := time.Now()

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RPCErrorsTotal.WithLabelValues(method).Inc()
		return nil, fmt.Errorf("rpc call %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RPCErrorsTotal.WithLabelValues(method).Inc()
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.RPCErrorsTotal.WithLabelValues(method).Inc()
		return nil, fmt.Errorf("rpc call %s: http %d: %s", method, resp.StatusCode, respBody)
	}

	var rpcResp struct {
		Result any `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		metrics.RPCErrorsTotal.WithLabelValues(method).Inc()
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if rpcResp.Error != nil {
		metrics.RPCErrorsTotal.WithLabelValues(method).Inc()
		return nil, fmt.Errorf("rpc call %s: %d %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}

	metrics.RPCLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	return rpcResp.Result, nil
}

func parseBlock(raw map[string]any) (*domain.ChainBlock, error) {
	number, err := parseHex(getString(raw["number"]))
	if err != nil {
		return nil, fmt.Errorf("parse block number: %w", err)
	}
	timestamp, _ := parseHex(getString(raw["timestamp"]))

	block := &domain.ChainBlock{
		Hash:       getString(raw["hash"]),
		ParentHash: getString(raw["parentHash"]),
		Number:     number,
		Timestamp:  timestamp,
	}

	rawTxs, _ := raw["transactions"].([]any)
	for i, rawTx := range rawTxs {
		txData, ok := rawTx.(map[string]any)
		if !ok {
			continue
		}
		index := int64(i)
		if idx, err := parseHex(getString(txData["transactionIndex"])); err == nil {
			index = idx
		}
		block.Transactions = append(block.Transactions, domain.ChainTransaction{
			Hash:  getString(txData["hash"]),
			To:    strings.ToLower(getString(txData["to"])),
			Index: int(index),
		})
	}
	return block, nil
}

func parseReceipt(raw map[string]any) *domain.Receipt {
	status, _ := parseHex(getString(raw["status"]))
	txIndex, _ := parseHex(getString(raw["transactionIndex"]))

	receipt := &domain.Receipt{
		TxHash:  getString(raw["transactionHash"]),
		TxIndex: int(txIndex),
		Status:  status,
		To:      strings.ToLower(getString(raw["to"])),
	}

	rawLogs, _ := raw["logs"].([]any)
	for _, rawLog := range rawLogs {
		logData, ok := rawLog.(map[string]any)
		if !ok {
			continue
		}
		entry := domain.Log{
			Address: strings.ToLower(getString(logData["address"])),
			Data:    getString(logData["data"]),
		}
		if topics, ok := logData["topics"].([]any); ok {
			for _, t := range topics {
				entry.Topics = append(entry.Topics, getString(t))
			}
		}
		receipt.Logs = append(receipt.Logs, entry)
	}
	return receipt
}

func getString(v any) string {
	s, _ := v.(string)
	return s
}

func parseHex(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty hex string")
	}
	return strconv.ParseInt(strings.TrimPrefix(s, "0x"), 16, 64)
}
