package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"ToolFlow/internal/provider"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM backed tool provider.
type Config struct {
	Name   string
	RPCURL string
	Notes  string
}

// Client exposes a handful of EVM chain queries as engine tools. It
// implements provider.Client so chain lookups can participate in plans
// alongside calculators and document search.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	reader    chainReader
	mu        sync.Mutex
}

// chainReader mirrors the subset of ethclient methods the tools need,
// so tests can substitute a fake backend.
type chainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

func (c *Client) backend() chainReader {
	if c.reader != nil {
		return c.reader
	}
	if c.eth != nil {
		return c.eth
	}
	return nil
}

// NewSimulatedClient wraps a fake chain backend for testing purposes.
func NewSimulatedClient(name string, reader chainReader) *Client {
	if name == "" {
		name = "ethereum"
	}
	return &Client{name: name, reader: reader, notes: "simulated backend"}
}

// NewClient dials the configured RPC endpoint and returns a ready provider.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "ethereum"
	}

	return &Client{
		name:      name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string { return c.name }

// Tools lists the chain queries exposed to the engine.
func (c *Client) Tools(_ context.Context) ([]provider.ToolDescriptor, error) {
	return []provider.ToolDescriptor{
		{Name: "eth_chainId", Description: "查询链 ID"},
		{Name: "eth_blockNumber", Description: "查询最新区块高度"},
		{Name: "eth_getBalance", Description: "查询地址余额"},
		{Name: "eth_getTransactionCount", Description: "查询地址的交易计数"},
	}, nil
}

// Invoke executes one chain query.
func (c *Client) Invoke(ctx context.Context, tool string, params map[string]any) (any, error) {
	backend := c.backend()
	if backend == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}

	switch tool {
	case "eth_chainId":
		chainID, err := backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("获取链 ID 失败: %w", err)
		}
		return toHexBig(chainID), nil
	case "eth_blockNumber":
		blockNumber, err := backend.BlockNumber(ctx)
		if err != nil {
			return nil, fmt.Errorf("获取最新区块高度失败: %w", err)
		}
		return fmt.Sprintf("0x%x", blockNumber), nil
	case "eth_getBalance":
		addr, err := addressParam(params)
		if err != nil {
			return nil, err
		}
		balance, err := backend.BalanceAt(ctx, addr, nil)
		if err != nil {
			return nil, fmt.Errorf("查询余额失败: %w", err)
		}
		return toHexBig(balance), nil
	case "eth_getTransactionCount":
		addr, err := addressParam(params)
		if err != nil {
			return nil, err
		}
		nonce, err := backend.PendingNonceAt(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("查询交易计数失败: %w", err)
		}
		return fmt.Sprintf("0x%x", nonce), nil
	default:
		return nil, fmt.Errorf("暂不支持的链上操作: %s", tool)
	}
}

// Close releases network connections held by the client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
	return nil
}

func addressParam(params map[string]any) (common.Address, error) {
	raw, _ := params["address"].(string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return common.Address{}, errors.New("需要提供 address 参数")
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("无效的以太坊地址: %s", raw)
	}
	return common.HexToAddress(raw), nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

var _ provider.Client = (*Client)(nil)
