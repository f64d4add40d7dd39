package ethereum

import (
	"context"
	stdErrors "errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

// fakeChain 以固定数据应答链上查询，并记录收到的地址。
type fakeChain struct {
	chainID     *big.Int
	blockNumber uint64
	balance     *big.Int
	nonce       uint64
	lastAddress common.Address
	err         error
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) {
	return f.chainID, f.err
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	return f.blockNumber, f.err
}

func (f *fakeChain) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	f.lastAddress = account
	return f.balance, f.err
}

func (f *fakeChain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	f.lastAddress = account
	return f.nonce, f.err
}

const testAddress = "0x71C7656EC7ab88b098defB751B7401B5f6d8976F"

func TestChainQueries(t *testing.T) {
	chain := &fakeChain{
		chainID:     big.NewInt(11155111),
		blockNumber: 0x1234,
		balance:     big.NewInt(1_000_000_000),
		nonce:       7,
	}
	client := NewSimulatedClient("sepolia", chain)
	ctx := context.Background()

	cases := []struct {
		tool   string
		params map[string]any
		want   string
	}{
		{"eth_chainId", nil, "0xaa36a7"},
		{"eth_blockNumber", nil, "0x1234"},
		{"eth_getBalance", map[string]any{"address": testAddress}, "0x3b9aca00"},
		{"eth_getTransactionCount", map[string]any{"address": testAddress}, "0x7"},
	}
	for _, tc := range cases {
		value, err := client.Invoke(ctx, tc.tool, tc.params)
		if err != nil {
			t.Fatalf("%s: %v", tc.tool, err)
		}
		if value != tc.want {
			t.Fatalf("%s = %v, want %s", tc.tool, value, tc.want)
		}
	}
	if chain.lastAddress != common.HexToAddress(testAddress) {
		t.Fatalf("address not forwarded to backend: %v", chain.lastAddress)
	}
}

func TestAddressValidation(t *testing.T) {
	client := NewSimulatedClient("sepolia", &fakeChain{balance: big.NewInt(1)})
	ctx := context.Background()

	if _, err := client.Invoke(ctx, "eth_getBalance", nil); err == nil {
		t.Fatalf("missing address must be rejected")
	}
	_, err := client.Invoke(ctx, "eth_getBalance", map[string]any{"address": "not-an-address"})
	if err == nil || !strings.Contains(err.Error(), "无效的以太坊地址") {
		t.Fatalf("invalid address must be rejected: %v", err)
	}
}

func TestBackendErrorsPropagate(t *testing.T) {
	chain := &fakeChain{err: stdErrors.New("node unreachable")}
	client := NewSimulatedClient("sepolia", chain)

	_, err := client.Invoke(context.Background(), "eth_chainId", nil)
	if err == nil || !strings.Contains(err.Error(), "node unreachable") {
		t.Fatalf("backend error must propagate: %v", err)
	}
}

func TestUnsupportedTool(t *testing.T) {
	client := NewSimulatedClient("sepolia", &fakeChain{})
	if _, err := client.Invoke(context.Background(), "eth_sendTransaction", nil); err == nil {
		t.Fatalf("unsupported tool must be rejected")
	}
}

func TestToolsCatalog(t *testing.T) {
	client := NewSimulatedClient("", &fakeChain{})
	if client.Name() != "ethereum" {
		t.Fatalf("default name expected, got %s", client.Name())
	}
	tools, err := client.Tools(context.Background())
	if err != nil {
		t.Fatalf("tools: %v", err)
	}
	if len(tools) != 4 {
		t.Fatalf("expected 4 tools, got %+v", tools)
	}
}
