package fetcher

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

// newRPCServer answers JSON-RPC calls with the result registered for the method.
func newRPCServer(t *testing.T, results map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, ok := results[req.Method]
		if !ok {
			t.Errorf("unexpected rpc method %s", req.Method)
			http.Error(w, "unexpected method", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		})
	}))
}

func encodeMint(mintAuthority, freezeAuthority *solana.PublicKey, supply uint64, decimals uint8) string {
	buf := make([]byte, mintAccountSize)
	if mintAuthority != nil {
		binary.LittleEndian.PutUint32(buf[0:4], 1)
		copy(buf[4:36], mintAuthority[:])
	}
	binary.LittleEndian.PutUint64(buf[36:44], supply)
	buf[44] = decimals
	buf[45] = 1
	if freezeAuthority != nil {
		binary.LittleEndian.PutUint32(buf[46:50], 1)
		copy(buf[50:82], freezeAuthority[:])
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func accountResult(owner solana.PublicKey, data string) map[string]any {
	return map[string]any{
		"context": map[string]any{"slot": 1},
		"value": map[string]any{
			"data":       []string{data, "base64"},
			"executable": false,
			"lamports":   1461600,
			"owner":      owner.String(),
			"rentEpoch":  0,
		},
	}
}

func TestChainFetchMintInfoDecodesAuthorities(t *testing.T) {
	authority := solana.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	srv := newRPCServer(t, map[string]any{
		"getAccountInfo": accountResult(solana.TokenProgramID, encodeMint(&authority, nil, 1_000_000_000, 6)),
	})
	defer srv.Close()

	c := NewChain(ChainOptions{RPCURL: srv.URL, Timeout: time.Second}, noopLogger())
	info, err := c.FetchMintInfo(context.Background(), testMint)
	if err != nil {
		t.Fatalf("解析 mint 不应报错: %v", err)
	}
	if info.Decimals != 6 || info.Supply != 1_000_000_000 {
		t.Fatalf("decimals/supply 解析错误: %+v", info)
	}
	if !info.HasMintAuthority() || info.MintAuthority != authority.String() {
		t.Fatalf("应解析出 mint authority: %+v", info)
	}
	if info.HasFreezeAuthority() {
		t.Fatal("freeze authority 应为空")
	}
}

func TestChainFetchMintInfoRejectsForeignOwner(t *testing.T) {
	srv := newRPCServer(t, map[string]any{
		"getAccountInfo": accountResult(solana.SystemProgramID, encodeMint(nil, nil, 1, 0)),
	})
	defer srv.Close()

	c := NewChain(ChainOptions{RPCURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := c.FetchMintInfo(context.Background(), testMint); !errors.Is(err, ErrNotMint) {
		t.Fatalf("非 token program 账户应返回 ErrNotMint, 实际 %v", err)
	}
}

func TestChainFetchMintInfoMissingAccount(t *testing.T) {
	srv := newRPCServer(t, map[string]any{
		"getAccountInfo": map[string]any{"context": map[string]any{"slot": 1}, "value": nil},
	})
	defer srv.Close()

	c := NewChain(ChainOptions{RPCURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := c.FetchMintInfo(context.Background(), testMint); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("账户不存在应返回 ErrAccountNotFound, 实际 %v", err)
	}
}

func TestChainFetchLargestHoldersTruncates(t *testing.T) {
	entry := func(addr solana.PublicKey, amount string) map[string]any {
		return map[string]any{"address": addr.String(), "amount": amount, "decimals": 6, "uiAmountString": amount}
	}
	srv := newRPCServer(t, map[string]any{
		"getTokenLargestAccounts": map[string]any{
			"context": map[string]any{"slot": 1},
			"value": []any{
				entry(solana.NewWallet().PublicKey(), "500"),
				entry(solana.NewWallet().PublicKey(), "0"),
				entry(solana.NewWallet().PublicKey(), "20"),
			},
		},
	})
	defer srv.Close()

	c := NewChain(ChainOptions{RPCURL: srv.URL, Timeout: time.Second, HoldersTopN: 2}, noopLogger())
	holders, err := c.FetchLargestHolders(context.Background(), testMint)
	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	if len(holders) != 2 {
		t.Fatalf("应截断到 2 条, 实际 %d", len(holders))
	}
	if got := CountPositive(holders); got != 1 {
		t.Fatalf("正余额持有人应为 1, 实际 %d", got)
	}
}

func TestChainRejectsMalformedAddress(t *testing.T) {
	c := NewChain(ChainOptions{RPCURL: "http://127.0.0.1:0"}, noopLogger())
	if _, err := c.FetchMintInfo(context.Background(), "not-a-key"); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("非法地址应返回 ErrInvalidAddress, 实际 %v", err)
	}
	if _, err := ValidateAddress(testMint); err != nil {
		t.Fatalf("合法地址不应报错: %v", err)
	}
}

func TestChainMissingRPCURL(t *testing.T) {
	c := NewChain(ChainOptions{}, noopLogger())
	if _, err := c.FetchMintInfo(context.Background(), testMint); err == nil {
		t.Fatal("未配置 RPC 时应报错")
	}
}
