// Package ledger implements the external-ledger contract used by the
// Merkle batcher (§6): anchor_batch writes a committed root and leaf count
// on-chain and returns a transaction reference; lookup reports whether a
// given batch root was anchored. Lookup takes a Merkle root, not an
// attestation digest, and does not find the batch that covers a digest.
package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/attestproof/attestd/pkg/ethereum"
)

// anchorABI is the minimal ABI surface the anchor contract exposes: a
// write method recording a batch root and leaf count, and a read method
// reporting whether a given root was ever anchored.
const anchorABI = `[
	{
		"type": "function",
		"name": "anchorBatch",
		"inputs": [
			{"name": "root", "type": "bytes32"},
			{"name": "leafCount", "type": "uint256"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "isAnchored",
		"inputs": [{"name": "root", "type": "bytes32"}],
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "view"
	}
]`

// ErrNotConfigured is returned by Client operations when the ledger was
// never configured (no RPC URL), allowing a deployment to run the
// attestation pipeline without anchoring.
var ErrNotConfigured = errors.New("ledger: not configured")

// AnchorResult is the outcome of a successful anchor_batch call.
type AnchorResult struct {
	TxRef       string
	BlockNumber uint64
	GasUsed     uint64
}

// Client wraps the generic Ethereum client with the anchor contract's ABI
// and the batcher's gas budget for anchorBatch calls.
type Client struct {
	eth             *ethereum.Client
	contractAddr    common.Address
	deployerKeyHex  string
	gasLimit        uint64
}

// Config holds ledger client configuration.
type Config struct {
	RPCURL         string
	ChainID        int64
	ContractAddr   string
	DeployerKeyHex string
	GasLimit       uint64
}

// DefaultGasLimit is the gas budget for one anchorBatch call; the contract
// only writes a bytes32 and a uint256, so this comfortably covers it with
// headroom for cold SSTORE slots.
const DefaultGasLimit = 120_000

// New constructs a ledger client. If cfg.RPCURL is empty, New returns a
// Client that reports ErrNotConfigured from every operation, so a
// deployment can run without an anchoring chain.
func New(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return &Client{}, nil
	}
	eth, err := ethereum.NewClient(cfg.RPCURL, cfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to dial rpc: %w", err)
	}
	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}
	return &Client{
		eth:            eth,
		contractAddr:   common.HexToAddress(cfg.ContractAddr),
		deployerKeyHex: cfg.DeployerKeyHex,
		gasLimit:       gasLimit,
	}, nil
}

// Configured reports whether anchoring is enabled for this client.
func (c *Client) Configured() bool {
	return c.eth != nil
}

// AnchorBatch writes root and leafCount to the anchor contract and waits
// for the transaction to be mined. root must be exactly 32 bytes.
func (c *Client) AnchorBatch(ctx context.Context, root [32]byte, leafCount int) (*AnchorResult, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	result, err := c.eth.SendContractTransactionWithRetry(
		ctx, c.contractAddr, anchorABI, c.deployerKeyHex, "anchorBatch", c.gasLimit, 3,
		root, big.NewInt(int64(leafCount)),
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: anchor_batch failed: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("ledger: anchor_batch transaction reverted: %s", result.TransactionHash)
	}
	return &AnchorResult{
		TxRef:       result.TransactionHash,
		BlockNumber: result.BlockNumber,
		GasUsed:     result.GasUsed,
	}, nil
}

// Lookup reports whether rootHex (a "0x"-prefixed 64-hex-char digest) was
// ever anchored.
func (c *Client) Lookup(ctx context.Context, rootHex string) (bool, error) {
	if !c.Configured() {
		return false, ErrNotConfigured
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(rootHex, "0x"))
	if err != nil || len(raw) != 32 {
		return false, fmt.Errorf("ledger: invalid root digest %q", rootHex)
	}
	var root [32]byte
	copy(root[:], raw)

	outputs, err := c.eth.CallContract(ctx, c.contractAddr, anchorABI, "isAnchored", root)
	if err != nil {
		return false, fmt.Errorf("ledger: lookup failed: %w", err)
	}
	if len(outputs) != 1 {
		return false, fmt.Errorf("ledger: unexpected lookup result shape")
	}
	anchored, ok := outputs[0].(bool)
	if !ok {
		return false, fmt.Errorf("ledger: unexpected lookup result type")
	}
	return anchored, nil
}
