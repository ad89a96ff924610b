package ethereum

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is a thin wrapper over ethclient.Client for contract calls and
// retrying sends, the only two RPC shapes the ledger anchor path needs.
type Client struct {
	client  *ethclient.Client
	chainID *big.Int
	url     string
}

// NewClient dials url and returns a Client bound to chainID.
func NewClient(url string, chainID int64) (*Client, error) {
	client, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum: %w", err)
	}

	return &Client{
		client:  client,
		chainID: big.NewInt(chainID),
		url:     url,
	}, nil
}

// WaitForTransaction blocks until tx is mined and returns its receipt.
func (c *Client) WaitForTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, c.client, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for transaction: %w", err)
	}
	return receipt, nil
}

// ContractCallResult is the outcome of a contract-mutating call.
type ContractCallResult struct {
	TransactionHash string    `json:"transaction_hash"`
	BlockNumber     uint64    `json:"block_number"`
	BlockHash       string    `json:"block_hash"`
	GasUsed         uint64    `json:"gas_used"`
	GasCost         *big.Int  `json:"gas_cost"`
	Success         bool      `json:"success"`
	Timestamp       time.Time `json:"timestamp"`
	ReturnData      []byte    `json:"return_data,omitempty"`
}

// CallContract makes a read-only contract call and returns its unpacked
// outputs.
func (c *Client) CallContract(ctx context.Context, contractAddr common.Address, abiString string, methodName string, params ...interface{}) ([]interface{}, error) {
	contractABI, err := abi.JSON(strings.NewReader(abiString))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	callData, err := contractABI.Pack(methodName, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack method call: %w", err)
	}

	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &contractAddr,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}

	outputs, err := contractABI.Unpack(methodName, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}

	return outputs, nil
}

// SendContractTransactionWithRetry sends a contract-mutating transaction,
// escalating gas price by 20% per attempt on a retryable send failure
// (replacement underpriced, nonce too low, already known).
func (c *Client) SendContractTransactionWithRetry(ctx context.Context, contractAddr common.Address, abiString string, privateKeyHex string, methodName string, gasLimit uint64, maxRetries int, params ...interface{}) (*ContractCallResult, error) {
	contractABI, err := abi.JSON(strings.NewReader(abiString))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	callData, err := contractABI.Pack(methodName, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack method call: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	publicKeyECDSA := privateKey.Public().(*ecdsa.PublicKey)
	fromAddress := crypto.PubkeyToAddress(*publicKeyECDSA)

	for attempt := 0; attempt < maxRetries; attempt++ {
		nonce, err := c.client.PendingNonceAt(ctx, fromAddress)
		if err != nil {
			return nil, fmt.Errorf("failed to get nonce: %w", err)
		}

		baseGasPrice, err := c.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get gas price: %w", err)
		}

		// Enforce minimum 5 Gwei to ensure transactions get included
		minGasPrice := big.NewInt(5 * 1e9)
		if baseGasPrice.Cmp(minGasPrice) < 0 {
			baseGasPrice = minGasPrice
		}

		// Escalate gas price by 20% for each retry
		gasPrice := new(big.Int).Set(baseGasPrice)
		if attempt > 0 {
			multiplier := big.NewInt(int64(100 + (20 * attempt))) // 120%, 140%, etc.
			gasPrice = gasPrice.Mul(gasPrice, multiplier)
			gasPrice = gasPrice.Div(gasPrice, big.NewInt(100))
		}

		tx := types.NewTransaction(
			nonce,
			contractAddr,
			big.NewInt(0), // value
			gasLimit,
			gasPrice,
			callData,
		)

		signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), privateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to sign transaction: %w", err)
		}

		err = c.client.SendTransaction(ctx, signedTx)
		if err != nil {
			errStr := err.Error()
			if strings.Contains(errStr, "replacement transaction underpriced") ||
				strings.Contains(errStr, "nonce too low") ||
				strings.Contains(errStr, "already known") {
				if attempt < maxRetries-1 {
					time.Sleep(2 * time.Second)
					continue
				}
			}
			return nil, fmt.Errorf("failed to send transaction after %d attempts: %w", attempt+1, err)
		}

		receipt, err := c.WaitForTransaction(ctx, signedTx)
		if err != nil {
			return nil, fmt.Errorf("failed to get transaction receipt: %w", err)
		}

		result := &ContractCallResult{
			TransactionHash: signedTx.Hash().Hex(),
			BlockNumber:     receipt.BlockNumber.Uint64(),
			BlockHash:       receipt.BlockHash.Hex(),
			GasUsed:         receipt.GasUsed,
			GasCost:         new(big.Int).Mul(gasPrice, big.NewInt(int64(receipt.GasUsed))),
			Success:         receipt.Status == types.ReceiptStatusSuccessful,
			Timestamp:       time.Now(),
		}

		return result, nil
	}

	return nil, fmt.Errorf("failed to send transaction after %d attempts", maxRetries)
}
