package eth

import (
	"context"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
)

type Client struct {
	rpc   *ethclient.Client
	retry RetryPolicy
}

func NewClient() (*Client, error) {
	godotenv.Load()
	url := os.Getenv("ALCHEMY_URL")

	if url == "" {
		return nil, fmt.Errorf("ALCHEMY_URL not set in .env")
	}

	return NewClientWithURL(url)
}

func NewClientWithURL(url string) (*Client, error) {
	rpc, err := ethclient.Dial(url)
	if err != nil {
		return nil, err
	}

	return &Client{rpc: rpc, retry: DefaultRetryPolicy()}, nil
}

func (c *Client) SetRetryPolicy(p RetryPolicy) {
	c.retry = p
}

func (c *Client) Close() {
	c.rpc.Close()
}

// CallContract is the main read path for pool state. Retried per the
// client's policy; everything above this layer treats a failure as final
// for the current tick.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNum *big.Int) ([]byte, error) {
	var result []byte
	err := c.retry.Do(ctx, func() error {
		var callErr error
		result, callErr = c.rpc.CallContract(ctx, msg, blockNum)
		return callErr
	})
	return result, err
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var header *types.Header
	err := c.retry.Do(ctx, func() error {
		var callErr error
		header, callErr = c.rpc.HeaderByNumber(ctx, number)
		return callErr
	})
	return header, err
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var num uint64
	err := c.retry.Do(ctx, func() error {
		var callErr error
		num, callErr = c.rpc.BlockNumber(ctx)
		return callErr
	})
	return num, err
}

func (c *Client) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return c.rpc.CodeAt(ctx, account, blockNumber)
}
