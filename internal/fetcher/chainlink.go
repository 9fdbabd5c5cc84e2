package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"offerwatch/internal/model"
)

const aggregatorABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise the on-chain price feed source.
type ChainlinkOptions struct {
	RPCURL string
	// Feeds maps a pair key such as "btc_usd" to its aggregator contract address.
	Feeds   map[string]string
	Timeout time.Duration
}

// Chainlink reads prices from Chainlink aggregator contracts over Ethereum RPC.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewChainlink builds a new on-chain quote source.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	return &Chainlink{opts: opts, logger: logger.With().Str("component", "chainlink").Logger()}
}

// Name identifies the source in logs.
func (c *Chainlink) Name() string { return "chainlink" }

// FetchQuote returns the latest aggregator answer for the pair.
func (c *Chainlink) FetchQuote(ctx context.Context, pair model.Pair) (float64, error) {
	address, ok := c.opts.Feeds[pair.Key()]
	if !ok || address == "" {
		return 0, fmt.Errorf("%w: %s", ErrPairNotSupported, pair.Key())
	}
	if c.opts.RPCURL == "" {
		return 0, errors.New("ethereum rpc url not configured")
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return 0, err
	}

	addr := common.HexToAddress(address)

	decOut, err := c.call(ctx, client, addr, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := decOut[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}

	roundOut, err := c.call(ctx, client, addr, "latestRoundData")
	if err != nil {
		return 0, err
	}
	if len(roundOut) != 5 {
		return 0, errors.New("unexpected latestRoundData response")
	}
	answer, ok := roundOut[1].(*big.Int)
	if !ok {
		return 0, errors.New("failed to decode latestRoundData answer")
	}
	if answer.Sign() <= 0 {
		return 0, fmt.Errorf("non-positive answer for %s", pair.Key())
	}

	price := decimal.NewFromBigInt(answer, -int32(decimals)).InexactFloat64()
	c.logger.Debug().Str("pair", pair.Key()).Float64("price", price).Msg("quote fetched")
	return price, nil
}

func (c *Chainlink) call(ctx context.Context, client *ethclient.Client, addr common.Address, method string) ([]interface{}, error) {
	payload, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	outputs, err := aggregatorABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("empty %s response", method)
	}
	return outputs, nil
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

// Close releases the RPC connection, if one was opened.
func (c *Chainlink) Close() {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

var _ QuoteSource = (*Chainlink)(nil)
