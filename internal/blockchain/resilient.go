package blockchain

import (
	"context"
	"errors"

	"plexledger/internal/apperrors"

	"github.com/shopspring/decimal"
)

// ResilientClient retries transient lookup failures and stops calling a failing backend
// through a circuit breaker. Every error it returns is an external AppError.
type ResilientClient struct {
	inner   Client
	breaker *apperrors.CircuitBreaker
}

func NewResilientClient(inner Client, breaker *apperrors.CircuitBreaker) *ResilientClient {
	if breaker == nil {
		breaker = apperrors.NewCircuitBreaker(apperrors.DefaultBreakerOptions())
	}
	return &ResilientClient{inner: inner, breaker: breaker}
}

func (c *ResilientClient) GetBalance(ctx context.Context, address, token string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := c.do(ctx, "get_balance", func() error {
		var err error
		balance, err = c.inner.GetBalance(ctx, address, token)
		return err
	})
	return balance, err
}

func (c *ResilientClient) GetIncomingTransfers(ctx context.Context, address, token string, fromBlock, toBlock int64) ([]Transfer, error) {
	var transfers []Transfer
	err := c.do(ctx, "get_incoming_transfers", func() error {
		var err error
		transfers, err = c.inner.GetIncomingTransfers(ctx, address, token, fromBlock, toBlock)
		return err
	})
	return transfers, err
}

func (c *ResilientClient) LatestBlock(ctx context.Context) (int64, error) {
	var block int64
	err := c.do(ctx, "latest_block", func() error {
		var err error
		block, err = c.inner.LatestBlock(ctx)
		return err
	})
	return block, err
}

func (c *ResilientClient) do(ctx context.Context, method string, fn func() error) error {
	err := apperrors.WithRetry(ctx, func() error {
		err := c.breaker.Call(fn)
		if err == nil {
			return nil
		}
		appErr := apperrors.NewExternalAPIError("blockchain."+method, err)
		if errors.Is(err, apperrors.ErrCircuitOpen) || errors.Is(err, apperrors.ErrHalfOpenTooManyRequests) {
			appErr.Retryable = false
		}
		return appErr
	})
	if err == nil || apperrors.IsExternal(err) {
		return err
	}
	return apperrors.NewExternalAPIError("blockchain."+method, err)
}
