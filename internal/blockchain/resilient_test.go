package blockchain

import (
	"context"
	"errors"
	"testing"
	"time"

	"plexledger/internal/apperrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	balanceErrs []error
	calls       int
}

func (f *fakeClient) GetBalance(context.Context, string, string) (decimal.Decimal, error) {
	f.calls++
	if len(f.balanceErrs) > 0 {
		err := f.balanceErrs[0]
		f.balanceErrs = f.balanceErrs[1:]
		if err != nil {
			return decimal.Zero, err
		}
	}
	return decimal.NewFromInt(42), nil
}

func (f *fakeClient) GetIncomingTransfers(context.Context, string, string, int64, int64) ([]Transfer, error) {
	f.calls++
	return nil, errors.New("down")
}

func (f *fakeClient) LatestBlock(context.Context) (int64, error) {
	f.calls++
	return 100, nil
}

func TestResilientClientRetriesTransientFailure(t *testing.T) {
	inner := &fakeClient{balanceErrs: []error{errors.New("timeout")}}
	client := NewResilientClient(inner, nil)

	balance, err := client.GetBalance(context.Background(), "0xuser", TokenPLEX)
	require.NoError(t, err)
	assert.Equal(t, "42", balance.String())
	assert.Equal(t, 2, inner.calls)
}

func TestResilientClientWrapsAsExternal(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	inner := &fakeClient{}
	client := NewResilientClient(inner, nil)

	_, err := client.GetIncomingTransfers(ctx, "0xop", TokenPLEX, 1, 2)
	require.Error(t, err)
	assert.True(t, apperrors.IsExternal(err))
}

func TestResilientClientOpenBreakerIsNotRetried(t *testing.T) {
	breaker := apperrors.NewCircuitBreaker(apperrors.BreakerOptions{
		ErrorThreshold: 0.5,
		MinRequests:    1,
		OpenTimeout:    time.Hour,
	})
	_ = breaker.Call(func() error { return errors.New("trip") })
	require.Equal(t, apperrors.StateOpen, breaker.State())

	inner := &fakeClient{}
	client := NewResilientClient(inner, breaker)

	_, err := client.LatestBlock(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsExternal(err))
	assert.ErrorIs(t, err, apperrors.ErrCircuitOpen)
	assert.Equal(t, 0, inner.calls)
}
