package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x00000000000000000000000000000000000ca201")
)

func TestMemory_MintAssignsSequentialIDs(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()

	id1, err := reg.Mint(ctx, alice, uint256.NewInt(55))
	require.NoError(t, err)
	id2, err := reg.Mint(ctx, bob, uint256.NewInt(56))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), id1)
	assert.Equal(t, uint64(2), id2)

	owner, err := reg.OwnerOf(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, alice, owner)

	pred, err := reg.PredictionOf(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, uint64(55), pred.Uint64())

	n, err := reg.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestMemory_UnmintedTicket(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()

	_, err := reg.OwnerOf(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrTicketNotFound)
	_, err = reg.PredictionOf(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrTicketNotFound)
}

func TestMemory_Transfer(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()
	id, err := reg.Mint(ctx, alice, uint256.NewInt(55))
	require.NoError(t, err)

	err = reg.Transfer(ctx, bob, carol, id)
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	require.NoError(t, reg.Transfer(ctx, alice, carol, id))
	owner, err := reg.OwnerOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, carol, owner)

	pred, err := reg.PredictionOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(55), pred.Uint64())
}

func TestMemory_PredictionIsCopied(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()
	p := uint256.NewInt(7)
	id, err := reg.Mint(ctx, alice, p)
	require.NoError(t, err)

	p.SetUint64(9)
	got, err := reg.PredictionOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.Uint64())
}

func TestMemory_MintIsUndoneWithFailedUnit(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()
	down := errors.New("journal down")

	err := domain.LocalUnits{}.InTx(ctx, func(ctx context.Context) error {
		_, err := reg.Mint(ctx, alice, uint256.NewInt(5))
		require.NoError(t, err)
		return down
	})
	require.ErrorIs(t, err, down)

	n, err := reg.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = reg.OwnerOf(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrTicketNotFound)

	require.NoError(t, domain.LocalUnits{}.InTx(ctx, func(ctx context.Context) error {
		id, err := reg.Mint(ctx, bob, uint256.NewInt(6))
		assert.Equal(t, uint64(1), id)
		return err
	}))
	owner, err := reg.OwnerOf(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, bob, owner)
}
