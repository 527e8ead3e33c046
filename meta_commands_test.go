package memcache

import (
	"testing"
	"time"

	"github.com/gomemcache/metaclient/meta"
	"github.com/stretchr/testify/assert"
)

func TestNewRequestFlagsDefaultsReturnValue(t *testing.T) {
	f := NewRequestFlags()
	assert.True(t, f.ReturnValue)
}

func TestApplyGetAttachesRequestedFlags(t *testing.T) {
	f := RequestFlags{
		ReturnValue:      true,
		ReturnCASToken:   true,
		ReturnTTL:        true,
		ReturnClientFlag: true,
		NoUpdateLRU:      true,
		RecacheTTL:       30 * time.Second,
		VivifyOnMissTTL:  60 * time.Second,
	}
	req := meta.NewRequest(meta.CmdGet, "k", nil, nil)
	f.applyGet(req)

	assert.True(t, req.HasFlag(meta.FlagReturnValue))
	assert.True(t, req.HasFlag(meta.FlagReturnCAS))
	assert.True(t, req.HasFlag(meta.FlagReturnTTL))
	assert.True(t, req.HasFlag(meta.FlagReturnClientFlags))
	assert.True(t, req.HasFlag(meta.FlagNoLRUBump))

	recache, ok := req.Flags.Get(meta.FlagRecache)
	assert.True(t, ok)
	assert.Equal(t, "30", recache)

	vivify, ok := req.Flags.Get(meta.FlagVivify)
	assert.True(t, ok)
	assert.Equal(t, "60", vivify)
}

func TestApplySetDefaultsToModeSet(t *testing.T) {
	f := RequestFlags{}
	req := meta.NewRequest(meta.CmdSet, "k", []byte("v"), nil)
	f.applySet(req)

	mode, ok := req.Flags.Get(meta.FlagMode)
	assert.True(t, ok)
	assert.Equal(t, string(ModeSet), mode)
}

func TestApplySetHonorsExplicitMode(t *testing.T) {
	f := RequestFlags{Mode: ModeAdd}
	req := meta.NewRequest(meta.CmdSet, "k", []byte("v"), nil)
	f.applySet(req)

	mode, ok := req.Flags.Get(meta.FlagMode)
	assert.True(t, ok)
	assert.Equal(t, string(ModeAdd), mode)
}

func TestApplySetAttachesCASWhenNonZero(t *testing.T) {
	f := RequestFlags{CASToken: 42}
	req := meta.NewRequest(meta.CmdSet, "k", []byte("v"), nil)
	f.applySet(req)

	token, ok := req.Flags.Get(meta.FlagCAS)
	assert.True(t, ok)
	assert.Equal(t, "42", token)
}

func TestApplySetOmitsCASWhenZero(t *testing.T) {
	f := RequestFlags{}
	req := meta.NewRequest(meta.CmdSet, "k", []byte("v"), nil)
	f.applySet(req)
	assert.False(t, req.HasFlag(meta.FlagCAS))
}

func TestApplyDeleteMarkStaleWithTTLUsesInvalidateWithToken(t *testing.T) {
	f := RequestFlags{MarkStale: true, CacheTTL: 10 * time.Second}
	req := meta.NewRequest(meta.CmdDelete, "k", nil, nil)
	f.applyDelete(req)

	token, ok := req.Flags.Get(meta.FlagInvalidate)
	assert.True(t, ok)
	assert.Equal(t, "10", token)
	assert.False(t, req.HasFlag(meta.FlagTTL))
}

func TestApplyDeletePlainTTLUsesTTLFlag(t *testing.T) {
	f := RequestFlags{CacheTTL: 10 * time.Second}
	req := meta.NewRequest(meta.CmdDelete, "k", nil, nil)
	f.applyDelete(req)

	token, ok := req.Flags.Get(meta.FlagTTL)
	assert.True(t, ok)
	assert.Equal(t, "10", token)
	assert.False(t, req.HasFlag(meta.FlagInvalidate))
}

func TestApplyArithmeticDefaultsToModeIncrement(t *testing.T) {
	f := RequestFlags{DeltaValue: 5}
	req := meta.NewRequest(meta.CmdArithmetic, "k", nil, nil)
	f.applyArithmetic(req)

	mode, ok := req.Flags.Get(meta.FlagMode)
	assert.True(t, ok)
	assert.Equal(t, string(ModeIncrement), mode)

	delta, ok := req.Flags.Get(meta.FlagDelta)
	assert.True(t, ok)
	assert.Equal(t, "5", delta)
}

func TestApplyArithmeticVivifyAttachesInitialValue(t *testing.T) {
	f := RequestFlags{DeltaValue: 1, VivifyOnMissTTL: 5 * time.Second, InitialValue: 100}
	req := meta.NewRequest(meta.CmdArithmetic, "k", nil, nil)
	f.applyArithmetic(req)

	initial, ok := req.Flags.Get(meta.FlagInitialValue)
	assert.True(t, ok)
	assert.Equal(t, "100", initial)
}

func TestApplyCommonQuietAndOpaque(t *testing.T) {
	f := RequestFlags{NoReply: true, Opaque: "abc123", ReturnKey: true}
	req := meta.NewRequest(meta.CmdGet, "k", nil, nil)
	f.applyCommon(req)

	assert.True(t, req.HasFlag(meta.FlagQuiet))
	assert.True(t, req.HasFlag(meta.FlagReturnKey))
	opaque, ok := req.Flags.Get(meta.FlagOpaque)
	assert.True(t, ok)
	assert.Equal(t, "abc123", opaque)
}

func TestNewWireRequestSetsBase64FlagForBinaryKeys(t *testing.T) {
	key := NewKey("has space")
	req := newWireRequest(meta.CmdGet, key, nil)
	assert.True(t, req.HasFlag(meta.FlagBase64Key))
}

func TestNewWireRequestPlainKeyHasNoBase64Flag(t *testing.T) {
	key := NewKey("plainkey")
	req := newWireRequest(meta.CmdGet, key, nil)
	assert.False(t, req.HasFlag(meta.FlagBase64Key))
}
