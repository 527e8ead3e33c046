package memcache

import (
	"context"
	"strconv"
	"time"

	"github.com/gomemcache/metaclient/meta"
)

// Mode is the storage/arithmetic mode carried by the M flag.
type Mode string

const (
	ModeSet     Mode = meta.ModeSet
	ModeAdd     Mode = meta.ModeAdd
	ModeReplace Mode = meta.ModeReplace
	ModeAppend  Mode = meta.ModeAppend
	ModePrepend Mode = meta.ModePrepend

	ModeIncrement Mode = meta.ModeIncrement
	ModeDecrement Mode = meta.ModeDecrement
)

// RequestFlags enumerates every meta-protocol flag the Meta Command
// Layer knows how to assemble, per spec §3's RequestFlags data model.
// Zero value requests the operation's minimal behavior; ReturnValue
// defaults true only via NewRequestFlags.
type RequestFlags struct {
	NoReply          bool
	ReturnClientFlag bool
	ReturnCASToken   bool
	ReturnValue      bool
	ReturnTTL        bool
	ReturnSize       bool
	ReturnLastAccess bool
	ReturnHit        bool
	ReturnKey        bool
	NoUpdateLRU      bool
	MarkStale        bool

	CacheTTL        time.Duration
	RecacheTTL      time.Duration
	VivifyOnMissTTL time.Duration
	ClientFlag      uint32
	InitialValue    int64
	DeltaValue      int64
	CASToken        uint64
	Opaque          string

	Mode Mode
}

// NewRequestFlags returns RequestFlags with ReturnValue defaulted true,
// matching spec §3.
func NewRequestFlags() RequestFlags {
	return RequestFlags{ReturnValue: true}
}

func (f RequestFlags) hasCAS() bool { return f.CASToken != 0 }

func (f RequestFlags) applyCommon(req *meta.Request) {
	if f.ReturnKey {
		req.AddFlag(meta.FlagReturnKey)
	}
	if f.NoReply {
		req.AddFlag(meta.FlagQuiet)
	}
	if f.Opaque != "" {
		req.AddToken(meta.FlagOpaque, f.Opaque)
	}
}

// applyGet attaches the mg flag set for this RequestFlags to req.
func (f RequestFlags) applyGet(req *meta.Request) {
	if f.ReturnValue {
		req.AddFlag(meta.FlagReturnValue)
	}
	if f.ReturnCASToken {
		req.AddFlag(meta.FlagReturnCAS)
	}
	if f.ReturnHit {
		req.AddFlag(meta.FlagReturnHit)
	}
	if f.ReturnLastAccess {
		req.AddFlag(meta.FlagReturnLastAccess)
	}
	if f.ReturnTTL {
		req.AddFlag(meta.FlagReturnTTL)
	}
	if f.ReturnClientFlag {
		req.AddFlag(meta.FlagReturnClientFlags)
	}
	if f.ReturnSize {
		req.AddFlag(meta.FlagReturnSize)
	}
	if f.NoUpdateLRU {
		req.AddFlag(meta.FlagNoLRUBump)
	}
	if f.VivifyOnMissTTL > 0 {
		req.AddDuration(meta.FlagVivify, f.VivifyOnMissTTL)
	}
	if f.RecacheTTL > 0 {
		req.AddDuration(meta.FlagRecache, f.RecacheTTL)
	}
	if f.CacheTTL > 0 {
		req.AddDuration(meta.FlagTTL, f.CacheTTL)
	}
	f.applyCommon(req)
}

// applySet attaches the ms flag set for this RequestFlags to req.
func (f RequestFlags) applySet(req *meta.Request) {
	if f.CacheTTL > 0 {
		req.AddDuration(meta.FlagTTL, f.CacheTTL)
	}
	if f.ReturnClientFlag || f.ClientFlag != 0 {
		req.AddToken(meta.FlagClientFlags, strconv.FormatUint(uint64(f.ClientFlag), 10))
	}
	if f.hasCAS() {
		req.AddUint64(meta.FlagCAS, f.CASToken)
	}
	mode := f.Mode
	if mode == "" {
		mode = ModeSet
	}
	req.AddToken(meta.FlagMode, string(mode))
	if f.MarkStale {
		req.AddFlag(meta.FlagInvalidate)
	}
	if f.ReturnCASToken {
		req.AddFlag(meta.FlagReturnCAS)
	}
	f.applyCommon(req)
}

// applyDelete attaches the md flag set for this RequestFlags to req.
func (f RequestFlags) applyDelete(req *meta.Request) {
	if f.hasCAS() {
		req.AddUint64(meta.FlagCAS, f.CASToken)
	}
	if f.MarkStale && f.CacheTTL > 0 {
		req.AddDuration(meta.FlagInvalidate, f.CacheTTL)
	} else if f.MarkStale {
		req.AddFlag(meta.FlagInvalidate)
	} else if f.CacheTTL > 0 {
		req.AddDuration(meta.FlagTTL, f.CacheTTL)
	}
	f.applyCommon(req)
}

// applyArithmetic attaches the ma flag set for this RequestFlags to req.
func (f RequestFlags) applyArithmetic(req *meta.Request) {
	if f.DeltaValue != 0 {
		req.AddInt64(meta.FlagDelta, f.DeltaValue)
	}
	if f.VivifyOnMissTTL > 0 {
		req.AddDuration(meta.FlagVivify, f.VivifyOnMissTTL)
		req.AddInt64(meta.FlagInitialValue, f.InitialValue)
	}
	if f.CacheTTL > 0 {
		req.AddDuration(meta.FlagTTL, f.CacheTTL)
	}
	if f.hasCAS() {
		req.AddUint64(meta.FlagCAS, f.CASToken)
	}
	mode := f.Mode
	if mode == "" {
		mode = ModeIncrement
	}
	req.AddToken(meta.FlagMode, string(mode))
	if f.ReturnValue {
		req.AddFlag(meta.FlagReturnValue)
	}
	if f.ReturnCASToken {
		req.AddFlag(meta.FlagReturnCAS)
	}
	if f.ReturnTTL {
		req.AddFlag(meta.FlagReturnTTL)
	}
	f.applyCommon(req)
}

// MetaCommands is the Meta Command Layer (spec §4.6): one operation per
// verb, each assembling flags, dispatching through the Router, and
// returning the typed *meta.Response.
type MetaCommands struct {
	router *Router
}

func newMetaCommands(router *Router) *MetaCommands {
	return &MetaCommands{router: router}
}

// ServerStats reports classic-protocol "stats" output per server.
func (m *MetaCommands) ServerStats(ctx context.Context) map[string]map[string]string {
	return m.router.ServerStats(ctx)
}

func (m *MetaCommands) Get(ctx context.Context, key Key, flags RequestFlags, fh FailureHandling) (*meta.Response, error) {
	req := newWireRequest(meta.CmdGet, key, nil)
	flags.applyGet(req)
	return m.router.Exec(ctx, key, req, fh.routerOptions(false))
}

func (m *MetaCommands) Set(ctx context.Context, key Key, data []byte, flags RequestFlags, fh FailureHandling) (*meta.Response, error) {
	req := newWireRequest(meta.CmdSet, key, data)
	flags.applySet(req)
	return m.router.Exec(ctx, key, req, fh.routerOptions(true))
}

func (m *MetaCommands) Delete(ctx context.Context, key Key, flags RequestFlags, fh FailureHandling) (*meta.Response, error) {
	req := newWireRequest(meta.CmdDelete, key, nil)
	flags.applyDelete(req)
	return m.router.Exec(ctx, key, req, fh.routerOptions(true))
}

func (m *MetaCommands) Arithmetic(ctx context.Context, key Key, flags RequestFlags, fh FailureHandling) (*meta.Response, error) {
	req := newWireRequest(meta.CmdArithmetic, key, nil)
	flags.applyArithmetic(req)
	return m.router.Exec(ctx, key, req, fh.routerOptions(true))
}

func newWireRequest(cmd meta.CmdType, key Key, data []byte) *meta.Request {
	wire, base64Encoded := key.wireKey()
	req := meta.NewRequest(cmd, wire, data, nil)
	if base64Encoded {
		req.AddFlag(meta.FlagBase64Key)
	}
	return req
}
