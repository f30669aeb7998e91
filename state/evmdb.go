// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	gethstate "github.com/luxfi/geth/core/state"
	"github.com/luxfi/geth/core/stateless"
	"github.com/luxfi/geth/core/tracing"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/crypto"
	"github.com/luxfi/geth/params"
	"github.com/luxfi/geth/trie/utils"
)

// EvmDB adapts a MarketDB to vm.StateDB so the estimator can execute the
// encoded multicall in-process. It journals every mutation in overlay maps
// (snapshots copy the overlay — estimator calls are small, so this is
// cheaper than a proper journal) and records every touched account and
// slot, which is where the emitted access list comes from.
type EvmDB struct {
	db *MarketDB

	objects   map[common.Address]*evmObject
	transient map[common.Address]map[common.Hash]common.Hash
	refund    uint64
	logs      []*types.Log

	accessedAddrs map[common.Address]struct{}
	accessedSlots map[common.Address]map[common.Hash]struct{}

	snapshots []*evmSnapshot
}

type evmObject struct {
	info          AccountInfo
	exists        bool
	newContract   bool
	selfDestruct  bool
	storage       map[common.Hash]common.Hash
	originStorage map[common.Hash]common.Hash
}

type evmSnapshot struct {
	objects   map[common.Address]*evmObject
	transient map[common.Address]map[common.Hash]common.Hash
	refund    uint64
	logLen    int
}

// NewEvmDB wraps db. The wrapped MarketDB is only read; all writes stay in
// the overlay until Changes is consumed.
func NewEvmDB(db *MarketDB) *EvmDB {
	return &EvmDB{
		db:            db,
		objects:       make(map[common.Address]*evmObject),
		transient:     make(map[common.Address]map[common.Hash]common.Hash),
		accessedAddrs: make(map[common.Address]struct{}),
		accessedSlots: make(map[common.Address]map[common.Hash]struct{}),
	}
}

func (e *EvmDB) object(addr common.Address) *evmObject {
	if obj, ok := e.objects[addr]; ok {
		return obj
	}
	obj := &evmObject{
		storage:       make(map[common.Hash]common.Hash),
		originStorage: make(map[common.Hash]common.Hash),
	}
	info, err := e.db.Basic(addr)
	if err == nil && info != nil {
		obj.info = *info.Copy()
		obj.exists = true
	} else {
		obj.info.Balance = new(uint256.Int)
		obj.info.CodeHash = types.EmptyCodeHash
	}
	e.objects[addr] = obj
	return obj
}

func (e *EvmDB) touchAddr(addr common.Address) {
	e.accessedAddrs[addr] = struct{}{}
}

func (e *EvmDB) touchSlot(addr common.Address, slot common.Hash) {
	e.touchAddr(addr)
	slots, ok := e.accessedSlots[addr]
	if !ok {
		slots = make(map[common.Hash]struct{})
		e.accessedSlots[addr] = slots
	}
	slots[slot] = struct{}{}
}

// CreateAccount implements vm.StateDB.
func (e *EvmDB) CreateAccount(addr common.Address) {
	obj := e.object(addr)
	obj.exists = true
	e.touchAddr(addr)
}

// CreateContract implements vm.StateDB.
func (e *EvmDB) CreateContract(addr common.Address) {
	obj := e.object(addr)
	obj.exists = true
	obj.newContract = true
}

// SubBalance implements vm.StateDB.
func (e *EvmDB) SubBalance(addr common.Address, amount *uint256.Int, _ tracing.BalanceChangeReason) uint256.Int {
	obj := e.object(addr)
	prev := *obj.info.Balance
	obj.info.Balance = new(uint256.Int).Sub(obj.info.Balance, amount)
	obj.exists = true
	e.touchAddr(addr)
	return prev
}

// AddBalance implements vm.StateDB.
func (e *EvmDB) AddBalance(addr common.Address, amount *uint256.Int, _ tracing.BalanceChangeReason) uint256.Int {
	obj := e.object(addr)
	prev := *obj.info.Balance
	obj.info.Balance = new(uint256.Int).Add(obj.info.Balance, amount)
	obj.exists = true
	e.touchAddr(addr)
	return prev
}

// GetBalance implements vm.StateDB.
func (e *EvmDB) GetBalance(addr common.Address) *uint256.Int {
	e.touchAddr(addr)
	return new(uint256.Int).Set(e.object(addr).info.Balance)
}

// GetNonce implements vm.StateDB.
func (e *EvmDB) GetNonce(addr common.Address) uint64 {
	return e.object(addr).info.Nonce
}

// SetNonce implements vm.StateDB.
func (e *EvmDB) SetNonce(addr common.Address, nonce uint64, _ tracing.NonceChangeReason) {
	obj := e.object(addr)
	obj.info.Nonce = nonce
	obj.exists = true
}

// GetCodeHash implements vm.StateDB.
func (e *EvmDB) GetCodeHash(addr common.Address) common.Hash {
	obj := e.object(addr)
	if !obj.exists {
		return common.Hash{}
	}
	if obj.info.CodeHash == (common.Hash{}) {
		if len(obj.info.Code) == 0 {
			return types.EmptyCodeHash
		}
		obj.info.CodeHash = crypto.Keccak256Hash(obj.info.Code)
	}
	return obj.info.CodeHash
}

// GetCode implements vm.StateDB.
func (e *EvmDB) GetCode(addr common.Address) []byte {
	e.touchAddr(addr)
	obj := e.object(addr)
	if obj.info.Code == nil && obj.exists {
		if code, err := e.db.Code(addr); err == nil {
			obj.info.Code = code
		}
	}
	return obj.info.Code
}

// SetCode implements vm.StateDB.
func (e *EvmDB) SetCode(addr common.Address, code []byte) []byte {
	obj := e.object(addr)
	prev := obj.info.Code
	obj.info.Code = append([]byte(nil), code...)
	obj.info.CodeHash = crypto.Keccak256Hash(code)
	obj.exists = true
	return prev
}

// GetCodeSize implements vm.StateDB.
func (e *EvmDB) GetCodeSize(addr common.Address) int {
	return len(e.GetCode(addr))
}

// AddRefund implements vm.StateDB.
func (e *EvmDB) AddRefund(gas uint64) { e.refund += gas }

// SubRefund implements vm.StateDB.
func (e *EvmDB) SubRefund(gas uint64) {
	if gas > e.refund {
		gas = e.refund
	}
	e.refund -= gas
}

// GetRefund implements vm.StateDB.
func (e *EvmDB) GetRefund() uint64 { return e.refund }

// GetCommittedState implements vm.StateDB.
func (e *EvmDB) GetCommittedState(addr common.Address, slot common.Hash) common.Hash {
	obj := e.object(addr)
	if v, ok := obj.originStorage[slot]; ok {
		return v
	}
	v, err := e.db.Storage(addr, slot)
	if err != nil {
		// a miss inside the EVM reads as zero; the preloader is expected
		// to have satisfied state_required for every pool on the path
		v = common.Hash{}
	}
	obj.originStorage[slot] = v
	return v
}

// GetState implements vm.StateDB.
func (e *EvmDB) GetState(addr common.Address, slot common.Hash) common.Hash {
	e.touchSlot(addr, slot)
	obj := e.object(addr)
	if v, ok := obj.storage[slot]; ok {
		return v
	}
	return e.GetCommittedState(addr, slot)
}

// SetState implements vm.StateDB.
func (e *EvmDB) SetState(addr common.Address, slot, value common.Hash) common.Hash {
	e.touchSlot(addr, slot)
	obj := e.object(addr)
	prev := e.GetState(addr, slot)
	obj.storage[slot] = value
	obj.exists = true
	return prev
}

// GetStorageRoot implements vm.StateDB. The layered DB carries no tries, so
// the root is only meaningfully empty or non-empty.
func (e *EvmDB) GetStorageRoot(addr common.Address) common.Hash {
	obj := e.object(addr)
	if len(obj.storage) == 0 && len(obj.originStorage) == 0 {
		return types.EmptyRootHash
	}
	return common.MaxHash
}

// GetTransientState implements vm.StateDB.
func (e *EvmDB) GetTransientState(addr common.Address, key common.Hash) common.Hash {
	return e.transient[addr][key]
}

// SetTransientState implements vm.StateDB.
func (e *EvmDB) SetTransientState(addr common.Address, key, value common.Hash) {
	slots, ok := e.transient[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		e.transient[addr] = slots
	}
	slots[key] = value
}

// SelfDestruct implements vm.StateDB.
func (e *EvmDB) SelfDestruct(addr common.Address) uint256.Int {
	obj := e.object(addr)
	prev := *obj.info.Balance
	obj.info.Balance = new(uint256.Int)
	obj.selfDestruct = true
	return prev
}

// HasSelfDestructed implements vm.StateDB.
func (e *EvmDB) HasSelfDestructed(addr common.Address) bool {
	return e.object(addr).selfDestruct
}

// SelfDestruct6780 implements vm.StateDB.
func (e *EvmDB) SelfDestruct6780(addr common.Address) (uint256.Int, bool) {
	obj := e.object(addr)
	if obj.newContract {
		return e.SelfDestruct(addr), true
	}
	return *obj.info.Balance, false
}

// Exist implements vm.StateDB.
func (e *EvmDB) Exist(addr common.Address) bool {
	return e.object(addr).exists
}

// Empty implements vm.StateDB.
func (e *EvmDB) Empty(addr common.Address) bool {
	obj := e.object(addr)
	return !obj.exists || (obj.info.Nonce == 0 && obj.info.Balance.IsZero() && len(obj.info.Code) == 0)
}

// AddressInAccessList implements vm.StateDB.
func (e *EvmDB) AddressInAccessList(addr common.Address) bool {
	_, ok := e.accessedAddrs[addr]
	return ok
}

// SlotInAccessList implements vm.StateDB.
func (e *EvmDB) SlotInAccessList(addr common.Address, slot common.Hash) (bool, bool) {
	_, addrOk := e.accessedAddrs[addr]
	if !addrOk {
		return false, false
	}
	_, slotOk := e.accessedSlots[addr][slot]
	return true, slotOk
}

// AddAddressToAccessList implements vm.StateDB.
func (e *EvmDB) AddAddressToAccessList(addr common.Address) { e.touchAddr(addr) }

// AddSlotToAccessList implements vm.StateDB.
func (e *EvmDB) AddSlotToAccessList(addr common.Address, slot common.Hash) {
	e.touchSlot(addr, slot)
}

// PointCache implements vm.StateDB; verkle is out of scope.
func (e *EvmDB) PointCache() *utils.PointCache { return nil }

// Prepare implements vm.StateDB.
func (e *EvmDB) Prepare(rules params.Rules, sender, coinbase common.Address, dest *common.Address, precompiles []common.Address, txAccesses types.AccessList) {
	e.touchAddr(sender)
	if dest != nil {
		e.touchAddr(*dest)
	}
	if rules.IsShanghai {
		e.touchAddr(coinbase)
	}
	for _, addr := range precompiles {
		e.touchAddr(addr)
	}
	for _, el := range txAccesses {
		for _, slot := range el.StorageKeys {
			e.touchSlot(el.Address, slot)
		}
	}
}

// Snapshot implements vm.StateDB.
func (e *EvmDB) Snapshot() int {
	snap := &evmSnapshot{
		objects:   make(map[common.Address]*evmObject, len(e.objects)),
		transient: make(map[common.Address]map[common.Hash]common.Hash, len(e.transient)),
		refund:    e.refund,
		logLen:    len(e.logs),
	}
	for addr, obj := range e.objects {
		cp := &evmObject{
			info:          *obj.info.Copy(),
			exists:        obj.exists,
			newContract:   obj.newContract,
			selfDestruct:  obj.selfDestruct,
			storage:       make(map[common.Hash]common.Hash, len(obj.storage)),
			originStorage: obj.originStorage,
		}
		for k, v := range obj.storage {
			cp.storage[k] = v
		}
		snap.objects[addr] = cp
	}
	for addr, slots := range e.transient {
		cp := make(map[common.Hash]common.Hash, len(slots))
		for k, v := range slots {
			cp[k] = v
		}
		snap.transient[addr] = cp
	}
	e.snapshots = append(e.snapshots, snap)
	return len(e.snapshots) - 1
}

// RevertToSnapshot implements vm.StateDB.
func (e *EvmDB) RevertToSnapshot(id int) {
	snap := e.snapshots[id]
	e.objects = snap.objects
	e.transient = snap.transient
	e.refund = snap.refund
	e.logs = e.logs[:snap.logLen]
	e.snapshots = e.snapshots[:id]
}

// AddLog implements vm.StateDB.
func (e *EvmDB) AddLog(l *types.Log) { e.logs = append(e.logs, l) }

// Logs returns the logs emitted so far.
func (e *EvmDB) Logs() []*types.Log { return e.logs }

// AddPreimage implements vm.StateDB; preimages are not recorded.
func (e *EvmDB) AddPreimage(common.Hash, []byte) {}

// Witness implements vm.StateDB; witness collection is out of scope.
func (e *EvmDB) Witness() *stateless.Witness { return nil }

// AccessEvents implements vm.StateDB; verkle is out of scope.
func (e *EvmDB) AccessEvents() *gethstate.AccessEvents { return nil }

// Finalise implements vm.StateDB; the overlay has no per-tx journal to
// flatten.
func (e *EvmDB) Finalise(bool) {}

// AccessList returns every account and slot touched since construction, in
// deterministic (sorted) order.
func (e *EvmDB) AccessList() types.AccessList {
	addrs := make([]common.Address, 0, len(e.accessedAddrs))
	for addr := range e.accessedAddrs {
		addrs = append(addrs, addr)
	}
	sortAddresses(addrs)
	out := make(types.AccessList, 0, len(addrs))
	for _, addr := range addrs {
		slots := make([]common.Hash, 0, len(e.accessedSlots[addr]))
		for slot := range e.accessedSlots[addr] {
			slots = append(slots, slot)
		}
		sortHashes(slots)
		out = append(out, types.AccessTuple{Address: addr, StorageKeys: slots})
	}
	return out
}

// Changes converts the overlay into a commit payload for MarketDB.
func (e *EvmDB) Changes() map[common.Address]*AccountChange {
	out := make(map[common.Address]*AccountChange, len(e.objects))
	for addr, obj := range e.objects {
		if !obj.exists && !obj.selfDestruct {
			continue
		}
		change := &AccountChange{Info: *obj.info.Copy(), SelfDestructed: obj.selfDestruct}
		if len(obj.storage) > 0 {
			change.Storage = make(map[common.Hash]common.Hash, len(obj.storage))
			for k, v := range obj.storage {
				change.Storage[k] = v
			}
		}
		out[addr] = change
	}
	return out
}
