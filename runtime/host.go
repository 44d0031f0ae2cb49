package runtime

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	contractvm "github.com/wippyai/contract-vm"
	"github.com/wippyai/contract-vm/engine"
	"github.com/wippyai/contract-vm/errors"
	"github.com/wippyai/contract-vm/gas"
	"github.com/wippyai/contract-vm/linker"
	"github.com/wippyai/contract-vm/resource"
)

// Result codes of the signature verification imports.
const (
	VerifyValid   = 0
	VerifyInvalid = 1
	VerifyError   = 2
)

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

func types(ts ...api.ValueType) []api.ValueType { return ts }

// hostFn implements one env import. A returned error aborts the call.
type hostFn func(ctx context.Context, env *Environment, stack []uint64) error

// bind adapts fn to wazero. The guest's gas is charged on entry and the
// meter's remaining gas handed back on exit.
func (r *Runtime) bind(fn hostFn) api.GoModuleFunc {
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		env := environmentFrom(ctx)
		if env == nil {
			panic(errors.NotInitialized(errors.PhaseHost, "environment"))
		}
		if err := env.syncIn(); err != nil {
			panic(err)
		}
		if err := env.charge(r.cfg.Costs.HostCall); err != nil {
			panic(err)
		}
		if err := fn(ctx, env, stack); err != nil {
			panic(err)
		}
		env.syncOut()
	}
}

// hostFuncs returns the env import table.
func (r *Runtime) hostFuncs() []engine.HostFunc {
	h := func(name string, c engine.Capability, params, results []api.ValueType, fn hostFn) engine.HostFunc {
		return engine.HostFunc{Name: name, Capability: c, Params: params, Results: results, Fn: r.bind(fn)}
	}
	iter := func(f engine.HostFunc) engine.HostFunc {
		f.Iterator = true
		return f
	}
	return []engine.HostFunc{
		h("db_read", engine.CapStorage, types(i32), types(i32), r.dbRead),
		h("db_write", engine.CapStorage, types(i32, i32), nil, r.dbWrite),
		h("db_remove", engine.CapStorage, types(i32), nil, r.dbRemove),
		iter(h("db_scan", engine.CapStorage, types(i32, i32, i32), types(i32), r.dbScan)),
		iter(h("db_next", engine.CapStorage, types(i32), types(i32), r.dbNext)),
		h("query_chain", engine.CapQuery, types(i32), types(i32), r.queryChain),
		h("addr_validate", engine.CapQuery, types(i32), types(i32), r.addrValidate),
		h("addr_canonicalize", engine.CapQuery, types(i32, i32), types(i32), r.addrCanonicalize),
		h("addr_humanize", engine.CapQuery, types(i32, i32), types(i32), r.addrHumanize),
		h("secp256k1_verify", engine.CapCrypto, types(i32, i32, i32), types(i32), r.secp256k1Verify),
		h("secp256k1_recover_pubkey", engine.CapCrypto, types(i32, i32, i32), types(i64), r.secp256k1Recover),
		h("ed25519_verify", engine.CapCrypto, types(i32, i32, i32), types(i32), r.ed25519Verify),
		h("debug", engine.CapDebug, types(i32), nil, r.debug),
		h("abort", engine.CapDebug, types(i32), nil, r.abort),
		h("get_caller_addr", engine.CapDynamicLink, nil, types(i32), r.getCallerAddr),
		h("validate_dynamic_link_interface", engine.CapDynamicLink, types(i32, i32), types(i32), r.validateInterface),
	}
}

func storageOf(env *Environment) (contractvm.Storage, error) {
	if env.backend.Storage == nil {
		return nil, errors.NotInitialized(errors.PhaseHost, "storage")
	}
	return env.backend.Storage, nil
}

// userErrorRegion returns the region pointer of a UserError message, or
// the collaborator error wrapped as a host error.
func userErrorRegion(ctx context.Context, env *Environment, op string, err error) (uint32, error) {
	var ue *contractvm.UserError
	if stderrors.As(err, &ue) {
		return env.put(ctx, []byte(ue.Msg))
	}
	return 0, errors.Host(op, err)
}

func (r *Runtime) dbRead(ctx context.Context, env *Environment, stack []uint64) error {
	st, err := storageOf(env)
	if err != nil {
		return err
	}
	key, err := env.read(uint32(stack[0]), MaxKeyLength)
	if err != nil {
		return err
	}
	if err := env.charge(r.cfg.Costs.StorageRead); err != nil {
		return err
	}
	value, err := st.Get(key)
	if err != nil {
		return errors.Host("db_read", err)
	}
	if value == nil {
		stack[0] = 0
		return nil
	}
	if err := env.charge(gas.PerByte(0, r.cfg.Costs.StorageReadPerByte, len(value))); err != nil {
		return err
	}
	ptr, err := env.put(ctx, value)
	stack[0] = uint64(ptr)
	return err
}

func (r *Runtime) checkWritable(env *Environment, op string) error {
	if env.readOnly {
		return errors.PermissionDenied(errors.PhaseHost,
			fmt.Sprintf("%s in read-only context of %q", op, env.address))
	}
	return nil
}

func (r *Runtime) dbWrite(_ context.Context, env *Environment, stack []uint64) error {
	if err := r.checkWritable(env, "db_write"); err != nil {
		return err
	}
	st, err := storageOf(env)
	if err != nil {
		return err
	}
	key, err := env.read(uint32(stack[0]), MaxKeyLength)
	if err != nil {
		return err
	}
	value, err := env.read(uint32(stack[1]), MaxValueLength)
	if err != nil {
		return err
	}
	if err := env.charge(gas.PerByte(r.cfg.Costs.StorageWrite, r.cfg.Costs.StorageWritePerByte, len(key)+len(value))); err != nil {
		return err
	}
	if err := st.Set(key, value); err != nil {
		return errors.Host("db_write", err)
	}
	return nil
}

func (r *Runtime) dbRemove(_ context.Context, env *Environment, stack []uint64) error {
	if err := r.checkWritable(env, "db_remove"); err != nil {
		return err
	}
	st, err := storageOf(env)
	if err != nil {
		return err
	}
	key, err := env.read(uint32(stack[0]), MaxKeyLength)
	if err != nil {
		return err
	}
	if err := env.charge(r.cfg.Costs.StorageRemove); err != nil {
		return err
	}
	if err := st.Delete(key); err != nil {
		return errors.Host("db_remove", err)
	}
	return nil
}

func (r *Runtime) dbScan(_ context.Context, env *Environment, stack []uint64) error {
	st, err := storageOf(env)
	if err != nil {
		return err
	}
	start, err := env.readOptional(uint32(stack[0]), MaxKeyLength)
	if err != nil {
		return err
	}
	end, err := env.readOptional(uint32(stack[1]), MaxKeyLength)
	if err != nil {
		return err
	}
	order := contractvm.Order(int32(uint32(stack[2])))
	if order != contractvm.Ascending && order != contractvm.Descending {
		return errors.InvalidInput(errors.PhaseHost, fmt.Sprintf("invalid iteration order %d", order))
	}
	it, err := st.Iterator(start, end, order)
	if err != nil {
		return errors.Host("db_scan", err)
	}
	h, err := env.iterators.Insert(typeIterator, it)
	if err != nil {
		_ = it.Close()
		return errors.Wrap(errors.PhaseHost, errors.KindInvalidInput, err, "db_scan")
	}
	stack[0] = uint64(h)
	return nil
}

// dbNext returns value || key || big-endian u32 key length, or an empty
// region once the iterator is exhausted.
func (r *Runtime) dbNext(ctx context.Context, env *Environment, stack []uint64) error {
	id := uint32(stack[0])
	v, ok := env.iterators.GetTyped(resource.Handle(id), typeIterator)
	if !ok {
		return errors.NotFound(errors.PhaseHost, "iterator", fmt.Sprint(id))
	}
	if err := env.charge(r.cfg.Costs.IteratorNext); err != nil {
		return err
	}
	key, value, more, err := v.(contractvm.Iterator).Next()
	if err != nil {
		return errors.Host("db_next", err)
	}
	var record []byte
	if more {
		record = make([]byte, 0, len(value)+len(key)+4)
		record = append(record, value...)
		record = append(record, key...)
		record = binary.BigEndian.AppendUint32(record, uint32(len(key)))
		if err := env.charge(gas.PerByte(0, r.cfg.Costs.StorageReadPerByte, len(key)+len(value))); err != nil {
			return err
		}
	}
	ptr, err := env.put(ctx, record)
	stack[0] = uint64(ptr)
	return err
}

func (r *Runtime) queryChain(ctx context.Context, env *Environment, stack []uint64) error {
	if env.backend.Querier == nil {
		return errors.NotInitialized(errors.PhaseHost, "querier")
	}
	req, err := env.read(uint32(stack[0]), MaxQueryLength)
	if err != nil {
		return err
	}
	resp, used, qerr := env.backend.Querier.Query(req, env.meter.Remaining())
	if err := env.charge(used); err != nil {
		return err
	}
	if qerr != nil {
		return errors.Host("query_chain", qerr)
	}
	ptr, err := env.put(ctx, resp)
	stack[0] = uint64(ptr)
	return err
}

func apiOf(env *Environment) (contractvm.AddressAPI, error) {
	if env.backend.API == nil {
		return nil, errors.NotInitialized(errors.PhaseHost, "address api")
	}
	return env.backend.API, nil
}

func (r *Runtime) addrValidate(ctx context.Context, env *Environment, stack []uint64) error {
	a, err := apiOf(env)
	if err != nil {
		return err
	}
	human, err := env.read(uint32(stack[0]), MaxHumanAddressLength)
	if err != nil {
		return err
	}
	if err := env.charge(r.cfg.Costs.AddrValidate); err != nil {
		return err
	}
	stack[0] = 0
	if verr := a.Validate(string(human)); verr != nil {
		ptr, err := userErrorRegion(ctx, env, "addr_validate", verr)
		stack[0] = uint64(ptr)
		return err
	}
	return nil
}

func (r *Runtime) addrCanonicalize(ctx context.Context, env *Environment, stack []uint64) error {
	a, err := apiOf(env)
	if err != nil {
		return err
	}
	human, err := env.read(uint32(stack[0]), MaxHumanAddressLength)
	if err != nil {
		return err
	}
	if err := env.charge(r.cfg.Costs.AddrCanonicalize); err != nil {
		return err
	}
	canonical, cerr := a.Canonicalize(string(human))
	if cerr != nil {
		ptr, err := userErrorRegion(ctx, env, "addr_canonicalize", cerr)
		stack[0] = uint64(ptr)
		return err
	}
	stack[0] = 0
	return env.write(uint32(stack[1]), canonical)
}

func (r *Runtime) addrHumanize(ctx context.Context, env *Environment, stack []uint64) error {
	a, err := apiOf(env)
	if err != nil {
		return err
	}
	canonical, err := env.read(uint32(stack[0]), MaxCanonicalAddressLength)
	if err != nil {
		return err
	}
	if err := env.charge(r.cfg.Costs.AddrHumanize); err != nil {
		return err
	}
	human, herr := a.Humanize(canonical)
	if herr != nil {
		ptr, err := userErrorRegion(ctx, env, "addr_humanize", herr)
		stack[0] = uint64(ptr)
		return err
	}
	stack[0] = 0
	return env.write(uint32(stack[1]), []byte(human))
}

func cryptoOf(env *Environment) (contractvm.Crypto, error) {
	if env.backend.Crypto == nil {
		return nil, errors.NotInitialized(errors.PhaseHost, "crypto")
	}
	return env.backend.Crypto, nil
}

// readAll reads one region per pointer.
func (e *Environment) readAll(limit uint32, ptrs ...uint64) ([][]byte, error) {
	out := make([][]byte, len(ptrs))
	for i, p := range ptrs {
		b, err := e.read(uint32(p), limit)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// verifyCode maps a verifier outcome to a result code.
func verifyCode(op string, ok bool, err error) (uint64, error) {
	if err != nil {
		var ue *contractvm.UserError
		if stderrors.As(err, &ue) {
			return VerifyError, nil
		}
		return 0, errors.Host(op, err)
	}
	if ok {
		return VerifyValid, nil
	}
	return VerifyInvalid, nil
}

func (r *Runtime) secp256k1Verify(_ context.Context, env *Environment, stack []uint64) error {
	c, err := cryptoOf(env)
	if err != nil {
		return err
	}
	in, err := env.readAll(MaxCryptoInputLength, stack[0], stack[1], stack[2])
	if err != nil {
		return err
	}
	if err := env.charge(r.cfg.Costs.Secp256k1Verify); err != nil {
		return err
	}
	ok, verr := c.Secp256k1Verify(in[0], in[1], in[2])
	stack[0], err = verifyCode("secp256k1_verify", ok, verr)
	return err
}

// secp256k1Recover returns the pubkey region pointer in the low 32 bits
// and an error code in the high 32 bits.
func (r *Runtime) secp256k1Recover(ctx context.Context, env *Environment, stack []uint64) error {
	c, err := cryptoOf(env)
	if err != nil {
		return err
	}
	in, err := env.readAll(MaxCryptoInputLength, stack[0], stack[1])
	if err != nil {
		return err
	}
	param := uint32(stack[2])
	if err := env.charge(r.cfg.Costs.Secp256k1Recover); err != nil {
		return err
	}
	if param > 1 {
		stack[0] = uint64(VerifyError) << 32
		return nil
	}
	pub, rerr := c.Secp256k1RecoverPubkey(in[0], in[1], byte(param))
	if rerr != nil {
		var ue *contractvm.UserError
		if !stderrors.As(rerr, &ue) {
			return errors.Host("secp256k1_recover_pubkey", rerr)
		}
		stack[0] = uint64(VerifyError) << 32
		return nil
	}
	ptr, err := env.put(ctx, pub)
	stack[0] = uint64(ptr)
	return err
}

func (r *Runtime) ed25519Verify(_ context.Context, env *Environment, stack []uint64) error {
	c, err := cryptoOf(env)
	if err != nil {
		return err
	}
	in, err := env.readAll(MaxCryptoInputLength, stack[0], stack[1], stack[2])
	if err != nil {
		return err
	}
	if err := env.charge(r.cfg.Costs.Ed25519Verify); err != nil {
		return err
	}
	ok, verr := c.Ed25519Verify(in[0], in[1], in[2])
	stack[0], err = verifyCode("ed25519_verify", ok, verr)
	return err
}

func (r *Runtime) debug(_ context.Context, env *Environment, stack []uint64) error {
	msg, err := env.read(uint32(stack[0]), MaxDebugLength)
	if err != nil {
		return err
	}
	if err := env.charge(r.cfg.Costs.Debug); err != nil {
		return err
	}
	level := zap.DebugLevel
	if r.cfg.PrintDebug {
		level = zap.InfoLevel
	}
	if ce := Logger().Check(level, "contract debug"); ce != nil {
		ce.Write(zap.String("address", env.address), zap.ByteString("message", msg))
	}
	return nil
}

func (r *Runtime) abort(_ context.Context, env *Environment, stack []uint64) error {
	msg, err := env.read(uint32(stack[0]), MaxDebugLength)
	if err != nil {
		return err
	}
	return errors.New(errors.PhaseRuntime, errors.KindTrap).
		Detail("contract %q aborted: %s", env.address, msg).
		Value(string(msg)).
		Build()
}

// getCallerAddr returns the address of the contract that called this one
// through a dynamic link, or the sender of a top-level call.
func (r *Runtime) getCallerAddr(ctx context.Context, env *Environment, stack []uint64) error {
	caller := env.sender
	if env.stack != nil {
		if frames := env.stack.Frames(); len(frames) > 1 {
			caller = frames[len(frames)-2].Address
		}
	}
	if caller == "" {
		stack[0] = 0
		return nil
	}
	ptr, err := env.put(ctx, []byte(caller))
	stack[0] = uint64(ptr)
	return err
}

// validateInterface returns 0 when the contract at the address region
// implements the JSON interface region, or an error message region.
func (r *Runtime) validateInterface(ctx context.Context, env *Environment, stack []uint64) error {
	addr, err := env.read(uint32(stack[0]), MaxHumanAddressLength)
	if err != nil {
		return err
	}
	raw, err := env.read(uint32(stack[1]), MaxInterfaceLength)
	if err != nil {
		return err
	}
	if err := env.charge(r.cfg.Costs.DynamicLink); err != nil {
		return err
	}
	stack[0] = 0
	expected, perr := linker.ParseInterface(raw)
	if perr == nil {
		perr = r.linker.ValidateInterface(ctx, string(addr), expected)
	}
	if perr == nil {
		return nil
	}
	switch errors.KindOf(perr) {
	case errors.KindValidation, errors.KindResolution, errors.KindInterfaceMismatch:
		ptr, err := env.put(ctx, []byte(perr.Error()))
		stack[0] = uint64(ptr)
		return err
	}
	return perr
}
