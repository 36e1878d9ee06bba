package instruction

import (
	"PredictionLedger/internal/keys"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Wire format: an 8-byte selector identifying the operation, the 32-byte
// signer, then the little-endian argument payload. Strings are u32
// length-prefixed; optional fields carry a 1-byte presence flag.

// SelectorSize is the fixed width of the operation prefix.
const SelectorSize = 8

// Maximum lengths enforced at decode time. Deeper validation (deadline
// ordering, fee bounds) belongs to the core.
const (
	MaxTitleLen       = 128
	MaxDescriptionLen = 512
)

// Selector computes the 8-byte operation prefix for a wire name.
func Selector(wireName string) [SelectorSize]byte {
	sum := sha256.Sum256([]byte("global:" + wireName))
	var sel [SelectorSize]byte
	copy(sel[:], sum[:SelectorSize])
	return sel
}

var selectorToKind = map[[SelectorSize]byte]Kind{}

func init() {
	kinds := []Kind{
		KindInitialize, KindUpdatePlatform,
		KindCreateEvent, KindCancelEvent,
		KindPlaceBet, KindResolveEvent,
		KindClaimWinnings, KindClaimRefund,
		KindDeposit, KindWithdrawFees,
	}
	for _, k := range kinds {
		selectorToKind[Selector(k.WireName())] = k
	}
}

// Encode serializes an instruction to its wire form.
// Submission metadata (idempotency key, source sequence, timestamp) is not
// part of the wire payload; it travels in the transport envelope.
func Encode(inst Instruction) ([]byte, error) {
	sel := Selector(inst.Kind().WireName())
	signer := inst.Signer()

	buf := make([]byte, 0, 64)
	buf = append(buf, sel[:]...)
	buf = append(buf, signer[:]...)

	switch i := inst.(type) {
	case *Initialize:
		buf = appendU16(buf, i.FeeBps)
		buf = append(buf, i.DoomMint[:]...)
		buf = append(buf, i.LifeMint[:]...)

	case *UpdatePlatform:
		if i.FeeBps != nil {
			buf = append(buf, 1)
			buf = appendU16(buf, *i.FeeBps)
		} else {
			buf = append(buf, 0)
		}
		if i.Oracle != nil {
			buf = append(buf, 1)
			buf = append(buf, i.Oracle[:]...)
		} else {
			buf = append(buf, 0)
		}
		if i.Paused != nil {
			buf = append(buf, 1)
			buf = appendBool(buf, *i.Paused)
		} else {
			buf = append(buf, 0)
		}

	case *CreateEvent:
		buf = appendU64(buf, i.ID)
		buf = appendString(buf, i.Title)
		buf = appendString(buf, i.Description)
		buf = appendU64(buf, uint64(i.BettingDeadline))
		buf = appendU64(buf, uint64(i.EventDeadline))
		buf = appendU64(buf, uint64(i.ResolutionDeadline))

	case *CancelEvent:
		buf = appendU64(buf, i.ID)

	case *PlaceBet:
		buf = appendU64(buf, i.ID)
		buf = append(buf, byte(i.Side))
		buf = appendU64(buf, i.Amount)

	case *ResolveEvent:
		buf = appendU64(buf, i.ID)
		buf = append(buf, byte(i.Outcome))

	case *ClaimWinnings:
		buf = appendU64(buf, i.ID)

	case *ClaimRefund:
		buf = appendU64(buf, i.ID)

	case *Deposit:
		buf = append(buf, byte(i.Token))
		buf = appendU64(buf, i.Amount)

	case *WithdrawFees:
		buf = append(buf, byte(i.Token))
		buf = appendU64(buf, i.Amount)

	default:
		return nil, fmt.Errorf("encode: unsupported instruction type %T", inst)
	}

	return buf, nil
}

// Decode parses wire bytes into a typed instruction. The returned
// instruction has no submission metadata; the caller sets it from the
// transport envelope.
func Decode(data []byte) (Instruction, error) {
	if len(data) < SelectorSize+32 {
		return nil, fmt.Errorf("decode: %d bytes is shorter than selector + signer", len(data))
	}

	var sel [SelectorSize]byte
	copy(sel[:], data[:SelectorSize])

	kind, ok := selectorToKind[sel]
	if !ok {
		return nil, fmt.Errorf("decode: unknown selector %x", sel)
	}

	r := &wireReader{data: data[SelectorSize:]}
	caller := r.address()

	var inst Instruction
	switch kind {
	case KindInitialize:
		inst = &Initialize{
			Caller:   caller,
			FeeBps:   r.u16(),
			DoomMint: r.address(),
			LifeMint: r.address(),
		}

	case KindUpdatePlatform:
		u := &UpdatePlatform{Caller: caller}
		if r.flag() {
			fee := r.u16()
			u.FeeBps = &fee
		}
		if r.flag() {
			oracle := r.address()
			u.Oracle = &oracle
		}
		if r.flag() {
			paused := r.boolean()
			u.Paused = &paused
		}
		inst = u

	case KindCreateEvent:
		c := &CreateEvent{Caller: caller}
		c.ID = r.u64()
		c.Title = r.str(MaxTitleLen)
		c.Description = r.str(MaxDescriptionLen)
		c.BettingDeadline = int64(r.u64())
		c.EventDeadline = int64(r.u64())
		c.ResolutionDeadline = int64(r.u64())
		inst = c

	case KindCancelEvent:
		inst = &CancelEvent{Caller: caller, ID: r.u64()}

	case KindPlaceBet:
		inst = &PlaceBet{
			Caller: caller,
			ID:     r.u64(),
			Side:   Outcome(r.byte()),
			Amount: r.u64(),
		}

	case KindResolveEvent:
		inst = &ResolveEvent{
			Caller:  caller,
			ID:      r.u64(),
			Outcome: Outcome(r.byte()),
		}

	case KindClaimWinnings:
		inst = &ClaimWinnings{Caller: caller, ID: r.u64()}

	case KindClaimRefund:
		inst = &ClaimRefund{Caller: caller, ID: r.u64()}

	case KindDeposit:
		inst = &Deposit{
			Caller: caller,
			Token:  Token(r.byte()),
			Amount: r.u64(),
		}

	case KindWithdrawFees:
		inst = &WithdrawFees{
			Caller: caller,
			Token:  Token(r.byte()),
			Amount: r.u64(),
		}
	}

	if r.err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, r.err)
	}
	if len(r.data) != r.pos {
		return nil, fmt.Errorf("decode %s: %d trailing bytes", kind, len(r.data)-r.pos)
	}

	return inst, nil
}

// --- little-endian append helpers ---

func appendU16(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}

func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func appendString(buf []byte, s string) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(len(s)))
	buf = append(buf, b[:]...)
	return append(buf, s...)
}

// wireReader decodes little-endian fields with a sticky error.
type wireReader struct {
	data []byte
	pos  int
	err  error
}

func (r *wireReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.data) {
		r.err = fmt.Errorf("truncated payload at offset %d (need %d bytes)", r.pos, n)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *wireReader) byte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *wireReader) flag() bool {
	return r.byte() == 1
}

func (r *wireReader) boolean() bool {
	return r.byte() != 0
}

func (r *wireReader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *wireReader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *wireReader) address() keys.Address {
	var addr keys.Address
	b := r.take(32)
	if b != nil {
		copy(addr[:], b)
	}
	return addr
}

func (r *wireReader) str(maxLen int) string {
	b := r.take(4)
	if b == nil {
		return ""
	}
	n := int(binary.LittleEndian.Uint32(b))
	if n > maxLen {
		r.err = fmt.Errorf("string length %d exceeds cap %d", n, maxLen)
		return ""
	}
	s := r.take(n)
	if s == nil {
		return ""
	}
	return string(s)
}
