package marshal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// Type codes of the CPython marshal format.
const (
	typeNull          = '0'
	typeNone          = 'N'
	typeFalse         = 'F'
	typeTrue          = 'T'
	typeStopIter      = 'S'
	typeEllipsis      = '.'
	typeInt           = 'i'
	typeFloat         = 'f'
	typeBinaryFloat   = 'g'
	typeComplex       = 'x'
	typeBinaryComplex = 'y'
	typeLong          = 'l'
	typeString        = 's'
	typeInterned      = 't'
	typeRef           = 'r'
	typeTuple         = '('
	typeList          = '['
	typeDict          = '{'
	typeCode          = 'c'
	typeUnicode       = 'u'
	typeSet           = '<'
	typeFrozenSet     = '>'
	typeASCII         = 'a'
	typeASCIIInterned = 'A'
	typeSmallTuple    = ')'
	typeShortASCII    = 'z'
	typeShortASCIIInt = 'Z'
	typeSlice         = ':'

	flagRef = 0x80

	maxDepth = 2000
	// longDigitBase is PyLong_MARSHAL_BASE; every 15-bit digit must be below it.
	longDigitBase = 1 << 15
)

type kind uint8

const (
	kindPending kind = iota
	kindNull
	kindNone
	kindBool
	kindInt
	kindFloat
	kindComplex
	kindBytes
	kindStr
	kindTuple
	kindList
	kindDict
	kindSet
	kindCode
	kindSingleton
	kindSlice
)

var (
	errTruncated  = errors.New("truncated marshal data")
	errTooDeep    = errors.New("marshal data nested too deep")
	errNullObject = errors.New("NULL object in marshal data")
)

// layout is the field order of a serialized code object, which changed
// across interpreter releases.
type layout struct {
	name string
	// ints is the number of leading raw int32 fields before co_code.
	ints int
	// fields are the typed object fields between co_code and co_firstlineno.
	fields []kind
	// trailer are the typed object fields after co_firstlineno.
	trailer []kind
}

var (
	// 3.0 through 3.7: argcount kwonlyargcount nlocals stacksize flags.
	layout30 = layout{
		name:    "3.0",
		ints:    5,
		fields:  []kind{kindTuple, kindTuple, kindTuple, kindTuple, kindTuple, kindStr, kindStr},
		trailer: []kind{kindBytes},
	}
	// 3.8 through 3.10 add posonlyargcount.
	layout38 = layout{
		name:    "3.8",
		ints:    6,
		fields:  []kind{kindTuple, kindTuple, kindTuple, kindTuple, kindTuple, kindStr, kindStr},
		trailer: []kind{kindBytes},
	}
	// 3.11 onwards: localsplus replaces varnames/freevars/cellvars, plus
	// qualname and the exception table.
	layout311 = layout{
		name:    "3.11",
		ints:    5,
		fields:  []kind{kindTuple, kindTuple, kindTuple, kindBytes, kindStr, kindStr, kindStr},
		trailer: []kind{kindBytes, kindBytes},
	}
)

// reader walks one marshal object and reports how many bytes it spans.
type reader struct {
	data   []byte
	pos    int
	depth  int
	refs   []kind
	layout layout
}

func (r *reader) remaining() int { return len(r.data) - r.pos }

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, errTruncated
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) int32() (int32, error) {
	if r.remaining() < 4 {
		return 0, errTruncated
	}
	v := int32(binary.LittleEndian.Uint32(r.data[r.pos:]))
	r.pos += 4
	return v, nil
}

func (r *reader) skip(n int) error {
	if n < 0 || n > r.remaining() {
		return errTruncated
	}
	r.pos += n
	return nil
}

// size reads a non-negative int32 length that fits in what is left.
func (r *reader) size(minItem int) (int, error) {
	n, err := r.int32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("bad marshal data (negative size %d)", n)
	}
	if int(n)*minItem > r.remaining() {
		return 0, errTruncated
	}
	return int(n), nil
}

// object parses one object, including NULL, and returns its kind.
func (r *reader) object() (kind, error) {
	r.depth++
	defer func() { r.depth-- }()
	if r.depth > maxDepth {
		return 0, errTooDeep
	}

	code, err := r.byte()
	if err != nil {
		return 0, err
	}
	slot := -1
	if code&flagRef != 0 {
		slot = len(r.refs)
		r.refs = append(r.refs, kindPending)
	}
	k, err := r.body(code &^ flagRef)
	if err != nil {
		return 0, err
	}
	if slot >= 0 {
		if k == kindNull {
			return 0, errNullObject
		}
		r.refs[slot] = k
	}
	return k, nil
}

// item parses an object that must not be NULL.
func (r *reader) item() (kind, error) {
	k, err := r.object()
	if err != nil {
		return 0, err
	}
	if k == kindNull {
		return 0, errNullObject
	}
	return k, nil
}

func (r *reader) body(t byte) (kind, error) {
	switch t {
	case typeNull:
		return kindNull, nil
	case typeNone:
		return kindNone, nil
	case typeFalse, typeTrue:
		return kindBool, nil
	case typeStopIter, typeEllipsis:
		return kindSingleton, nil
	case typeInt:
		_, err := r.int32()
		return kindInt, err
	case typeLong:
		return kindInt, r.long()
	case typeFloat:
		return kindFloat, r.shortBlob()
	case typeBinaryFloat:
		return kindFloat, r.skip(8)
	case typeComplex:
		if err := r.shortBlob(); err != nil {
			return 0, err
		}
		return kindComplex, r.shortBlob()
	case typeBinaryComplex:
		return kindComplex, r.skip(16)
	case typeString:
		n, err := r.size(1)
		if err != nil {
			return 0, err
		}
		return kindBytes, r.skip(n)
	case typeUnicode:
		n, err := r.size(1)
		if err != nil {
			return 0, err
		}
		if !utf8.Valid(r.data[r.pos : r.pos+n]) {
			return 0, errors.New("bad marshal data (invalid utf-8)")
		}
		return kindStr, r.skip(n)
	case typeInterned, typeASCII, typeASCIIInterned:
		n, err := r.size(1)
		if err != nil {
			return 0, err
		}
		return kindStr, r.skip(n)
	case typeShortASCII, typeShortASCIIInt:
		return kindStr, r.shortBlob()
	case typeTuple:
		n, err := r.size(1)
		if err != nil {
			return 0, err
		}
		return kindTuple, r.items(n)
	case typeSmallTuple:
		n, err := r.byte()
		if err != nil {
			return 0, err
		}
		return kindTuple, r.items(int(n))
	case typeList:
		n, err := r.size(1)
		if err != nil {
			return 0, err
		}
		return kindList, r.items(n)
	case typeSet, typeFrozenSet:
		n, err := r.size(1)
		if err != nil {
			return 0, err
		}
		return kindSet, r.items(n)
	case typeDict:
		return kindDict, r.dict()
	case typeSlice:
		return kindSlice, r.items(3)
	case typeRef:
		n, err := r.int32()
		if err != nil {
			return 0, err
		}
		if n < 0 || int(n) >= len(r.refs) || r.refs[n] == kindPending {
			return 0, fmt.Errorf("bad marshal data (invalid reference %d)", n)
		}
		return r.refs[n], nil
	case typeCode:
		return kindCode, r.code()
	}
	return 0, fmt.Errorf("bad marshal data (unknown type code 0x%02x)", t)
}

func (r *reader) shortBlob() error {
	n, err := r.byte()
	if err != nil {
		return err
	}
	return r.skip(int(n))
}

func (r *reader) long() error {
	n, err := r.int32()
	if err != nil {
		return err
	}
	if n == math.MinInt32 {
		return errors.New("bad marshal data (long size out of range)")
	}
	digits := int(n)
	if digits < 0 {
		digits = -digits
	}
	if digits*2 > r.remaining() {
		return errTruncated
	}
	var last uint16
	for i := 0; i < digits; i++ {
		last = binary.LittleEndian.Uint16(r.data[r.pos:])
		r.pos += 2
		if last >= longDigitBase {
			return errors.New("bad marshal data (digit out of range in long)")
		}
	}
	if digits > 0 && last == 0 {
		return errors.New("bad marshal data (unnormalized long data)")
	}
	return nil
}

func (r *reader) items(n int) error {
	for i := 0; i < n; i++ {
		if _, err := r.item(); err != nil {
			return err
		}
	}
	return nil
}

func (r *reader) dict() error {
	for {
		k, err := r.object()
		if err != nil {
			return err
		}
		if k == kindNull {
			return nil
		}
		v, err := r.object()
		if err != nil {
			return err
		}
		if v == kindNull {
			return nil
		}
	}
}

func (r *reader) code() error {
	var ints [6]int32
	for i := 0; i < r.layout.ints; i++ {
		v, err := r.int32()
		if err != nil {
			return err
		}
		ints[i] = v
	}
	// Every leading count except flags must be non-negative.
	for i := 0; i < r.layout.ints-1; i++ {
		if ints[i] < 0 {
			return fmt.Errorf("bad code object (field %d is %d)", i, ints[i])
		}
	}

	if err := r.expect(kindBytes); err != nil {
		return fmt.Errorf("co_code: %w", err)
	}
	for i, want := range r.layout.fields {
		if err := r.expect(want); err != nil {
			return fmt.Errorf("code field %d: %w", i, err)
		}
	}
	if _, err := r.int32(); err != nil {
		return err
	}
	for i, want := range r.layout.trailer {
		if err := r.expect(want); err != nil {
			return fmt.Errorf("code trailer %d: %w", i, err)
		}
	}
	return nil
}

func (r *reader) expect(want kind) error {
	got, err := r.item()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("unexpected object kind %d, want %d", got, want)
	}
	return nil
}

// parseCode parses a top-level code object at the start of data under l and
// returns the number of bytes it spans.
func parseCode(data []byte, l layout) (int, error) {
	r := &reader{data: data, layout: l}
	k, err := r.object()
	if err != nil {
		return 0, err
	}
	if k != kindCode {
		return 0, fmt.Errorf("top-level object is not a code object (kind %d)", k)
	}
	return r.pos, nil
}
