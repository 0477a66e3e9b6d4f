package wasm

// Expr accumulates an instruction stream.
type Expr struct {
	w writer
}

// NewExpr creates an empty instruction stream.
func NewExpr() *Expr {
	return &Expr{}
}

// Bytes returns the encoded instructions.
func (e *Expr) Bytes() []byte {
	return e.w.buf
}

// Len returns the number of encoded bytes.
func (e *Expr) Len() int {
	return len(e.w.buf)
}

// Op appends opcodes with no immediates.
func (e *Expr) Op(ops ...byte) *Expr {
	e.w.bytes(ops)
	return e
}

// I64Const pushes a constant.
func (e *Expr) I64Const(v int64) *Expr {
	e.w.byte(OpI64Const)
	e.w.s64(v)
	return e
}

// LocalGet pushes local idx.
func (e *Expr) LocalGet(idx uint32) *Expr {
	e.w.byte(OpLocalGet)
	e.w.u32(idx)
	return e
}

// LocalSet pops into local idx.
func (e *Expr) LocalSet(idx uint32) *Expr {
	e.w.byte(OpLocalSet)
	e.w.u32(idx)
	return e
}

// LocalTee stores into local idx keeping the value on the stack.
func (e *Expr) LocalTee(idx uint32) *Expr {
	e.w.byte(OpLocalTee)
	e.w.u32(idx)
	return e
}

// GlobalGet pushes global idx.
func (e *Expr) GlobalGet(idx uint32) *Expr {
	e.w.byte(OpGlobalGet)
	e.w.u32(idx)
	return e
}

// GlobalSet pops into global idx.
func (e *Expr) GlobalSet(idx uint32) *Expr {
	e.w.byte(OpGlobalSet)
	e.w.u32(idx)
	return e
}

// Call invokes function idx.
func (e *Expr) Call(idx uint32) *Expr {
	e.w.byte(OpCall)
	e.w.u32(idx)
	return e
}

// IfI64 opens an if block producing one i64.
func (e *Expr) IfI64() *Expr {
	e.w.byte(OpIf)
	e.w.byte(ValI64)
	return e
}

// Append copies another stream onto this one.
func (e *Expr) Append(o *Expr) *Expr {
	e.w.bytes(o.Bytes())
	return e
}
