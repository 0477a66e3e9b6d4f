package wasm

// Binary header
const (
	Magic   uint32 = 0x6D736100 // \0asm
	Version uint32 = 1
)

// Section IDs
const (
	SectionCustom   byte = 0
	SectionType     byte = 1
	SectionImport   byte = 2
	SectionFunction byte = 3
	SectionTable    byte = 4
	SectionMemory   byte = 5
	SectionGlobal   byte = 6
	SectionExport   byte = 7
	SectionStart    byte = 8
	SectionElement  byte = 9
	SectionCode     byte = 10
	SectionData     byte = 11
)

// Import/export kinds
const (
	KindFunc   byte = 0x00
	KindTable  byte = 0x01
	KindMemory byte = 0x02
	KindGlobal byte = 0x03
)

// Value types
const (
	ValI32 byte = 0x7F
	ValI64 byte = 0x7E
	ValF32 byte = 0x7D
	ValF64 byte = 0x7C
)

// FuncTypeByte prefixes every function type
const FuncTypeByte byte = 0x60

// Opcodes used by the code generator
const (
	OpUnreachable   byte = 0x00
	OpIf            byte = 0x04
	OpElse          byte = 0x05
	OpEnd           byte = 0x0B
	OpCall          byte = 0x10
	OpDrop          byte = 0x1A
	OpLocalGet      byte = 0x20
	OpLocalSet      byte = 0x21
	OpLocalTee      byte = 0x22
	OpGlobalGet     byte = 0x23
	OpGlobalSet     byte = 0x24
	OpI64Const      byte = 0x42
	OpI64Eqz        byte = 0x50
	OpI64Eq         byte = 0x51
	OpI64Ne         byte = 0x52
	OpI64LtS        byte = 0x53
	OpI64GtS        byte = 0x55
	OpI64LeS        byte = 0x57
	OpI64GeS        byte = 0x59
	OpI64Add        byte = 0x7C
	OpI64Sub        byte = 0x7D
	OpI64Mul        byte = 0x7E
	OpI64DivS       byte = 0x7F
	OpI64RemS       byte = 0x81
	OpI64ExtendI32U byte = 0xAD
)
