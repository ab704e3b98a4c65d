package packet

// Client → server opcodes.
const (
	C_OPCODE_AUTH         byte = 1 // [token\0]
	C_OPCODE_LIST         byte = 2
	C_OPCODE_ENABLE       byte = 3 // [name\0]
	C_OPCODE_DISABLE      byte = 4 // [name\0]
	C_OPCODE_SET_INTERVAL byte = 5 // [name\0][D interval ms]
	C_OPCODE_SET_RATE     byte = 6 // [name\0][source\0][D rate]
	C_OPCODE_RESET_TIMER  byte = 7 // [name\0]
	C_OPCODE_STATS        byte = 8
	C_OPCODE_QUIT         byte = 9
)

// Server → client opcodes.
const (
	S_OPCODE_OK       byte = 128 // [message\0]
	S_OPCODE_ERROR    byte = 129 // [message\0]
	S_OPCODE_SYSTEM   byte = 130 // one row of a LIST reply
	S_OPCODE_LIST_END byte = 131 // [D count]
	S_OPCODE_STATS    byte = 132
)
