package usb

import "github.com/Tavisco/palm-sync/wire"

// PortFunction is the function of a port in GetConnectionInfoResponse.
type PortFunction uint8

const (
	PortGeneric  PortFunction = 0x00
	PortDebugger PortFunction = 0x01
	PortHotSync  PortFunction = 0x02
	PortConsole  PortFunction = 0x03
	PortRemoteFS PortFunction = 0x04
)

var portFunctionEnum = wire.NewEnum("PortFunction", map[uint64]string{
	uint64(PortGeneric):  "GENERIC",
	uint64(PortDebugger): "DEBUGGER",
	uint64(PortHotSync):  "HOTSYNC",
	uint64(PortConsole):  "CONSOLE",
	uint64(PortRemoteFS): "REMOTE_FS",
})

func (f PortFunction) String() string {
	return portFunctionEnum.Name(uint64(f))
}

// maxPorts is the number of port entries in a connection info response.
const maxPorts = 2

// hotSyncCreator is the creator id of the port serving HotSync.
const hotSyncCreator = "sync"

var portInfoSchema = wire.NewSchema("ConnectionPortInfo",
	wire.Uint8("functionType").WithEnum(portFunctionEnum),
	wire.Uint8("portNumber"),
)

// ConnInfoSchema is the GET_CONNECTION_INFO response.
var ConnInfoSchema = wire.NewSchema("GetConnectionInfoResponse",
	wire.Uint16("numPorts").LE(),
	wire.Array("ports", wire.Struct("", portInfoSchema), maxPorts),
)

var extPortInfoSchema = wire.NewSchema("ExtConnectionPortInfo",
	wire.FixedString("type", 4),
	wire.Uint8("portNumber"),
	wire.Bitfield("endpoints", 1,
		wire.Bits{Name: "inEndpoint", Width: 4},
		wire.Bits{Name: "outEndpoint", Width: 4},
	),
	wire.Padding("padding", 2).LE(),
)

// ExtConnInfoSchema is the GET_EXT_CONNECTION_INFO response.
var ExtConnInfoSchema = wire.NewSchema("GetExtConnectionInfoResponse",
	wire.Uint8("numPorts"),
	wire.Uint8("hasDifferentEndpoints"),
	wire.Padding("padding", 2).LE(),
	wire.Array("ports", wire.Struct("", extPortInfoSchema), maxPorts),
)

// numBytesSchema is the GET_NUM_BYTES_AVAILABLE response.
var numBytesSchema = wire.NewSchema("GetNumBytesAvailableResponse",
	wire.Uint16("numBytes").LE(),
)
