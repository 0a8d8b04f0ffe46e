package dlp

import (
	"fmt"

	"github.com/Tavisco/palm-sync/wire"
)

// Opcode identifies a DLP function.
type Opcode uint8

const (
	OpReadUserInfo     Opcode = 0x10
	OpReadSysInfo      Opcode = 0x12
	OpGetSysDateTime   Opcode = 0x13
	OpReadDBList       Opcode = 0x16
	OpOpenDB           Opcode = 0x17
	OpCloseDB          Opcode = 0x19
	OpReadRecordByID   Opcode = 0x20
	OpAddSyncLogEntry  Opcode = 0x2A
	OpReadOpenDBInfo   Opcode = 0x2B
	OpOpenConduit      Opcode = 0x2E
	OpEndOfSync        Opcode = 0x2F
	OpReadRecordIDList Opcode = 0x31
)

func (op Opcode) String() string {
	if cmd, ok := commands[op]; ok {
		return cmd.Name
	}

	return fmt.Sprintf("Opcode(0x%02X)", uint8(op))
}

// DBListMode selects the databases returned by ReadDBList.
type DBListMode uint8

const (
	DBListRAM      DBListMode = 0x80
	DBListROM      DBListMode = 0x40
	DBListMultiple DBListMode = 0x20
)

// OpenMode is the access mode of OpenDB.
type OpenMode uint8

const (
	OpenRead      OpenMode = 0x80
	OpenWrite     OpenMode = 0x40
	OpenExclusive OpenMode = 0x20
	OpenSecret    OpenMode = 0x10
	OpenReadWrite          = OpenRead | OpenWrite
)

// TermCode is the reason passed to EndOfSync.
type TermCode uint16

const (
	TermNormal TermCode = iota
	TermOutOfMemory
	TermUserCancelled
	TermOther
)

var termCodeEnum = wire.NewEnum("TermCode", map[uint64]string{
	uint64(TermNormal):        "NORMAL",
	uint64(TermOutOfMemory):   "OUT_OF_MEMORY",
	uint64(TermUserCancelled): "USER_CANCELLED",
	uint64(TermOther):         "OTHER",
})

// dbListMoreFlag is set in a ReadDBList response when more databases follow.
const dbListMoreFlag = 0x80

// dateTimeSchema is the 8-byte DLP date: year, month, day, hour, minute,
// second, padding.
var dateTimeSchema = wire.NewSchema("DlpDateTime",
	wire.Uint16("year"),
	wire.Uint8("month"),
	wire.Uint8("day"),
	wire.Uint8("hour"),
	wire.Uint8("minute"),
	wire.Uint8("second"),
	wire.Padding("padding", 1),
)

// DBInfoSchema is one entry of a ReadDBList response.
var DBInfoSchema = wire.NewSchema("DlpDBInfo",
	wire.Uint8("miscFlags"),
	wire.Uint16("dbFlags"),
	wire.FixedString("type", 4),
	wire.FixedString("creator", 4),
	wire.Uint16("version"),
	wire.Uint32("modNum"),
	wire.Struct("crDate", dateTimeSchema),
	wire.Struct("modDate", dateTimeSchema),
	wire.Struct("backupDate", dateTimeSchema),
	wire.Uint16("index"),
	wire.RestString("name"),
)

func noArgs() []ArgSpec { return nil }

func arg(s *wire.Schema) []ArgSpec {
	return []ArgSpec{{ID: FirstArgID, Schema: s}}
}

// The command catalog.
var (
	ReadUserInfo = &Command{
		Name:   "ReadUserInfo",
		Opcode: OpReadUserInfo,
		Args:   noArgs(),
		Results: arg(wire.NewSchema("DlpReadUserInfoResp",
			wire.Uint32("userID"),
			wire.Uint32("viewerID"),
			wire.Uint32("lastSyncPC"),
			wire.Struct("successfulSyncDate", dateTimeSchema),
			wire.Struct("lastSyncDate", dateTimeSchema),
			wire.Uint8("userNameLength"),
			wire.Uint8("passwordLength"),
			wire.StringRef("userName", "userNameLength"),
			wire.BytesRef("password", "passwordLength"),
		)),
	}

	ReadSysInfo = &Command{
		Name:   "ReadSysInfo",
		Opcode: OpReadSysInfo,
		Args: []ArgSpec{{
			ID: FirstArgID,
			Schema: wire.NewSchema("DlpReadSysInfoReq",
				wire.Uint16("hostVersionMajor").WithDefault(1),
				wire.Uint16("hostVersionMinor").WithDefault(4),
			),
			Optional: true,
		}},
		Results: []ArgSpec{
			{ID: FirstArgID, Schema: wire.NewSchema("DlpReadSysInfoResp",
				wire.Uint32("romVersion"),
				wire.Uint32("locale"),
				wire.Padding("padding", 1),
				wire.Uint8("productIDLength"),
				wire.BytesRef("productID", "productIDLength"),
			)},
			{ID: FirstArgID + 1, Optional: true, Schema: wire.NewSchema("DlpReadSysInfoVersions",
				wire.Uint16("dlpVersionMajor"),
				wire.Uint16("dlpVersionMinor"),
				wire.Uint16("compatVersionMajor"),
				wire.Uint16("compatVersionMinor"),
				wire.Uint32("maxRecordSize"),
			)},
		},
	}

	GetSysDateTime = &Command{
		Name:    "GetSysDateTime",
		Opcode:  OpGetSysDateTime,
		Args:    noArgs(),
		Results: arg(wire.NewSchema("DlpGetSysDateTimeResp", wire.Struct("dateTime", dateTimeSchema))),
	}

	ReadDBList = &Command{
		Name:   "ReadDBList",
		Opcode: OpReadDBList,
		Args: arg(wire.NewSchema("DlpReadDBListReq",
			wire.Uint8("mode"),
			wire.Uint8("cardNo"),
			wire.Uint16("startIndex"),
		)),
		Results: arg(wire.NewSchema("DlpReadDBListResp",
			wire.Uint16("lastIndex"),
			wire.Uint8("flags"),
			wire.Uint8("count"),
			wire.ArrayRef("metadataList", wire.SizedStruct("entry", wire.Uint8("size"), DBInfoSchema), "count"),
		)),
	}

	OpenDB = &Command{
		Name:   "OpenDB",
		Opcode: OpOpenDB,
		Args: arg(wire.NewSchema("DlpOpenDBReq",
			wire.Uint8("cardNo"),
			wire.Uint8("mode"),
			wire.CString("name"),
		)),
		Results: arg(wire.NewSchema("DlpOpenDBResp", wire.Uint8("dbHandle"))),
	}

	CloseDB = &Command{
		Name:    "CloseDB",
		Opcode:  OpCloseDB,
		Args:    arg(wire.NewSchema("DlpCloseDBReq", wire.Uint8("dbHandle"))),
		Results: noArgs(),
	}

	ReadRecordByID = &Command{
		Name:   "ReadRecordByID",
		Opcode: OpReadRecordByID,
		Args: arg(wire.NewSchema("DlpReadRecordByIDReq",
			wire.Uint8("dbHandle"),
			wire.Padding("padding", 1),
			wire.Uint32("recordID"),
			wire.Uint16("offset"),
			wire.Uint16("maxLength").WithDefault(0xFFFF),
		)),
		Results: arg(wire.NewSchema("DlpReadRecordResp",
			wire.Uint32("recordID"),
			wire.Uint16("index"),
			wire.Uint16("length"),
			wire.Uint8("attributes"),
			wire.Uint8("category"),
			wire.RestBytes("data"),
		)),
	}

	AddSyncLogEntry = &Command{
		Name:    "AddSyncLogEntry",
		Opcode:  OpAddSyncLogEntry,
		Args:    arg(wire.NewSchema("DlpAddSyncLogEntryReq", wire.CString("text"))),
		Results: noArgs(),
	}

	ReadOpenDBInfo = &Command{
		Name:    "ReadOpenDBInfo",
		Opcode:  OpReadOpenDBInfo,
		Args:    arg(wire.NewSchema("DlpReadOpenDBInfoReq", wire.Uint8("dbHandle"))),
		Results: arg(wire.NewSchema("DlpReadOpenDBInfoResp", wire.Uint16("numRecords"))),
	}

	OpenConduit = &Command{
		Name:    "OpenConduit",
		Opcode:  OpOpenConduit,
		Args:    noArgs(),
		Results: noArgs(),
	}

	EndOfSync = &Command{
		Name:    "EndOfSync",
		Opcode:  OpEndOfSync,
		Args:    arg(wire.NewSchema("DlpEndOfSyncReq", wire.Uint16("termCode").WithEnum(termCodeEnum))),
		Results: noArgs(),
	}

	ReadRecordIDList = &Command{
		Name:   "ReadRecordIDList",
		Opcode: OpReadRecordIDList,
		Args: arg(wire.NewSchema("DlpReadRecordIDListReq",
			wire.Uint8("dbHandle"),
			wire.Uint8("flags"),
			wire.Uint16("startIndex"),
			wire.Uint16("maxNumRecords"),
		)),
		Results: arg(wire.NewSchema("DlpReadRecordIDListResp",
			wire.Uint16("numRecords"),
			wire.ArrayRef("recordIDs", wire.Uint32("recordID"), "numRecords"),
		)),
	}
)

var commands = map[Opcode]*Command{}

func init() {
	for _, cmd := range []*Command{
		ReadUserInfo, ReadSysInfo, GetSysDateTime, ReadDBList, OpenDB, CloseDB,
		ReadRecordByID, AddSyncLogEntry, ReadOpenDBInfo, OpenConduit, EndOfSync,
		ReadRecordIDList,
	} {
		commands[cmd.Opcode] = cmd
	}
}

// Lookup returns the catalog command with opcode op.
func Lookup(op Opcode) (*Command, error) {
	cmd, ok := commands[op]
	if !ok {
		return nil, fmt.Errorf("%w: opcode 0x%02X", ErrUnknownCommand, uint8(op))
	}

	return cmd, nil
}
