package dlp

import (
	"time"

	"github.com/Tavisco/palm-sync/wire"
)

// DBInfo describes one database on the device.
type DBInfo struct {
	MiscFlags  uint8
	Attributes uint16
	Type       string
	Creator    string
	Version    uint16
	ModNum     uint32
	Created    time.Time
	Modified   time.Time
	Backup     time.Time
	Index      uint16
	Name       string
}

// DBList is one page of a ReadDBList response.
type DBList struct {
	LastIndex uint16
	More      bool
	DBs       []DBInfo
}

// Record is a database record read from the device.
type Record struct {
	ID         uint32
	Index      uint16
	Attributes uint8
	Category   uint8
	Data       []byte
}

// SysInfo describes the device's ROM and DLP versions.
type SysInfo struct {
	ROMVersion    uint32
	Locale        uint32
	ProductID     []byte
	DLPMajor      uint16
	DLPMinor      uint16
	CompatMajor   uint16
	CompatMinor   uint16
	MaxRecordSize uint32
}

// UserInfo describes the device's owner and sync history.
type UserInfo struct {
	UserID             uint32
	ViewerID           uint32
	LastSyncPC         uint32
	LastSuccessfulSync time.Time
	LastSync           time.Time
	UserName           string
	Password           []byte
}

// timeFromRecord converts a DLP date. Palm clocks have no time zone; the
// date is interpreted in time.Local. A zero year is the zero time.
func timeFromRecord(rec wire.Record) time.Time {
	year := int(rec.Uint("year"))
	if year == 0 {
		return time.Time{}
	}

	return time.Date(year, time.Month(rec.Uint("month")), int(rec.Uint("day")), //nolint:gosec
		int(rec.Uint("hour")), int(rec.Uint("minute")), int(rec.Uint("second")), 0, time.Local) //nolint:gosec
}

// TimeRecord converts t into a DLP date record.
func TimeRecord(t time.Time) wire.Record {
	if t.IsZero() {
		return wire.Record{}
	}
	t = t.In(time.Local)

	return wire.Record{
		"year":   t.Year(),
		"month":  int(t.Month()),
		"day":    t.Day(),
		"hour":   t.Hour(),
		"minute": t.Minute(),
		"second": t.Second(),
	}
}

func dbInfoFromRecord(rec wire.Record) DBInfo {
	return DBInfo{
		MiscFlags:  uint8(rec.Uint("miscFlags")), //nolint:gosec
		Attributes: uint16(rec.Uint("dbFlags")),  //nolint:gosec
		Type:       rec.String("type"),
		Creator:    rec.String("creator"),
		Version:    uint16(rec.Uint("version")), //nolint:gosec
		ModNum:     uint32(rec.Uint("modNum")),  //nolint:gosec
		Created:    timeFromRecord(rec.Record("crDate")),
		Modified:   timeFromRecord(rec.Record("modDate")),
		Backup:     timeFromRecord(rec.Record("backupDate")),
		Index:      uint16(rec.Uint("index")), //nolint:gosec
		Name:       rec.String("name"),
	}
}

// Record converts info into a ReadDBList entry record.
func (info *DBInfo) Record() wire.Record {
	return wire.Record{
		"miscFlags":  info.MiscFlags,
		"dbFlags":    info.Attributes,
		"type":       info.Type,
		"creator":    info.Creator,
		"version":    info.Version,
		"modNum":     info.ModNum,
		"crDate":     TimeRecord(info.Created),
		"modDate":    TimeRecord(info.Modified),
		"backupDate": TimeRecord(info.Backup),
		"index":      info.Index,
		"name":       info.Name,
	}
}
