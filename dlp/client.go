package dlp

import (
	"context"
	"fmt"
	"time"

	"github.com/Tavisco/palm-sync/wire"
)

// Client is a typed front end for the DLP command catalog.
type Client struct {
	exec Executor
}

// NewClient creates a client executing requests through exec.
func NewClient(exec Executor) *Client {
	return &Client{exec: exec}
}

func (c *Client) call(ctx context.Context, cmd *Command, args ...wire.Record) (*Response, error) {
	return c.exec.Execute(ctx, cmd.NewRequest(args...))
}

func (c *Client) first(ctx context.Context, cmd *Command, args ...wire.Record) (wire.Record, error) {
	resp, err := c.call(ctx, cmd, args...)
	if err != nil {
		return nil, err
	}

	return resp.Result(0)
}

// ReadUserInfo reads the device owner and sync history.
func (c *Client) ReadUserInfo(ctx context.Context) (*UserInfo, error) {
	rec, err := c.first(ctx, ReadUserInfo)
	if err != nil {
		return nil, err
	}

	return &UserInfo{
		UserID:             uint32(rec.Uint("userID")),     //nolint:gosec
		ViewerID:           uint32(rec.Uint("viewerID")),   //nolint:gosec
		LastSyncPC:         uint32(rec.Uint("lastSyncPC")), //nolint:gosec
		LastSuccessfulSync: timeFromRecord(rec.Record("successfulSyncDate")),
		LastSync:           timeFromRecord(rec.Record("lastSyncDate")),
		UserName:           rec.String("userName"),
		Password:           rec.Bytes("password"),
	}, nil
}

// ReadSysInfo reads the device ROM and protocol versions.
func (c *Client) ReadSysInfo(ctx context.Context) (*SysInfo, error) {
	resp, err := c.call(ctx, ReadSysInfo, wire.Record{})
	if err != nil {
		return nil, err
	}
	rec, err := resp.Result(0)
	if err != nil {
		return nil, err
	}

	info := &SysInfo{
		ROMVersion: uint32(rec.Uint("romVersion")), //nolint:gosec
		Locale:     uint32(rec.Uint("locale")),     //nolint:gosec
		ProductID:  rec.Bytes("productID"),
	}
	if ver, err := resp.Result(1); err == nil {
		info.DLPMajor = uint16(ver.Uint("dlpVersionMajor"))       //nolint:gosec
		info.DLPMinor = uint16(ver.Uint("dlpVersionMinor"))       //nolint:gosec
		info.CompatMajor = uint16(ver.Uint("compatVersionMajor")) //nolint:gosec
		info.CompatMinor = uint16(ver.Uint("compatVersionMinor")) //nolint:gosec
		info.MaxRecordSize = uint32(ver.Uint("maxRecordSize"))    //nolint:gosec
	}

	return info, nil
}

// GetSysDateTime reads the device clock.
func (c *Client) GetSysDateTime(ctx context.Context) (time.Time, error) {
	rec, err := c.first(ctx, GetSysDateTime)
	if err != nil {
		return time.Time{}, err
	}

	return timeFromRecord(rec.Record("dateTime")), nil
}

// ReadDBList reads one page of the database list starting at startIndex.
func (c *Client) ReadDBList(ctx context.Context, mode DBListMode, cardNo uint8, startIndex uint16) (*DBList, error) {
	rec, err := c.first(ctx, ReadDBList, wire.Record{
		"mode":       uint8(mode),
		"cardNo":     cardNo,
		"startIndex": startIndex,
	})
	if err != nil {
		return nil, err
	}

	list := &DBList{
		LastIndex: uint16(rec.Uint("lastIndex")), //nolint:gosec
		More:      rec.Uint("flags")&dbListMoreFlag != 0,
	}
	for _, entry := range rec.Records("metadataList") {
		list.DBs = append(list.DBs, dbInfoFromRecord(entry))
	}

	return list, nil
}

// ListDBs reads the full database list, paging with ReadDBList until the
// device reports no more entries or answers NOT_FOUND.
func (c *Client) ListDBs(ctx context.Context, mode DBListMode, cardNo uint8) ([]DBInfo, error) {
	var (
		dbs   []DBInfo
		start uint16
	)

	for {
		page, err := c.ReadDBList(ctx, mode, cardNo, start)
		if IsStatus(err, StatusNotFound) {
			return dbs, nil
		}
		if err != nil {
			return dbs, err
		}

		dbs = append(dbs, page.DBs...)
		if !page.More || len(page.DBs) == 0 || mode&DBListMultiple == 0 {
			return dbs, nil
		}
		start = page.LastIndex + 1
	}
}

// OpenDB opens the named database and returns its handle.
func (c *Client) OpenDB(ctx context.Context, cardNo uint8, mode OpenMode, name string) (uint8, error) {
	rec, err := c.first(ctx, OpenDB, wire.Record{
		"cardNo": cardNo,
		"mode":   uint8(mode),
		"name":   name,
	})
	if err != nil {
		return 0, err
	}

	return uint8(rec.Uint("dbHandle")), nil //nolint:gosec
}

// CloseDB closes a database handle.
func (c *Client) CloseDB(ctx context.Context, handle uint8) error {
	_, err := c.call(ctx, CloseDB, wire.Record{"dbHandle": handle})
	return err
}

// ReadOpenDBInfo returns the number of records in an open database.
func (c *Client) ReadOpenDBInfo(ctx context.Context, handle uint8) (uint16, error) {
	rec, err := c.first(ctx, ReadOpenDBInfo, wire.Record{"dbHandle": handle})
	if err != nil {
		return 0, err
	}

	return uint16(rec.Uint("numRecords")), nil //nolint:gosec
}

// ReadRecordIDList returns up to max record ids starting at startIndex.
func (c *Client) ReadRecordIDList(ctx context.Context, handle uint8, startIndex, maxRecords uint16) ([]uint32, error) {
	rec, err := c.first(ctx, ReadRecordIDList, wire.Record{
		"dbHandle":      handle,
		"startIndex":    startIndex,
		"maxNumRecords": maxRecords,
	})
	if err != nil {
		return nil, err
	}

	ids := rec.Uints("recordIDs")
	out := make([]uint32, len(ids))
	for i, id := range ids {
		out[i] = uint32(id) //nolint:gosec
	}

	return out, nil
}

// ReadRecordByID reads a whole record.
func (c *Client) ReadRecordByID(ctx context.Context, handle uint8, id uint32) (*Record, error) {
	rec, err := c.first(ctx, ReadRecordByID, wire.Record{
		"dbHandle": handle,
		"recordID": id,
	})
	if err != nil {
		return nil, err
	}

	data := rec.Bytes("data")
	if n := int(rec.Uint("length")); n < len(data) { //nolint:gosec
		data = data[:n]
	}

	return &Record{
		ID:         uint32(rec.Uint("recordID")),  //nolint:gosec
		Index:      uint16(rec.Uint("index")),     //nolint:gosec
		Attributes: uint8(rec.Uint("attributes")), //nolint:gosec
		Category:   uint8(rec.Uint("category")),   //nolint:gosec
		Data:       data,
	}, nil
}

// OpenConduit tells the device a conduit is starting. The device shows
// the sync progress and may answer CANCEL_SYNC if the user aborted.
func (c *Client) OpenConduit(ctx context.Context) error {
	_, err := c.call(ctx, OpenConduit)
	return err
}

// EndOfSync ends the session. The device closes the link after answering.
func (c *Client) EndOfSync(ctx context.Context, code TermCode) error {
	_, err := c.call(ctx, EndOfSync, wire.Record{"termCode": uint16(code)})
	if err != nil {
		return fmt.Errorf("end of sync: %w", err)
	}

	return nil
}

// AddSyncLogEntry appends text to the device's HotSync log.
func (c *Client) AddSyncLogEntry(ctx context.Context, text string) error {
	_, err := c.call(ctx, AddSyncLogEntry, wire.Record{"text": text})
	return err
}
