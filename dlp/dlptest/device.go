// Package dlptest provides an in-memory DLP device for tests.
package dlptest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Tavisco/palm-sync/dlp"
	"github.com/Tavisco/palm-sync/transport"
	"github.com/Tavisco/palm-sync/wire"
)

// Database is a simulated device database.
type Database struct {
	Info    dlp.DBInfo
	Records []dlp.Record
}

// Device answers DLP requests from its in-memory state.
//
// The zero value is not usable; create devices with NewDevice.
type Device struct {
	mu        sync.Mutex
	user      dlp.UserInfo
	clock     time.Time
	dbs       []*Database
	open      map[uint8]*Database
	nextHnd   uint8
	log       []string
	ended     bool
	endCode   dlp.TermCode
	pageSize  int
	requests  []dlp.Opcode
	cancelled bool
}

// Option configures a Device.
type Option func(*Device)

// WithUser sets the device owner.
func WithUser(u dlp.UserInfo) Option {
	return func(d *Device) { d.user = u }
}

// WithDatabases replaces the default databases.
func WithDatabases(dbs ...*Database) Option {
	return func(d *Device) { d.dbs = dbs }
}

// WithPageSize sets the number of entries per ReadDBList response.
func WithPageSize(n int) Option {
	return func(d *Device) { d.pageSize = n }
}

// WithCancelledSync makes OpenConduit answer CANCEL_SYNC.
func WithCancelledSync() Option {
	return func(d *Device) { d.cancelled = true }
}

// NewDevice creates a device holding MemoDB and AddressDB unless
// WithDatabases says otherwise.
func NewDevice(opts ...Option) *Device {
	d := &Device{
		user:     dlp.UserInfo{UserID: 1, UserName: "Test User"},
		clock:    time.Date(2004, time.March, 1, 12, 30, 0, 0, time.Local),
		open:     make(map[uint8]*Database),
		nextHnd:  1,
		pageSize: 16,
		dbs: []*Database{
			MemoDB("Buy milk", "Call home\nabout dinner"),
			{Info: dlp.DBInfo{Type: "DATA", Creator: "addr", Name: "AddressDB", Version: 0}},
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	for i, db := range d.dbs {
		db.Info.Index = uint16(i) //nolint:gosec
	}

	return d
}

// MemoDB returns a MemoDB database holding one record per memo text.
func MemoDB(memos ...string) *Database {
	db := &Database{Info: dlp.DBInfo{Type: "DATA", Creator: "memo", Name: "MemoDB"}}
	for i, text := range memos {
		db.Records = append(db.Records, dlp.Record{
			ID:    uint32(0x100 + i), //nolint:gosec
			Index: uint16(i),         //nolint:gosec
			Data:  append([]byte(text), 0),
		})
	}

	return db
}

// SyncLog returns the entries written with AddSyncLogEntry.
func (d *Device) SyncLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]string(nil), d.log...)
}

// Ended reports whether EndOfSync was received and with which code.
func (d *Device) Ended() (bool, dlp.TermCode) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.ended, d.endCode
}

// Requests returns the opcodes received so far.
func (d *Device) Requests() []dlp.Opcode {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]dlp.Opcode(nil), d.requests...)
}

// OpenHandles returns the handles of databases left open.
func (d *Device) OpenHandles() []uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]uint8, 0, len(d.open))
	for h := range d.open {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// Execute implements dlp.Executor without a transport: the request is
// marshaled, handled and the response parsed, exercising the codec both ways.
func (d *Device) Execute(_ context.Context, req *dlp.Request) (*dlp.Response, error) {
	if req == nil || req.Command == nil {
		return nil, dlp.ErrNilRequest
	}
	data, err := req.Marshal()
	if err != nil {
		return nil, err
	}
	resp, err := d.Handle(data)
	if err != nil {
		return nil, err
	}

	return dlp.ParseResponse(req.Command, resp)
}

// Serve answers requests read from f until the context is done, the
// framer fails or EndOfSync has been answered.
func (d *Device) Serve(ctx context.Context, f transport.Framer) error {
	for {
		req, err := f.ReadMessage(ctx)
		if err != nil {
			return err
		}

		resp, err := d.Handle(req)
		if err != nil {
			return err
		}
		if err := f.WriteMessage(ctx, resp); err != nil {
			return err
		}

		if ended, _ := d.Ended(); ended {
			return nil
		}
	}
}

// Handle answers one raw request. Unknown opcodes are answered with
// ILLEGAL_REQUEST; malformed requests return an error.
func (d *Device) Handle(raw []byte) ([]byte, error) {
	op, args, err := dlp.ParseRequest(raw)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, op)

	cmd, err := dlp.Lookup(op)
	if err != nil {
		return dlp.MarshalStatus(op, dlp.StatusIllegalRequest), nil
	}

	recs, err := cmd.DecodeArgs(args)
	if err != nil {
		if errors.Is(err, dlp.ErrMissingArg) {
			return dlp.MarshalStatus(op, dlp.StatusArgMissing), nil
		}
		return dlp.MarshalStatus(op, dlp.StatusParam), nil
	}

	status, results := d.dispatch(cmd, recs)

	return cmd.MarshalResponse(status, results...)
}

func argRecord(recs []wire.Record) wire.Record {
	if len(recs) == 0 {
		return nil
	}

	return recs[0]
}

func (d *Device) dispatch(cmd *dlp.Command, recs []wire.Record) (dlp.Status, []wire.Record) {
	arg := argRecord(recs)

	switch cmd.Opcode {
	case dlp.OpReadUserInfo:
		return dlp.StatusOK, []wire.Record{{
			"userID":             d.user.UserID,
			"viewerID":           d.user.ViewerID,
			"lastSyncPC":         d.user.LastSyncPC,
			"successfulSyncDate": dlp.TimeRecord(d.user.LastSuccessfulSync),
			"lastSyncDate":       dlp.TimeRecord(d.user.LastSync),
			"userName":           d.user.UserName + "\x00",
			"password":           d.user.Password,
		}}

	case dlp.OpReadSysInfo:
		return dlp.StatusOK, []wire.Record{
			{"romVersion": uint32(0x04003000), "locale": uint32(0), "productID": []byte{0, 0, 0, 0}},
			{"dlpVersionMajor": 1, "dlpVersionMinor": 4, "compatVersionMajor": 1, "compatVersionMinor": 1, "maxRecordSize": uint32(0xFFFF)},
		}

	case dlp.OpGetSysDateTime:
		return dlp.StatusOK, []wire.Record{{"dateTime": dlp.TimeRecord(d.clock)}}

	case dlp.OpReadDBList:
		return d.readDBList(arg)

	case dlp.OpOpenDB:
		return d.openDB(arg)

	case dlp.OpCloseDB:
		h := uint8(arg.Uint("dbHandle")) //nolint:gosec
		if _, ok := d.open[h]; !ok {
			return dlp.StatusNoneOpen, nil
		}
		delete(d.open, h)
		return dlp.StatusOK, nil

	case dlp.OpReadOpenDBInfo:
		db, ok := d.open[uint8(arg.Uint("dbHandle"))] //nolint:gosec
		if !ok {
			return dlp.StatusNoneOpen, nil
		}
		return dlp.StatusOK, []wire.Record{{"numRecords": len(db.Records)}}

	case dlp.OpReadRecordIDList:
		return d.readRecordIDList(arg)

	case dlp.OpReadRecordByID:
		return d.readRecordByID(arg)

	case dlp.OpOpenConduit:
		if d.cancelled {
			return dlp.StatusCancelSync, nil
		}
		return dlp.StatusOK, nil

	case dlp.OpEndOfSync:
		d.ended = true
		d.endCode = dlp.TermCode(arg.Uint("termCode")) //nolint:gosec
		return dlp.StatusOK, nil

	case dlp.OpAddSyncLogEntry:
		d.log = append(d.log, arg.String("text"))
		return dlp.StatusOK, nil
	}

	return dlp.StatusNotSupported, nil
}

func (d *Device) readDBList(arg wire.Record) (dlp.Status, []wire.Record) {
	mode := dlp.DBListMode(arg.Uint("mode")) //nolint:gosec
	if mode&dlp.DBListRAM == 0 {
		return dlp.StatusNotFound, nil
	}
	start := int(arg.Uint("startIndex")) //nolint:gosec
	if start >= len(d.dbs) {
		return dlp.StatusNotFound, nil
	}

	n := 1
	if mode&dlp.DBListMultiple != 0 {
		n = d.pageSize
	}
	end := min(start+n, len(d.dbs))

	entries := make([]wire.Record, 0, end-start)
	for _, db := range d.dbs[start:end] {
		entries = append(entries, db.Info.Record())
	}

	var flags uint8
	if end < len(d.dbs) {
		flags = 0x80
	}

	return dlp.StatusOK, []wire.Record{{
		"lastIndex":    end - 1,
		"flags":        flags,
		"metadataList": entries,
	}}
}

func (d *Device) openDB(arg wire.Record) (dlp.Status, []wire.Record) {
	name := arg.String("name")
	for _, db := range d.dbs {
		if db.Info.Name != name {
			continue
		}
		for _, open := range d.open {
			if open == db {
				return dlp.StatusAlreadyOpen, nil
			}
		}
		h := d.nextHnd
		d.nextHnd++
		d.open[h] = db

		return dlp.StatusOK, []wire.Record{{"dbHandle": h}}
	}

	return dlp.StatusNotFound, nil
}

func (d *Device) readRecordIDList(arg wire.Record) (dlp.Status, []wire.Record) {
	db, ok := d.open[uint8(arg.Uint("dbHandle"))] //nolint:gosec
	if !ok {
		return dlp.StatusNoneOpen, nil
	}

	start := int(arg.Uint("startIndex"))    //nolint:gosec
	limit := int(arg.Uint("maxNumRecords")) //nolint:gosec
	ids := make([]uint32, 0, len(db.Records))
	for i := start; i < len(db.Records) && (limit == 0 || len(ids) < limit); i++ {
		ids = append(ids, db.Records[i].ID)
	}
	if len(ids) == 0 && start > 0 {
		return dlp.StatusNotFound, nil
	}

	return dlp.StatusOK, []wire.Record{{"recordIDs": ids}}
}

func (d *Device) readRecordByID(arg wire.Record) (dlp.Status, []wire.Record) {
	db, ok := d.open[uint8(arg.Uint("dbHandle"))] //nolint:gosec
	if !ok {
		return dlp.StatusNoneOpen, nil
	}

	id := uint32(arg.Uint("recordID")) //nolint:gosec
	for _, r := range db.Records {
		if r.ID != id {
			continue
		}

		return dlp.StatusOK, []wire.Record{{
			"recordID":   r.ID,
			"index":      r.Index,
			"length":     len(r.Data),
			"attributes": r.Attributes,
			"category":   r.Category,
			"data":       r.Data,
		}}
	}

	return dlp.StatusNotFound, nil
}

// String describes the device state for test failure messages.
func (d *Device) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return fmt.Sprintf("dlptest.Device{dbs: %d, open: %d, ended: %v}", len(d.dbs), len(d.open), d.ended)
}
