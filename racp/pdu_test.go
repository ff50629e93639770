package racp

import (
	"bytes"
	"errors"
	"testing"

	"github.com/XC-/cgms/record"
)

func TestCommandBytes(t *testing.T) {
	cases := []struct {
		cmd  Command
		want []byte
	}{
		{NewCommand(OpReportStoredRecords, record.All), []byte{0x01, 0x01}},
		{NewCommand(OpDeleteStoredRecords, record.Filter{Op: record.OpLessOrEqual, Max: 0x0102}), []byte{0x02, 0x02, 0x01, 0x02, 0x01}},
		{NewCommand(OpReportNumberOfStoredRecords, record.Filter{Op: record.OpGreaterOrEqual, Min: 7}), []byte{0x04, 0x03, 0x01, 0x07, 0x00}},
		{NewCommand(OpReportStoredRecords, record.Filter{Op: record.OpWithinRange, Min: 1, Max: 3}), []byte{0x01, 0x04, 0x01, 0x01, 0x00, 0x03, 0x00}},
		{Command{Op: OpAbort}, []byte{0x03, 0x00}},
	}
	for _, tt := range cases {
		got := tt.cmd.Bytes()
		if !bytes.Equal(got, tt.want) {
			t.Errorf("Bytes(%v %v): got %x want %x", tt.cmd.Op, tt.cmd.Operator, got, tt.want)
		}
		back, err := ParseCommand(got)
		if err != nil || !bytes.Equal(back.Bytes(), got) {
			t.Errorf("ParseCommand(%x): got %+v, %v", got, back, err)
		}
	}
	if _, err := ParseCommand([]byte{0x01}); !errors.Is(err, ErrShort) {
		t.Errorf("ParseCommand(short): got %v want %v", err, ErrShort)
	}
}

func TestResultBytes(t *testing.T) {
	cases := []struct {
		res  Result
		want []byte
	}{
		{respond(OpReportStoredRecords, Success), []byte{0x06, 0x00, 0x01, 0x01}},
		{respond(OpDeleteStoredRecords, NoRecordsFound), []byte{0x06, 0x00, 0x02, 0x06}},
		{Result{Op: OpNumberOfStoredRecords, Request: OpReportNumberOfStoredRecords, Code: Success, Count: 300}, []byte{0x05, 0x00, 0x2C, 0x01}},
	}
	for _, tt := range cases {
		got := tt.res.Bytes()
		if !bytes.Equal(got, tt.want) {
			t.Errorf("Bytes(%+v): got %x want %x", tt.res, got, tt.want)
		}
		back, err := ParseResult(got)
		if err != nil || back != tt.res {
			t.Errorf("ParseResult(%x): got %+v, %v want %+v", got, back, err, tt.res)
		}
	}
	if _, err := ParseResult([]byte{0x01, 0x01, 0x00, 0x00}); !errors.Is(err, ErrUnexpected) {
		t.Errorf("ParseResult(command): got %v want %v", err, ErrUnexpected)
	}
}
