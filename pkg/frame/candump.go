package frame

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// FormatCandump renders a frame in the `candump -l` log format:
//
//	(1600000000.123456) can0 18FEF100#0011223344556677
func FormatCandump(network string, f *Frame) string {
	ts := f.Timestamp
	id := fmt.Sprintf("%03X", f.Identifier)
	if f.Extended {
		id = fmt.Sprintf("%08X", f.Identifier)
	}
	return fmt.Sprintf("(%d.%06d) %s %s#%s", ts.Unix(), ts.Nanosecond()/1000, network, id, strings.ToUpper(hex.EncodeToString(f.Data)))
}

// ParseCandump parses one line written by FormatCandump or candump -l.
func ParseCandump(line string) (string, *Frame, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return "", nil, errors.Wrapf(ErrMalformedLine, "%q", line)
	}
	ts, err := parseCandumpTime(fields[0])
	if err != nil {
		return "", nil, errors.Wrapf(ErrMalformedLine, "timestamp %q: %v", fields[0], err)
	}
	idStr, dataStr, ok := strings.Cut(fields[2], "#")
	if !ok {
		return "", nil, errors.Wrapf(ErrMalformedLine, "missing '#' in %q", fields[2])
	}
	id, err := strconv.ParseUint(idStr, 16, 32)
	if err != nil {
		return "", nil, errors.Wrapf(ErrMalformedLine, "identifier %q: %v", idStr, err)
	}
	data, err := hex.DecodeString(dataStr)
	if err != nil {
		return "", nil, errors.Wrapf(ErrMalformedLine, "data %q: %v", dataStr, err)
	}
	f := New(uint32(id), data, ts)
	f.Extended = len(idStr) > 3
	return fields[1], f, nil
}

func parseCandumpTime(s string) (time.Time, error) {
	if len(s) < 3 || s[0] != '(' || s[len(s)-1] != ')' {
		return time.Time{}, errors.New("not enclosed in parentheses")
	}
	secStr, fracStr, _ := strings.Cut(s[1:len(s)-1], ".")
	sec, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	var nsec int64
	if fracStr != "" {
		if len(fracStr) > 9 {
			fracStr = fracStr[:9]
		}
		nsec, err = strconv.ParseInt(fracStr+strings.Repeat("0", 9-len(fracStr)), 10, 64)
		if err != nil {
			return time.Time{}, err
		}
	}
	return time.Unix(sec, nsec), nil
}
