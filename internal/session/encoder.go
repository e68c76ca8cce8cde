package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strconv"
)

// Binary layout, version 1:
//
//	version(1) | userLen(1) | userID decimal | refreshHash(32) |
//	createdAt(8 BE) | expiresAt(8 BE) | ipLen(1) | ip | uaLen(1) | ua
//
// The user id and refresh hash sit at the front so the rotation Lua script
// can locate them with a single length byte. Changing this layout requires
// bumping the version here and in the script.
const formatVersion = 1

func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(formatVersion)

	uid := strconv.FormatInt(s.UserID, 10)
	buf.WriteByte(byte(len(uid)))
	buf.WriteString(uid)

	buf.Write(s.RefreshHash[:])

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	if len(s.IP) > 255 {
		return nil, errors.New("ip too long")
	}
	buf.WriteByte(byte(len(s.IP)))
	buf.WriteString(s.IP)

	if len(s.UserAgent) > 255 {
		return nil, errors.New("user agent too long")
	}
	buf.WriteByte(byte(len(s.UserAgent)))
	buf.WriteString(s.UserAgent)

	return buf.Bytes(), nil
}

func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != formatVersion {
		return nil, ErrCorrupt
	}

	s := &Session{}

	uidLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	uid := make([]byte, uidLen)
	if _, err := io.ReadFull(reader, uid); err != nil {
		return nil, err
	}
	s.UserID, err = strconv.ParseInt(string(uid), 10, 64)
	if err != nil {
		return nil, ErrCorrupt
	}

	if _, err := io.ReadFull(reader, s.RefreshHash[:]); err != nil {
		return nil, err
	}

	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}

	ipLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	ip := make([]byte, ipLen)
	if _, err := io.ReadFull(reader, ip); err != nil {
		return nil, err
	}
	s.IP = string(ip)

	uaLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	ua := make([]byte, uaLen)
	if _, err := io.ReadFull(reader, ua); err != nil {
		return nil, err
	}
	s.UserAgent = string(ua)

	return s, nil
}
