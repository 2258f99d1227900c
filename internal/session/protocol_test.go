package session

import (
	"bufio"
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, WriteFrame(w, 42, CmdLogin, []byte("hello")))

	r := bufio.NewReader(&buf)
	f, err := ReadFrame(r)
	require.NoError(t, err)
	require.Equal(t, uint64(42), f.Tag)
	require.Equal(t, CmdLogin, f.Kind)
	require.Equal(t, []byte("hello"), f.Body)
}

func TestReadFrameRejectsShortFrame(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	var lenBuf [4]byte
	lenBuf[0] = 3 // claims a 3-byte body, below the 9-byte tag+kind header
	_, err := w.Write(lenBuf[:])
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	_, err = ReadFrame(bufio.NewReader(&buf))
	require.Error(t, err)
}

func TestFieldWriterReaderRoundTrip(t *testing.T) {
	name := "Inbox"
	fw := NewFieldWriter().
		WriteUint32(7).
		WriteInt64(-12345).
		WriteByte(3).
		WriteString(&name).
		WriteString(nil).
		WriteBytes([]byte("payload"), false).
		WriteBytes(nil, true)

	fr := NewFieldReader(fw.Bytes())

	u, err := fr.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(7), u)

	i, err := fr.ReadInt64()
	require.NoError(t, err)
	require.Equal(t, int64(-12345), i)

	b, err := fr.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(3), b)

	s, err := fr.ReadString()
	require.NoError(t, err)
	require.Equal(t, name, *s)

	nilStr, err := fr.ReadString()
	require.NoError(t, err)
	require.Nil(t, nilStr)

	data, err := fr.ReadBytes()
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)

	nilData, err := fr.ReadBytes()
	require.NoError(t, err)
	require.Nil(t, nilData)
}

func TestReadUint32PastEndOfBufferFails(t *testing.T) {
	fr := NewFieldReader([]byte{1, 2})
	_, err := fr.ReadUint32()
	require.Error(t, err)
}

func TestWriteTimestampRoundTripsViaJulianDay(t *testing.T) {
	ts := time.Date(2026, time.March, 15, 13, 45, 30, 0, time.UTC)
	fw := NewFieldWriter().WriteTimestamp(ts)
	fr := NewFieldReader(fw.Bytes())

	jd, err := fr.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(julianDay(ts)), jd)

	msOfDay, err := fr.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32((13*3600+45*60+30)*1000), msOfDay)
}
