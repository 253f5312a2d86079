package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/halfwit/hircd/internal/model"
)

// maxFrameSize bounds how large a single frame's length prefix may claim
// to be, so a corrupt or hostile length field fails fast as a decode
// error instead of driving an unbounded allocation.
const maxFrameSize = 16 << 20

// WriteClientMsg encodes msg as a length-prefixed frame and writes it to
// w in a single call, so a concurrent writer on the same conn never sees
// a torn frame.
func WriteClientMsg(w io.Writer, msg ClientMsg) error {
	var e encoder
	e.writeByte(msg.clientMsgTag())

	switch m := msg.(type) {
	case Hello:
		e.writeUint64(uint64(m.ClientId))
		e.writeChannelIdSeq(m.AvailableChannels)
	case Subscriptions:
		e.writeUint32(uint32(len(m.Channels)))
		for id, data := range m.Channels {
			e.writeChannelId(id)
			e.writeChannelData(data)
		}
	case NewMessage:
		e.writeChannelId(m.Target)
		e.writeChannelMessage(m.Message)
	case NewTopic:
		e.writeChannelId(m.Target)
		e.writeChannelMessage(m.Message)
	case InitialTopic:
		e.writeChannelId(m.Target)
		e.writeString(m.Topic)
	default:
		return fmt.Errorf("wire: unknown ClientMsg %T", msg)
	}

	return writeFrame(w, e.buf.Bytes())
}

// ReadClientMsg reads and decodes one length-prefixed frame from r.
func ReadClientMsg(r io.Reader) (ClientMsg, error) {
	frame, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	d := decoder{r: bytes.NewReader(frame)}

	tag, err := d.readByte()
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagHello:
		clientId, err := d.readUint64()
		if err != nil {
			return nil, err
		}
		channels, err := d.readChannelIdSeq()
		if err != nil {
			return nil, err
		}
		return Hello{ClientId: model.ClientId(clientId), AvailableChannels: channels}, d.finish()

	case tagSubscriptions:
		count, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		channels := make(map[model.ChannelId]model.ChannelData, count)
		for i := uint32(0); i < count; i++ {
			id, err := d.readChannelId()
			if err != nil {
				return nil, err
			}
			data, err := d.readChannelData()
			if err != nil {
				return nil, err
			}
			channels[id] = data
		}
		return Subscriptions{Channels: channels}, d.finish()

	case tagNewMessage:
		target, err := d.readChannelId()
		if err != nil {
			return nil, err
		}
		msg, err := d.readChannelMessage()
		if err != nil {
			return nil, err
		}
		return NewMessage{Target: target, Message: msg}, d.finish()

	case tagNewTopic:
		target, err := d.readChannelId()
		if err != nil {
			return nil, err
		}
		msg, err := d.readChannelMessage()
		if err != nil {
			return nil, err
		}
		return NewTopic{Target: target, Message: msg}, d.finish()

	case tagInitialTopic:
		target, err := d.readChannelId()
		if err != nil {
			return nil, err
		}
		topic, err := d.readString()
		if err != nil {
			return nil, err
		}
		return InitialTopic{Target: target, Topic: topic}, d.finish()

	default:
		return nil, fmt.Errorf("wire: unknown ClientMsg tag %d", tag)
	}
}

// WriteDaemonRequest encodes req as a length-prefixed frame.
func WriteDaemonRequest(w io.Writer, req DaemonRequest) error {
	var e encoder
	e.writeUint64(uint64(req.SourceClient))
	e.writeByte(req.Msg.daemonMsgTag())

	switch m := req.Msg.(type) {
	case Subscribe:
		e.writeChannelIdSeq(m.RequestedChannels)
	case SendMessage:
		e.writeChannelId(m.Target)
		e.writeString(m.Text)
	case Goodbye:
		// no fields
	default:
		return fmt.Errorf("wire: unknown DaemonMsg %T", m)
	}

	return writeFrame(w, e.buf.Bytes())
}

// ReadDaemonRequest reads and decodes one length-prefixed frame from r.
// Malformed input is never partially decoded: any field error discards
// the whole frame and returns an error, which the caller treats as
// terminal for the session.
func ReadDaemonRequest(r io.Reader) (DaemonRequest, error) {
	frame, err := readFrame(r)
	if err != nil {
		return DaemonRequest{}, err
	}
	d := decoder{r: bytes.NewReader(frame)}

	sourceClient, err := d.readUint64()
	if err != nil {
		return DaemonRequest{}, err
	}
	tag, err := d.readByte()
	if err != nil {
		return DaemonRequest{}, err
	}

	var msg DaemonMsg
	switch tag {
	case tagSubscribe:
		channels, err := d.readChannelIdSeq()
		if err != nil {
			return DaemonRequest{}, err
		}
		msg = Subscribe{RequestedChannels: channels}
	case tagSendMessage:
		target, err := d.readChannelId()
		if err != nil {
			return DaemonRequest{}, err
		}
		text, err := d.readString()
		if err != nil {
			return DaemonRequest{}, err
		}
		msg = SendMessage{Target: target, Text: text}
	case tagGoodbye:
		msg = Goodbye{}
	default:
		return DaemonRequest{}, fmt.Errorf("wire: unknown DaemonMsg tag %d", tag)
	}

	if err := d.finish(); err != nil {
		return DaemonRequest{}, err
	}
	return DaemonRequest{SourceClient: model.ClientId(sourceClient), Msg: msg}, nil
}

// writeFrame writes a 4-byte big-endian length prefix followed by body.
func writeFrame(w io.Writer, body []byte) error {
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)
	_, err := w.Write(frame)
	return err
}

// readFrame reads a 4-byte big-endian length prefix and then exactly
// that many bytes.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds maximum", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// encoder appends fields to an in-memory buffer; the whole buffer becomes
// one frame's body.
type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) writeByte(b byte) {
	e.buf.WriteByte(b)
}

func (e *encoder) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) writeUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) writeString(s string) {
	e.writeUint32(uint32(len(s)))
	e.buf.WriteString(s)
}

func (e *encoder) writeTime(t time.Time) {
	e.writeString(t.Format(time.RFC3339Nano))
}

func (e *encoder) writeChannelId(id model.ChannelId) {
	e.writeString(string(id.Server))
	e.writeString(string(id.Channel))
}

func (e *encoder) writeChannelIdSeq(ids []model.ChannelId) {
	e.writeUint32(uint32(len(ids)))
	for _, id := range ids {
		e.writeChannelId(id)
	}
}

func (e *encoder) writeChannelMessage(m model.ChannelMessage) {
	e.writeByte(byte(m.Kind))
	e.writeString(m.Text)
	e.writeString(string(m.Author))
	e.writeTime(m.Timestamp)
}

func (e *encoder) writeChannelData(d model.ChannelData) {
	e.writeUint32(uint32(len(d.UserList)))
	for _, u := range d.UserList {
		e.writeString(string(u))
	}
	e.writeUint32(uint32(len(d.MessageLog)))
	for _, m := range d.MessageLog {
		e.writeChannelMessage(m)
	}
	e.writeString(d.Topic)
}

// decoder reads fields off a single frame's body. finish reports whether
// the frame was fully consumed, catching trailing-garbage frames that
// would otherwise silently decode as a truncated message.
type decoder struct {
	r *bytes.Reader
}

func (d *decoder) finish() error {
	if d.r.Len() != 0 {
		return fmt.Errorf("wire: %d trailing bytes in frame", d.r.Len())
	}
	return nil
}

func (d *decoder) readByte() (byte, error) {
	return d.r.ReadByte()
}

func (d *decoder) readUint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func (d *decoder) readUint64() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func (d *decoder) readString() (string, error) {
	n, err := d.readUint32()
	if err != nil {
		return "", err
	}
	if uint64(n) > uint64(d.r.Len()) {
		return "", fmt.Errorf("wire: string length %d exceeds remaining frame", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (d *decoder) readTime() (time.Time, error) {
	s, err := d.readString()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, s)
}

func (d *decoder) readChannelId() (model.ChannelId, error) {
	server, err := d.readString()
	if err != nil {
		return model.ChannelId{}, err
	}
	channel, err := d.readString()
	if err != nil {
		return model.ChannelId{}, err
	}
	return model.ChannelId{Server: model.ServerName(server), Channel: model.ChannelName(channel)}, nil
}

func (d *decoder) readChannelIdSeq() ([]model.ChannelId, error) {
	n, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	ids := make([]model.ChannelId, 0, n)
	for i := uint32(0); i < n; i++ {
		id, err := d.readChannelId()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (d *decoder) readChannelMessage() (model.ChannelMessage, error) {
	kind, err := d.readByte()
	if err != nil {
		return model.ChannelMessage{}, err
	}
	text, err := d.readString()
	if err != nil {
		return model.ChannelMessage{}, err
	}
	author, err := d.readString()
	if err != nil {
		return model.ChannelMessage{}, err
	}
	ts, err := d.readTime()
	if err != nil {
		return model.ChannelMessage{}, err
	}
	return model.ChannelMessage{
		Kind:      model.MessageKind(kind),
		Text:      text,
		Author:    model.UserName(author),
		Timestamp: ts,
	}, nil
}

func (d *decoder) readChannelData() (model.ChannelData, error) {
	userCount, err := d.readUint32()
	if err != nil {
		return model.ChannelData{}, err
	}
	users := make([]model.UserName, 0, userCount)
	for i := uint32(0); i < userCount; i++ {
		u, err := d.readString()
		if err != nil {
			return model.ChannelData{}, err
		}
		users = append(users, model.UserName(u))
	}

	msgCount, err := d.readUint32()
	if err != nil {
		return model.ChannelData{}, err
	}
	msgs := make([]model.ChannelMessage, 0, msgCount)
	for i := uint32(0); i < msgCount; i++ {
		m, err := d.readChannelMessage()
		if err != nil {
			return model.ChannelData{}, err
		}
		msgs = append(msgs, m)
	}

	topic, err := d.readString()
	if err != nil {
		return model.ChannelData{}, err
	}

	return model.ChannelData{UserList: users, MessageLog: msgs, Topic: topic}, nil
}
