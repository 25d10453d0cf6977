package protocol

// Messages carried inside the reliable stream use Ping or Data as their
// 1-byte inner type.

// EncodeMessage frames a reliable message.
func EncodeMessage(t MessageType, payload []byte) []byte {
	msg := make([]byte, 0, 1+len(payload))
	msg = append(msg, byte(t))
	return append(msg, payload...)
}

// DecodeMessage splits a reliable message into its inner type and payload.
func DecodeMessage(msg []byte) (MessageType, []byte, error) {
	if len(msg) < 1 {
		return 0, nil, ErrTruncated
	}
	t := MessageType(msg[0])
	if t != Ping && t != Data {
		return 0, nil, ErrInvalidHeader
	}
	return t, msg[1:], nil
}
