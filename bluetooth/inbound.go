package bluetooth

import "unicode/utf8"

// classifyInbound interprets raw inbound bytes for either role. It
// returns the peer-tagged log line to append and true, or "" and false
// when nothing should be appended: self-originated frames reflected back
// by a peer are discarded, and bytes that are neither a frame nor valid
// UTF-8 are logged by length only.
func classifyInbound(identity string, data []byte, s *Session) (string, bool) {
	if f := DecodeFrame(data); f != nil {
		if f.From == identity {
			s.logf("discarded self-echo: %s", FormatLine(*f))
			return "", false
		}
		s.logf("received %s", FormatLine(*f))
		return peerTag + f.Text, true
	}
	if utf8.Valid(data) {
		s.logf("undecodable frame, treating %d bytes as plain text", len(data))
		return peerTag + string(data), true
	}
	s.logf("undecodable payload of %d bytes", len(data))
	return "", false
}
